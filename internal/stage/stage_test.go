package stage

import (
	"testing"

	"github.com/go-lasr/lasr/internal/filter"
	"github.com/go-lasr/lasr/internal/point"
)

func TestNewBaseAssignsUID(t *testing.T) {
	a := NewBase("rasterize")
	b := NewBase("rasterize")
	if a.UID() == "" {
		t.Fatalf("NewBase did not assign a uid")
	}
	if a.UID() == b.UID() {
		t.Errorf("two NewBase calls produced the same uid")
	}
	if a.Name() != "rasterize" {
		t.Errorf("Name() = %q, want rasterize", a.Name())
	}
}

func TestSetUIDOverridesGenerated(t *testing.T) {
	b := NewBase("write_las")
	b.SetUID("abc123def456")
	if b.UID() != "abc123def456" {
		t.Errorf("UID() = %q, want abc123def456", b.UID())
	}
}

func TestSetFilterParsesExpression(t *testing.T) {
	b := NewBase("write_las")
	if err := b.SetFilter("-keep_class 2 6"); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if b.FilterExpr == nil {
		t.Fatalf("FilterExpr not set")
	}

	p := &point.Point{Classification: 2}
	if !b.KeepPoint(p) {
		t.Errorf("expected class 2 point to be kept")
	}
	p.Classification = 9
	if b.KeepPoint(p) {
		t.Errorf("expected class 9 point to be dropped")
	}
}

func TestSetFilterRejectsBadExpression(t *testing.T) {
	b := NewBase("write_las")
	if err := b.SetFilter("-keep_not_a_real_thing"); err == nil {
		t.Errorf("expected an error for an unrecognised filter token")
	}
}

func TestKeepPointWithNoFilterKeepsEverything(t *testing.T) {
	b := NewBase("write_las")
	if !b.KeepPoint(&point.Point{Classification: 255}) {
		t.Errorf("a stage with no filter must keep every point")
	}
}

func TestPerChunkOutput(t *testing.T) {
	b := NewBase("write_las")
	b.SetOutputFile("output/tile.las")
	if b.PerChunkOutput() {
		t.Errorf("template without '*' should not be per-chunk")
	}
	b.SetOutputFile("output/*.las")
	if !b.PerChunkOutput() {
		t.Errorf("template with '*' should be per-chunk")
	}
}

func TestCloneBasePreservesIdentityDropsChunk(t *testing.T) {
	b := NewBase("write_las")
	b.SetFilter("-keep_class 2")
	b.SetOutputFile("out/*.las")

	clone := b.CloneBase()
	if clone.UID() != b.UID() {
		t.Errorf("clone uid = %q, want %q (clones share identity until merged)", clone.UID(), b.UID())
	}
	if clone.FilterExpr != b.FilterExpr {
		t.Errorf("clone should share the parsed filter chain")
	}
	if clone.OutputTmpl != b.OutputTmpl {
		t.Errorf("clone should carry the output template")
	}
}

func TestPointAccessorMapsAttributes(t *testing.T) {
	p := &point.Point{
		X: 1, Y: 2, Z: 3,
		Intensity:       100,
		ReturnNumber:    1,
		NumberOfReturns: 2,
		Classification:  6,
		PointSourceID:   7,
		GPSTime:         123.5,
		ScanAngle:       -12,
		UserData:        9,
	}
	get := pointAccessor(p)

	cases := []struct {
		attr filter.Attribute
		want float64
	}{
		{filter.AttrX, 1},
		{filter.AttrY, 2},
		{filter.AttrZ, 3},
		{filter.AttrIntensity, 100},
		{filter.AttrReturn, 1},
		{filter.AttrNumberOfReturn, 2},
		{filter.AttrClass, 6},
		{filter.AttrPointSourceID, 7},
		{filter.AttrGPSTime, 123.5},
		{filter.AttrScanAngle, -12},
		{filter.AttrUserData, 9},
	}
	for _, c := range cases {
		got, ok := get(c.attr)
		if !ok {
			t.Errorf("accessor returned ok=false for %v", c.attr)
			continue
		}
		if got != c.want {
			t.Errorf("accessor(%v) = %v, want %v", c.attr, got, c.want)
		}
	}

	if _, ok := get(filter.Attribute("bogus")); ok {
		t.Errorf("expected ok=false for an unrecognised attribute")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("rasterize", func() Stage { return &fakeStage{Base: NewBase("rasterize")} })

	s, err := r.New("rasterize")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "rasterize" {
		t.Errorf("instantiated stage name = %q, want rasterize", s.Name())
	}

	if _, err := r.New("does_not_exist"); err == nil {
		t.Errorf("expected an error for an unregistered algoname")
	}
}

type fakeStageConfig struct {
	Resolution float64 `stage:"name=res,required"`
	Method     string  `stage:"name=method"`
	Classes    []any   `stage:"name=classes"`
}

func TestBindAttributes(t *testing.T) {
	cfg := fakeStageConfig{}
	err := BindAttributes(&cfg, map[string]any{
		"res":     2.5,
		"method":  "tin",
		"classes": []any{2.0, 6.0},
	})
	if err != nil {
		t.Fatalf("BindAttributes: %v", err)
	}
	if cfg.Resolution != 2.5 {
		t.Errorf("Resolution = %v, want 2.5", cfg.Resolution)
	}
	if cfg.Method != "tin" {
		t.Errorf("Method = %q, want tin", cfg.Method)
	}
	if len(cfg.Classes) != 2 {
		t.Errorf("Classes = %v, want 2 entries", cfg.Classes)
	}
}

func TestBindAttributesMissingRequired(t *testing.T) {
	cfg := fakeStageConfig{}
	err := BindAttributes(&cfg, map[string]any{"method": "tin"})
	if err == nil {
		t.Errorf("expected an error when a required attribute is absent")
	}
}

func TestBindAttributesRejectsNonPointer(t *testing.T) {
	cfg := fakeStageConfig{}
	if err := BindAttributes(cfg, map[string]any{}); err == nil {
		t.Errorf("expected an error when dst is not a pointer")
	}
}

// fakeStage is a minimal Stage used only to exercise Registry in tests.
type fakeStage struct {
	Base
}

func (f *fakeStage) Clone() Stage {
	c := &fakeStage{Base: f.CloneBase()}
	return c
}

func (f *fakeStage) Merge(Stage) error { return nil }
