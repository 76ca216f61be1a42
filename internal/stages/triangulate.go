package stages

import (
	"fmt"
	"strings"

	"github.com/go-lasr/lasr/internal/delaunay"
	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// Triangulate is the "triangulate" stage,
// grounded on original_source/src/triangulate.cpp's LASRtriangulate: it
// inserts every streamed point into a single incremental Delaunay mesh
// and exposes it to a connected stage (rasterize, transform_with) for
// interpolation.
type Triangulate struct {
	stage.Base

	UseAttribute string  `stage:"name=use_attribute"`
	TrimLen      float64 `stage:"name=trim"`

	tri *delaunay.Triangulation
}

// NewTriangulate is the registry factory for "triangulate".
func NewTriangulate() stage.Stage {
	return &Triangulate{Base: stage.NewBase("triangulate")}
}

func (t *Triangulate) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(t, attrs)
}

// NeedPoints is always true: even when triangulate feeds a connected
// rasterize in mesh mode (which forces the whole pipeline non-streamable
// and therefore loaded), the engine only materializes a chunk's point
// cloud for stages that ask for one.
func (t *Triangulate) NeedPoints() bool {
	return true
}

func (t *Triangulate) usesZAttribute() bool {
	return t.UseAttribute == "" || strings.EqualFold(t.UseAttribute, "z")
}

func (t *Triangulate) ProcessHeader(h *point.Header) error {
	if !t.usesZAttribute() && h.Schema.IndexOf(t.UseAttribute) == -1 {
		return fmt.Errorf("triangulate: no extrabyte attribute %q found", t.UseAttribute)
	}
	t.Header = *h
	t.tri = delaunay.NewEmpty(h.Bbox, delaunay.StrategyDAGWalk)
	return nil
}

func (t *Triangulate) resolveZ(p *point.Point) (float64, bool) {
	if t.usesZAttribute() {
		return p.Z, true
	}
	idx := t.Header.Schema.IndexOf(t.UseAttribute)
	if idx < 0 || idx >= len(p.Extra) {
		return 0, false
	}
	return p.Extra[idx], true
}

func (t *Triangulate) ProcessPoint(p *point.Point) (stage.BreakSignal, error) {
	if !t.KeepPoint(p) {
		return stage.Continue, nil
	}
	z, ok := t.resolveZ(p)
	if !ok {
		return stage.Continue, nil
	}
	t.tri.InsertZ(geom.PointXY{X: p.X, Y: p.Y}, z)
	return stage.Continue, nil
}

func (t *Triangulate) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	for i := range pts {
		if _, err := t.ProcessPoint(&pts[i]); err != nil {
			return stage.Continue, err
		}
	}
	return stage.Continue, nil
}

// InterpolateCells fills each cell's Z by barycentric interpolation over
// the current mesh, using this stage's own trim length. Reports
// false if no mesh has been built yet.
func (t *Triangulate) InterpolateCells(cells []delaunay.RasterCell) bool {
	if t.tri == nil {
		return false
	}
	t.tri.Interpolate(cells, t.TrimLen*t.TrimLen)
	return true
}

func (t *Triangulate) Clone() stage.Stage {
	return &Triangulate{Base: t.CloneBase(), UseAttribute: t.UseAttribute, TrimLen: t.TrimLen}
}

// Merge keeps the worker's mesh as the master's. A triangulate stage
// builds one mesh per chunk it is given; the primary use case is a
// single whole-catalog chunk, so there is normally exactly one worker
// mesh to keep.
func (t *Triangulate) Merge(other stage.Stage) error {
	o, ok := other.(*Triangulate)
	if !ok {
		return fmt.Errorf("triangulate: Merge expects *Triangulate, got %T", other)
	}
	if o.tri != nil {
		t.tri = o.tri
	}
	return nil
}
