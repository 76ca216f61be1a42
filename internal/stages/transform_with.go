package stages

import (
	"fmt"
	"strings"

	"github.com/go-lasr/lasr/internal/delaunay"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// TransformWith is the "transform_with" stage: it adds or
// subtracts a connected raster's or triangulation's value at each
// point's (x,y), either back into Z or into a named extra attribute.
// Grounded on original_source/src/transformwith.cpp's LASRtransformwith,
// whose dynamic_cast dispatch between a triangulate and a raster source
// this package's UpdateConnection type-switch mirrors.
type TransformWith struct {
	stage.Base

	Operation string `stage:"name=op"`
	StoreAs   string `stage:"name=store_as"`

	raster rasterSampler
	mesh   zInterpolator
}

// NewTransformWith is the registry factory for "transform_with".
func NewTransformWith() stage.Stage {
	return &TransformWith{Base: stage.NewBase("transform_with"), Operation: "subtract"}
}

func (t *TransformWith) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(t, attrs)
}

func (t *TransformWith) UpdateConnection(stages map[string]stage.Stage) {
	for _, s := range stages {
		if zi, ok := s.(zInterpolator); ok {
			t.mesh = zi
		}
		if rs, ok := s.(rasterSampler); ok {
			t.raster = rs
		}
	}
}

func (t *TransformWith) sourceValue(x, y float64) (float64, bool) {
	if t.mesh != nil {
		cells := []delaunay.RasterCell{{X: x, Y: y}}
		if !t.mesh.InterpolateCells(cells) || cells[0].Z == nil {
			return 0, false
		}
		return *cells[0].Z, true
	}
	if t.raster != nil {
		v, ok := t.raster.RasterAt(x, y)
		return float64(v), ok
	}
	return 0, false
}

func (t *TransformWith) combine(z, v float64) float64 {
	if strings.EqualFold(t.Operation, "add") {
		return z + v
	}
	return z - v
}

// apply computes the transformed value for p and either writes it back
// to Z or into the extra attribute named by StoreAs. ok is false when no
// connected source covers (p.X, p.Y).
func (t *TransformWith) apply(p *point.Point) (ok bool, err error) {
	v, found := t.sourceValue(p.X, p.Y)
	if !found {
		return false, nil
	}
	result := t.combine(p.Z, v)
	if t.StoreAs == "" {
		p.Z = result
		return true, nil
	}
	idx := t.Header.Schema.IndexOf(t.StoreAs)
	if idx < 0 || idx >= len(p.Extra) {
		return false, fmt.Errorf("transform_with: no extrabyte attribute %q to store the result in", t.StoreAs)
	}
	p.Extra[idx] = result
	return true, nil
}

// ProcessPoint runs in streamed mode: a missing source value breaks the
// per-point stage walk, dropping the point from every stage (e.g. a
// writer) that follows transform_with in the pipeline's declared order.
func (t *TransformWith) ProcessPoint(p *point.Point) (stage.BreakSignal, error) {
	if !t.KeepPoint(p) {
		return stage.Continue, nil
	}
	ok, err := t.apply(p)
	if err != nil {
		return stage.Continue, err
	}
	if !ok {
		return stage.Break, nil
	}
	return stage.Continue, nil
}

// ProcessPointCloud runs in loaded mode. The engine passes every stage
// the same backing slice rather than a per-stage filtered copy, so a
// missing source value here cannot remove the point for stages that run
// after transform_with the way ProcessPoint's Break signal does in
// streamed mode; such points are left untouched, which keeps their
// original Z and any unset extra attribute rather than silently forging
// a geometry. Pipelines relying on transform_with's drop semantics
// should keep the reader-plus-transform portion streamable.
func (t *TransformWith) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	for i := range pts {
		p := &pts[i]
		if !t.KeepPoint(p) {
			continue
		}
		if _, err := t.apply(p); err != nil {
			return stage.Continue, err
		}
	}
	return stage.Continue, nil
}

func (t *TransformWith) Clone() stage.Stage {
	return &TransformWith{Base: t.CloneBase(), Operation: t.Operation, StoreAs: t.StoreAs}
}

func (t *TransformWith) Merge(stage.Stage) error { return nil }
