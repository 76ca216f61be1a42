package stages

import (
	"testing"

	"github.com/go-lasr/lasr/internal/delaunay"
	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/point"
)

func flatSquarePoints() []point.Point {
	return []point.Point{
		{X: 0, Y: 0, Z: 1},
		{X: 10, Y: 0, Z: 1},
		{X: 10, Y: 10, Z: 1},
		{X: 0, Y: 10, Z: 1},
		{X: 5, Y: 5, Z: 1},
	}
}

func TestTriangulateInterpolatesFlatSurface(t *testing.T) {
	tr := NewTriangulate().(*Triangulate)
	tr.TrimLen = 100

	h := &point.Header{Bbox: geom.NewRectangle(0, 0, 10, 10)}
	if err := tr.ProcessHeader(h); err != nil {
		t.Fatalf("ProcessHeader: %v", err)
	}

	if _, err := tr.ProcessPointCloud(flatSquarePoints()); err != nil {
		t.Fatalf("ProcessPointCloud: %v", err)
	}

	z := 0.0
	cells := []delaunay.RasterCell{{X: 4, Y: 4, Z: &z}}
	if ok := tr.InterpolateCells(cells); !ok {
		t.Fatal("expected InterpolateCells to report a built mesh")
	}
	if z != 1 {
		t.Fatalf("expected interpolated Z 1 on a flat surface, got %v", z)
	}
}

func TestTriangulateInterpolateCellsWithoutMeshFails(t *testing.T) {
	tr := NewTriangulate().(*Triangulate)
	z := 0.0
	ok := tr.InterpolateCells([]delaunay.RasterCell{{X: 0, Y: 0, Z: &z}})
	if ok {
		t.Fatal("expected InterpolateCells to fail before ProcessHeader builds a mesh")
	}
}

func TestTriangulateUsesExtraAttributeAsZ(t *testing.T) {
	tr := NewTriangulate().(*Triangulate)
	tr.UseAttribute = "height"
	tr.TrimLen = 100

	h := &point.Header{
		Bbox:   geom.NewRectangle(0, 0, 10, 10),
		Schema: point.Schema{Extra: []point.ExtraAttr{{Name: "height", Kind: point.AttrFloat64}}},
	}
	if err := tr.ProcessHeader(h); err != nil {
		t.Fatalf("ProcessHeader: %v", err)
	}

	pts := flatSquarePoints()
	for i := range pts {
		pts[i].Extra = []float64{7}
	}
	if _, err := tr.ProcessPointCloud(pts); err != nil {
		t.Fatalf("ProcessPointCloud: %v", err)
	}

	z := 0.0
	cells := []delaunay.RasterCell{{X: 4, Y: 4, Z: &z}}
	if ok := tr.InterpolateCells(cells); !ok {
		t.Fatal("expected InterpolateCells to report a built mesh")
	}
	if z != 7 {
		t.Fatalf("expected interpolated Z 7 from the extra attribute, got %v", z)
	}
}

func TestTriangulateProcessHeaderRejectsUnknownAttribute(t *testing.T) {
	tr := NewTriangulate().(*Triangulate)
	tr.UseAttribute = "missing"

	h := &point.Header{Bbox: geom.NewRectangle(0, 0, 10, 10)}
	if err := tr.ProcessHeader(h); err == nil {
		t.Fatal("expected an error for an unknown use_attribute")
	}
}
