package geom

import (
	"math"
	"testing"
)

func TestRectangleNormalisesCorners(t *testing.T) {
	r := NewRectangle(10, 10, 0, 0)
	if r.XMin != 0 || r.YMin != 0 || r.XMax != 10 || r.YMax != 10 {
		t.Fatalf("unexpected normalised rectangle: %+v", r)
	}
	if !r.Contains(5, 5) || r.Contains(11, 5) {
		t.Fatal("Contains disagrees with rectangle bounds")
	}
	if r.Width() != 10 || r.Height() != 10 {
		t.Fatalf("unexpected width/height: %v %v", r.Width(), r.Height())
	}
	c := r.Centroid()
	if c.X != 5 || c.Y != 5 {
		t.Fatalf("unexpected centroid: %+v", c)
	}
}

func TestRectangleOverlapsAndBuffered(t *testing.T) {
	a := NewRectangle(0, 0, 10, 10)
	b := NewRectangle(10, 10, 20, 20)
	if !a.Overlaps(b) {
		t.Fatal("edge-touching rectangles should overlap")
	}
	c := NewRectangle(20.001, 20.001, 30, 30)
	if a.Overlaps(c) {
		t.Fatal("disjoint rectangles should not overlap")
	}
	buffered := a.Buffered(5)
	if buffered.XMin != -5 || buffered.XMax != 15 {
		t.Fatalf("unexpected buffered rect: %+v", buffered)
	}
}

func TestRectangleUnion(t *testing.T) {
	a := NewRectangle(0, 0, 10, 10)
	b := NewRectangle(5, -5, 20, 5)
	u := a.Union(b)
	want := Rectangle{XMin: 0, YMin: -5, XMax: 20, YMax: 10}
	if u != want {
		t.Fatalf("unexpected union: got %+v want %+v", u, want)
	}
}

func TestCircleContainsAndBbox(t *testing.T) {
	c := Circle{CX: 100, CY: 100, Radius: 25}
	if !c.Contains(100, 100) || !c.Contains(100, 125) {
		t.Fatal("expected center and boundary points inside circle")
	}
	if c.Contains(100, 126) {
		t.Fatal("point just outside radius should not be contained")
	}
	bb := c.Bbox()
	if bb.XMin != 75 || bb.XMax != 125 {
		t.Fatalf("unexpected circle bbox: %+v", bb)
	}
}

func TestPolygonContainsSquare(t *testing.T) {
	p := Polygon{Vertices: []PointXY{{0, 0}, {10, 0}, {10, 10}, {0, 10}}}
	if !p.Contains(5, 5) {
		t.Fatal("center of square should be inside")
	}
	if p.Contains(15, 5) {
		t.Fatal("point outside square should not be inside")
	}
	bb := p.Bbox()
	if bb != (Rectangle{0, 0, 10, 10}) {
		t.Fatalf("unexpected polygon bbox: %+v", bb)
	}
}

func TestPolygonCentroidSquare(t *testing.T) {
	p := Polygon{Vertices: []PointXY{{0, 0}, {10, 0}, {10, 10}, {0, 10}}}
	c := p.Centroid()
	if math.Abs(c.X-5) > 1e-9 || math.Abs(c.Y-5) > 1e-9 {
		t.Fatalf("expected centroid (5,5), got %+v", c)
	}
}

func TestNewEdgeCanonicalOrder(t *testing.T) {
	e := NewEdge(5, 2)
	if e.A != 2 || e.B != 5 {
		t.Fatalf("expected canonical order, got %+v", e)
	}
}

func TestTriangleCCWAndLongestEdge(t *testing.T) {
	ccw := Triangle{A: PointXY{0, 0}, B: PointXY{1, 0}, C: PointXY{0, 1}}
	if !ccw.CCW() {
		t.Fatal("expected CCW triangle")
	}
	cw := Triangle{A: PointXY{0, 0}, B: PointXY{0, 1}, C: PointXY{1, 0}}
	if cw.CCW() {
		t.Fatal("expected CW triangle to report false")
	}
	longEdge := Triangle{A: PointXY{0, 0}, B: PointXY{10, 0}, C: PointXY{0, 1}}
	if longEdge.LongestSquaredEdge() != 100+1 {
		// sqdist(A,B)=100, sqdist(B,C)=100+1=101, sqdist(C,A)=1 -> max is 101
		t.Fatalf("unexpected longest squared edge: %v", longEdge.LongestSquaredEdge())
	}
}

func TestTriangleXYZNormalAndContains(t *testing.T) {
	tri := TriangleXYZ{A: PointXYZ{0, 0, 0}, B: PointXYZ{1, 0, 0}, C: PointXYZ{0, 1, 0}}
	n := tri.Normal()
	if math.Abs(n.Z-1) > 1e-9 {
		t.Fatalf("expected unit +Z normal for flat CCW triangle, got %+v", n)
	}
	if !tri.Contains(0.2, 0.2) {
		t.Fatal("expected interior point to be contained")
	}
	if tri.Contains(0.9, 0.9) {
		t.Fatal("expected point outside the triangle's footprint to be excluded")
	}
}

func TestTriangleXYZDegenerateNormal(t *testing.T) {
	tri := TriangleXYZ{A: PointXYZ{0, 0, 0}, B: PointXYZ{1, 0, 0}, C: PointXYZ{2, 0, 0}}
	if n := tri.Normal(); n != (PointXYZ{}) {
		t.Fatalf("expected zero normal for degenerate triangle, got %+v", n)
	}
}

func TestPointXYZVectorOps(t *testing.T) {
	a := PointXYZ{1, 0, 0}
	b := PointXYZ{0, 1, 0}
	cross := a.Cross(b)
	if cross != (PointXYZ{0, 0, 1}) {
		t.Fatalf("unexpected cross product: %+v", cross)
	}
	if a.Dot(b) != 0 {
		t.Fatal("orthogonal vectors should have zero dot product")
	}
	if math.Abs(a.Distance(b)-math.Sqrt2) > 1e-9 {
		t.Fatalf("unexpected distance: %v", a.Distance(b))
	}
}

func TestOrient2D(t *testing.T) {
	left := Orient2D(PointXY{0, 0}, PointXY{1, 0}, PointXY{0, 1})
	if left <= 0 {
		t.Fatalf("expected positive orientation for CCW turn, got %v", left)
	}
	right := Orient2D(PointXY{0, 0}, PointXY{1, 0}, PointXY{0, -1})
	if right >= 0 {
		t.Fatalf("expected negative orientation for CW turn, got %v", right)
	}
	collinear := Orient2D(PointXY{0, 0}, PointXY{1, 0}, PointXY{2, 0})
	if collinear != 0 {
		t.Fatalf("expected zero orientation for collinear points, got %v", collinear)
	}
}

func TestInCircle(t *testing.T) {
	a, b, c := PointXY{0, 0}, PointXY{1, 0}, PointXY{0, 1}
	inside := InCircle(a, b, c, PointXY{0.1, 0.1})
	if inside <= 0 {
		t.Fatalf("expected point near triangle centroid inside circumcircle, got %v", inside)
	}
	outside := InCircle(a, b, c, PointXY{10, 10})
	if outside >= 0 {
		t.Fatalf("expected far point outside circumcircle, got %v", outside)
	}
}
