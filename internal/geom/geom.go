// Package geom implements the geometric primitives shared across the
// engine: Rectangle, Circle, Polygon, Triangle, Edge, PointXY, PointXYZ,
// plus the robust orient2d/incircle predicates used by internal/delaunay.
package geom

import "math"

// PointXY is a bare 2D coordinate.
type PointXY struct{ X, Y float64 }

// PointXYZ is a 3D coordinate.
type PointXYZ struct{ X, Y, Z float64 }

func (p PointXY) Sub(o PointXY) PointXY  { return PointXY{p.X - o.X, p.Y - o.Y} }
func (p PointXY) Add(o PointXY) PointXY  { return PointXY{p.X + o.X, p.Y + o.Y} }
func (p PointXY) Scale(a float64) PointXY { return PointXY{p.X * a, p.Y * a} }
func (p PointXY) Dot(o PointXY) float64  { return p.X*o.X + p.Y*o.Y }
func (p PointXY) SqDist(o PointXY) float64 {
	dx, dy := p.X-o.X, p.Y-o.Y
	return dx*dx + dy*dy
}

// Vector operations on PointXYZ, grounded on the Vec3 arithmetic
// (subtraction, dot, cross, distance) that internal/ptd's Axelsson plane
// test performs against a ground triangle's normal (src/vendor/ptd/PTD.cpp).
func (p PointXYZ) Sub(o PointXYZ) PointXYZ  { return PointXYZ{p.X - o.X, p.Y - o.Y, p.Z - o.Z} }
func (p PointXYZ) Scale(a float64) PointXYZ { return PointXYZ{p.X * a, p.Y * a, p.Z * a} }
func (p PointXYZ) Dot(o PointXYZ) float64   { return p.X*o.X + p.Y*o.Y + p.Z*o.Z }
func (p PointXYZ) Cross(o PointXYZ) PointXYZ {
	return PointXYZ{p.Y*o.Z - p.Z*o.Y, p.Z*o.X - p.X*o.Z, p.X*o.Y - p.Y*o.X}
}
func (p PointXYZ) Length() float64          { return math.Sqrt(p.Dot(p)) }
func (p PointXYZ) Distance(o PointXYZ) float64 { return p.Sub(o).Length() }

// Rectangle is an axis-aligned bounding rectangle, xmin/ymin/xmax/ymax.
type Rectangle struct {
	XMin, YMin, XMax, YMax float64
}

// NewRectangle builds a normalised Rectangle from any two opposite corners.
func NewRectangle(x1, y1, x2, y2 float64) Rectangle {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Rectangle{XMin: x1, YMin: y1, XMax: x2, YMax: y2}
}

// Contains reports whether (x,y) lies within the rectangle, inclusive.
func (r Rectangle) Contains(x, y float64) bool {
	return x >= r.XMin && x <= r.XMax && y >= r.YMin && y <= r.YMax
}

// Width, Height return the rectangle's extents.
func (r Rectangle) Width() float64  { return r.XMax - r.XMin }
func (r Rectangle) Height() float64 { return r.YMax - r.YMin }

// Centroid returns the rectangle's geometric centre.
func (r Rectangle) Centroid() PointXY {
	return PointXY{(r.XMin + r.XMax) / 2, (r.YMin + r.YMax) / 2}
}

// Overlaps reports whether two rectangles intersect (share area or an edge).
func (r Rectangle) Overlaps(o Rectangle) bool {
	return r.XMin <= o.XMax && r.XMax >= o.XMin && r.YMin <= o.YMax && r.YMax >= o.YMin
}

// Buffered returns the rectangle expanded by d meters on every side.
func (r Rectangle) Buffered(d float64) Rectangle {
	return Rectangle{r.XMin - d, r.YMin - d, r.XMax + d, r.YMax + d}
}

// Union returns the smallest rectangle containing both r and o.
func (r Rectangle) Union(o Rectangle) Rectangle {
	return Rectangle{
		XMin: math.Min(r.XMin, o.XMin),
		YMin: math.Min(r.YMin, o.YMin),
		XMax: math.Max(r.XMax, o.XMax),
		YMax: math.Max(r.YMax, o.YMax),
	}
}

// Bbox satisfies the Shape interface used by partition.Query.
func (r Rectangle) Bbox() Rectangle { return r }

// Circle is a circular query shape.
type Circle struct {
	CX, CY, Radius float64
}

func (c Circle) Contains(x, y float64) bool {
	dx, dy := x-c.CX, y-c.CY
	return dx*dx+dy*dy <= c.Radius*c.Radius
}

func (c Circle) Centroid() PointXY { return PointXY{c.CX, c.CY} }

func (c Circle) Bbox() Rectangle {
	return Rectangle{c.CX - c.Radius, c.CY - c.Radius, c.CX + c.Radius, c.CY + c.Radius}
}

// Polygon is a simple (possibly non-convex) polygon query shape, vertices
// in order, implicitly closed.
type Polygon struct {
	Vertices []PointXY
}

func (p Polygon) Bbox() Rectangle {
	if len(p.Vertices) == 0 {
		return Rectangle{}
	}
	r := Rectangle{p.Vertices[0].X, p.Vertices[0].Y, p.Vertices[0].X, p.Vertices[0].Y}
	for _, v := range p.Vertices[1:] {
		r.XMin = math.Min(r.XMin, v.X)
		r.YMin = math.Min(r.YMin, v.Y)
		r.XMax = math.Max(r.XMax, v.X)
		r.YMax = math.Max(r.YMax, v.Y)
	}
	return r
}

// Contains implements a standard even-odd ray-casting point-in-polygon test.
func (p Polygon) Contains(x, y float64) bool {
	n := len(p.Vertices)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := p.Vertices[i], p.Vertices[j]
		if (vi.Y > y) != (vj.Y > y) {
			xint := (vj.X-vi.X)*(y-vi.Y)/(vj.Y-vi.Y) + vi.X
			if x < xint {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func (p Polygon) Centroid() PointXY {
	var cx, cy, area float64
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		cross := p.Vertices[i].X*p.Vertices[j].Y - p.Vertices[j].X*p.Vertices[i].Y
		area += cross
		cx += (p.Vertices[i].X + p.Vertices[j].X) * cross
		cy += (p.Vertices[i].Y + p.Vertices[j].Y) * cross
	}
	if area == 0 {
		return p.Bbox().Centroid()
	}
	area /= 2
	return PointXY{cx / (6 * area), cy / (6 * area)}
}

// Edge is an undirected edge between two vertex indices, used by
// Triangulation.Contour. Normalised so A < B for set membership.
type Edge struct {
	A, B int
}

// NewEdge returns an Edge with endpoints in canonical (ascending) order.
func NewEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// Triangle is a geometric triangle over three PointXY vertices, used by
// interpolation and area/orientation helpers. internal/delaunay keeps its
// own lightweight index-triangle type; this is the output-facing form.
type Triangle struct {
	A, B, C PointXY
}

// CCW reports whether the triangle winds counter-clockwise.
func (t Triangle) CCW() bool {
	return signedArea2(t.A, t.B, t.C) > 0
}

func signedArea2(a, b, c PointXY) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (c.X-a.X)*(b.Y-a.Y)
}

// LongestSquaredEdge returns the squared length of the triangle's longest
// edge, used by triangulation/interpolation trim thresholds.
func (t Triangle) LongestSquaredEdge() float64 {
	ab := t.A.SqDist(t.B)
	bc := t.B.SqDist(t.C)
	ca := t.C.SqDist(t.A)
	return math.Max(ab, math.Max(bc, ca))
}

// Bbox returns the triangle's bounding rectangle.
func (t Triangle) Bbox() Rectangle {
	return Rectangle{
		XMin: math.Min(t.A.X, math.Min(t.B.X, t.C.X)),
		YMin: math.Min(t.A.Y, math.Min(t.B.Y, t.C.Y)),
		XMax: math.Max(t.A.X, math.Max(t.B.X, t.C.X)),
		YMax: math.Max(t.A.Y, math.Max(t.B.Y, t.C.Y)),
	}
}

// Centroid returns the triangle's centroid (not circumcentre).
func (t Triangle) Centroid() PointXY {
	return PointXY{(t.A.X + t.B.X + t.C.X) / 3, (t.A.Y + t.B.Y + t.C.Y) / 3}
}

// TriangleXYZ is a 3D triangle, grounded on TriangleXYZ
// (src/LASR/Shape.h), used by internal/ptd's Axelsson plane test.
type TriangleXYZ struct {
	A, B, C PointXYZ
}

// Normal returns the triangle's unit normal via the A,B,C winding.
func (t TriangleXYZ) Normal() PointXYZ {
	n := t.B.Sub(t.A).Cross(t.C.Sub(t.A))
	l := n.Length()
	if l == 0 {
		return PointXYZ{}
	}
	return n.Scale(1 / l)
}

// Contains reports whether (x,y) lies within the triangle's 2D footprint,
// matching TriangleXYZ::contains(const PointXY&) in the original engine:
// the projected-point-on-plane test only ever consults x,y.
func (t TriangleXYZ) Contains(x, y float64) bool {
	a := PointXY{t.A.X, t.A.Y}
	b := PointXY{t.B.X, t.B.Y}
	c := PointXY{t.C.X, t.C.Y}
	p := PointXY{x, y}
	d1 := signedArea2(a, b, p)
	d2 := signedArea2(b, c, p)
	d3 := signedArea2(c, a, p)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

// Shape is the query-shape contract the partitioner accepts: a rectangle,
// circle, or polygon.
type Shape interface {
	Bbox() Rectangle
	Contains(x, y float64) bool
	Centroid() PointXY
}
