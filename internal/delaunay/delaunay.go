// Package delaunay implements an incremental 2D Delaunay triangulation: a
// ghost-square bootstrap, point-inside/point-on-edge insertion, edge-flip
// legalisation, and three point-location strategies (history-DAG walk,
// hint-based local walk, linear search).
//
// The core insertion and legalisation logic follows the array-of-structs
// triangle representation used by the original engine's vendored
// triangulator (src/vendor/hporro/delaunay.{h,cpp}): each triangle stores
// three vertex indices and three neighbour-triangle indices, and a new
// point is located, classified (inside / on-edge / on-hull-edge), and
// legalised by walking outward from the inserted triangles.
//
// Point location differs from the vendored source in one respect: rather
// than reusing a triangle's array slot in place when it is split (as the
// original's addPointInside/flip do, to save memory), every split or flip
// here allocates fresh triangle slots and retires the old ones into a
// history DAG, recording which new triangles replaced them. That DAG is
// what lets Locate walk from the two root ghost triangles down to the
// live leaf containing a query point, which the vendored source does not
// need because it never builds persistent history (it always re-walks
// from a fresh or hinted start).
package delaunay

import (
	"fmt"
	"math"

	"github.com/go-lasr/lasr/internal/geom"
)

// ghostVertexCount is the number of bounding-square corners seeded before
// any real point is inserted; a live triangle touching one of them is not
// part of the real triangulation surface.
const ghostVertexCount = 4

// noNeighbour marks a hull-boundary edge (no triangle across it).
const noNeighbour = -1

// vertex is a triangulation vertex: its position and one live triangle
// touching it, used as a hint for neighbour walks.
type vertex struct {
	pos      geom.PointXY
	z        float64
	triIndex int
}

// triangle is a node in the history DAG. Live triangles have no children;
// retired ones record the triangles that replaced them so Locate can
// descend through dead history to a live leaf.
type triangle struct {
	v        [3]int // vertex indices
	t        [3]int // neighbour triangle indices, noNeighbour if a hull edge
	children []int  // empty while live; set once retired by a split or flip
}

func (t *triangle) live() bool { return len(t.children) == 0 }

// Strategy selects how Locate finds the triangle containing a query point.
type Strategy int

const (
	// StrategyDAGWalk descends the history DAG from the root ghost
	// triangles. Default.
	StrategyDAGWalk Strategy = iota
	// StrategyLocalWalk starts from a hint triangle and walks toward the
	// query using orient2d edge-crossing tests, grounded on findContainerTriangleSqrtSearch.
	StrategyLocalWalk
	// StrategyLinearSearch scans every live triangle; debugging only.
	StrategyLinearSearch
)

// Triangulation is an incremental 2D Delaunay triangulation over a fixed
// bounding square established at construction time.
type Triangulation struct {
	vertices []vertex
	triangles []triangle

	root0, root1 int // indices of the two bootstrap ghost triangles

	strategy Strategy
	hint     int // last live triangle touched, used by StrategyLocalWalk
}

// New builds an empty triangulation whose bounding square covers bbox,
// padded by 10% of its longest side on every edge, then inserts every point in pts.
func New(pts []geom.PointXY, strategy Strategy) *Triangulation {
	tr := &Triangulation{strategy: strategy}
	tr.bootstrap(boundingBox(pts))
	for _, p := range pts {
		tr.Insert(p)
	}
	return tr
}

// NewEmpty builds a triangulation whose ghost square covers bbox, with no
// points inserted yet; used by callers (e.g. internal/ptd) that need to
// insert virtual boundary seeds before any real candidate.
func NewEmpty(bbox geom.Rectangle, strategy Strategy) *Triangulation {
	tr := &Triangulation{strategy: strategy}
	tr.bootstrap(bbox)
	return tr
}

func boundingBox(pts []geom.PointXY) geom.Rectangle {
	if len(pts) == 0 {
		return geom.Rectangle{}
	}
	r := geom.Rectangle{XMin: pts[0].X, YMin: pts[0].Y, XMax: pts[0].X, YMax: pts[0].Y}
	for _, p := range pts[1:] {
		r.XMin = math.Min(r.XMin, p.X)
		r.YMin = math.Min(r.YMin, p.Y)
		r.XMax = math.Max(r.XMax, p.X)
		r.YMax = math.Max(r.YMax, p.Y)
	}
	return r
}

func (tr *Triangulation) bootstrap(bbox geom.Rectangle) {
	a := math.Max(bbox.Width(), bbox.Height())
	if a <= 0 {
		a = 1
	}
	pad := a / 10

	p0 := geom.PointXY{X: bbox.XMin - pad, Y: bbox.YMin - pad}
	p1 := geom.PointXY{X: p0.X + a + 2*pad, Y: p0.Y}
	p2 := geom.PointXY{X: p0.X + a + 2*pad, Y: p0.Y + a + 2*pad}
	p3 := geom.PointXY{X: p0.X, Y: p0.Y + a + 2*pad}

	tr.vertices = []vertex{{pos: p0}, {pos: p1}, {pos: p2}, {pos: p3}}
	tr.triangles = []triangle{
		{v: [3]int{0, 1, 2}, t: [3]int{noNeighbour, 1, noNeighbour}},
		{v: [3]int{0, 2, 3}, t: [3]int{noNeighbour, noNeighbour, 0}},
	}
	tr.root0, tr.root1 = 0, 1
	tr.hint = 0
}

// isGhost reports whether a vertex index is one of the four bootstrap
// corners (not part of the real point set).
func (tr *Triangulation) isGhost(vi int) bool { return vi < ghostVertexCount }

func (tr *Triangulation) pos(vi int) geom.PointXY { return tr.vertices[vi].pos }

func (tr *Triangulation) triPoints(ti int) (a, b, c geom.PointXY) {
	t := &tr.triangles[ti]
	return tr.pos(t.v[0]), tr.pos(t.v[1]), tr.pos(t.v[2])
}

// containsStrict reports whether p lies strictly inside triangle ti.
func (tr *Triangulation) containsStrict(ti int, p geom.PointXY) bool {
	if ti == noNeighbour {
		return false
	}
	a, b, c := tr.triPoints(ti)
	return geom.Orient2D(a, b, p) > 0 &&
		geom.Orient2D(b, c, p) > 0 &&
		geom.Orient2D(c, a, p) > 0
}

// onBoundary reports whether p lies on (within Epsilon of) triangle ti's
// boundary, i.e. collinear with one of its edges and between the other
// two.
func (tr *Triangulation) onBoundary(ti int, p geom.PointXY) bool {
	if ti == noNeighbour {
		return false
	}
	a, b, c := tr.triPoints(ti)
	return geom.Orient2D(a, b, p) >= -geom.Epsilon &&
		geom.Orient2D(b, c, p) >= -geom.Epsilon &&
		geom.Orient2D(c, a, p) >= -geom.Epsilon
}

// edgeIndexFor returns the local edge index (0,1,2) of triangle ti whose
// opposite vertex is v[i], such that p lies on segment (v[(i+1)%3],
// v[(i+2)%3]), or -1 if p is not on any edge of ti.
func (tr *Triangulation) edgeIndexFor(ti int, p geom.PointXY) int {
	t := &tr.triangles[ti]
	for i := 0; i < 3; i++ {
		a := tr.pos(t.v[(i+1)%3])
		b := tr.pos(t.v[(i+2)%3])
		if pointOnSegment(p, a, b) {
			return i
		}
	}
	return -1
}

func pointOnSegment(p, a, b geom.PointXY) bool {
	if geom.Orient2D(a, b, p) != 0 {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-geom.Epsilon && p.X <= math.Max(a.X, b.X)+geom.Epsilon &&
		p.Y >= math.Min(a.Y, b.Y)-geom.Epsilon && p.Y <= math.Max(a.Y, b.Y)+geom.Epsilon
}

// Locate returns the live triangle containing p, using the configured
// Strategy, or noNeighbour if p falls outside the bounding square.
func (tr *Triangulation) Locate(p geom.PointXY) int {
	switch tr.strategy {
	case StrategyLocalWalk:
		return tr.locateLocalWalk(p, tr.hint)
	case StrategyLinearSearch:
		return tr.locateLinear(p)
	default:
		return tr.locateDAG(p)
	}
}

// locateDAG descends from the two bootstrap ghost triangles, following
// retired-triangle children until it reaches a live leaf containing p.
func (tr *Triangulation) locateDAG(p geom.PointXY) int {
	if ti := tr.descend(tr.root0, p); ti != noNeighbour {
		return ti
	}
	return tr.descend(tr.root1, p)
}

func (tr *Triangulation) descend(ti int, p geom.PointXY) int {
	t := &tr.triangles[ti]
	if t.live() {
		if tr.containsStrict(ti, p) || tr.onBoundary(ti, p) {
			return ti
		}
		return noNeighbour
	}
	for _, child := range t.children {
		if found := tr.descend(child, p); found != noNeighbour {
			return found
		}
	}
	return noNeighbour
}

// locateLocalWalk is the hint-based recursive neighbour walk grounded on
// findContainerTriangleSqrtSearch: starting from a hint triangle, it exits
// through whichever edge's supporting line separates the hint's centroid
// from the query, using robust orient2d sign tests, and recurses into the
// neighbour across that edge.
func (tr *Triangulation) locateLocalWalk(p geom.PointXY, hint int) int {
	if hint == noNeighbour {
		return noNeighbour
	}
	if tr.containsStrict(hint, p) || tr.onBoundary(hint, p) {
		return hint
	}
	a, b, c := tr.triPoints(hint)
	centroid := geom.PointXY{X: (a.X + b.X + c.X) / 3, Y: (a.Y + b.Y + c.Y) / 3}

	t := &tr.triangles[hint]
	for i := 0; i < 3; i++ {
		f := t.t[i]
		if f == noNeighbour {
			continue
		}
		edgeA := tr.pos(t.v[(i+1)%3])
		edgeB := tr.pos(t.v[(i+2)%3])
		if geom.Orient2D(centroid, p, edgeA)*geom.Orient2D(centroid, p, edgeB) < 0 &&
			geom.Orient2D(edgeA, edgeB, p)*geom.Orient2D(edgeA, edgeB, centroid) < 0 {
			return tr.locateLocalWalk(p, f)
		}
	}
	return noNeighbour
}

// locateLinear scans every live triangle; last resort, debugging only.
func (tr *Triangulation) locateLinear(p geom.PointXY) int {
	for i := range tr.triangles {
		if tr.triangles[i].live() && tr.containsStrict(i, p) {
			return i
		}
	}
	for i := range tr.triangles {
		if tr.triangles[i].live() && tr.onBoundary(i, p) {
			return i
		}
	}
	return noNeighbour
}

// Insert adds p to the triangulation, legalising every new triangle's
// outer edge. It reports false if p duplicates an existing vertex.
func (tr *Triangulation) Insert(p geom.PointXY) bool {
	ok, _ := tr.InsertZ(p, 0)
	return ok
}

// InsertZ behaves like Insert but additionally records an elevation for
// the new vertex, retrievable via VertexZ; internal/ptd's ground TIN
// needs this to fit local planes and compute perpendicular residuals
// without internal/delaunay depending on internal/point.
func (tr *Triangulation) InsertZ(p geom.PointXY, z float64) (bool, int) {
	ti := tr.Locate(p)
	if ti == noNeighbour {
		return false, -1
	}

	a, b, c := tr.triPoints(ti)
	for _, v := range [3]geom.PointXY{a, b, c} {
		if math.Abs(p.X-v.X) < geom.Epsilon && math.Abs(p.Y-v.Y) < geom.Epsilon {
			return false, -1
		}
	}

	nextVertex := len(tr.vertices)

	if e := tr.edgeIndexFor(ti, p); e != noNeighbour {
		neighbour := tr.triangles[ti].t[e]
		if neighbour == noNeighbour {
			tr.addPointOnHullEdge(p, ti, e)
		} else {
			tr.addPointOnSharedEdge(p, ti, neighbour)
		}
		tr.vertices[nextVertex].z = z
		return true, nextVertex
	}

	tr.addPointInside(p, ti)
	tr.vertices[nextVertex].z = z
	return true, nextVertex
}

func (tr *Triangulation) addVertex(p geom.PointXY) int {
	vi := len(tr.vertices)
	tr.vertices = append(tr.vertices, vertex{pos: p})
	return vi
}

func (tr *Triangulation) addTriangle(tri triangle) int {
	idx := len(tr.triangles)
	tr.triangles = append(tr.triangles, tri)
	return idx
}

// retire marks ti dead and records its replacements in the history DAG.
func (tr *Triangulation) retire(ti int, children ...int) {
	tr.triangles[ti].children = children
}

// relinkNeighbour rewrites every reference to oldTi in triangle f's
// neighbour list to point at newTi, if f is a real triangle.
func (tr *Triangulation) relinkNeighbour(f, oldTi, newTi int) {
	if f == noNeighbour {
		return
	}
	t := &tr.triangles[f]
	for i := 0; i < 3; i++ {
		if t.t[i] == oldTi {
			t.t[i] = newTi
		}
	}
}

// addPointInside splits triangle f into three fresh triangles sharing the
// new vertex p, retiring f into the DAG. Grounded on addPointInside, adapted to allocate all three
// children fresh instead of reusing f's slot.
func (tr *Triangulation) addPointInside(p geom.PointXY, f int) {
	old := tr.triangles[f]
	v0, v1, v2 := old.v[0], old.v[1], old.v[2]
	nbr0, nbr1, nbr2 := old.t[0], old.t[1], old.t[2]

	pv := tr.addVertex(p)

	f0 := tr.addTriangle(triangle{v: [3]int{pv, v0, v1}})
	f1 := tr.addTriangle(triangle{v: [3]int{pv, v1, v2}})
	f2 := tr.addTriangle(triangle{v: [3]int{pv, v2, v0}})

	tr.triangles[f0].t = [3]int{nbr2, f1, f2}
	tr.triangles[f1].t = [3]int{nbr0, f2, f0}
	tr.triangles[f2].t = [3]int{nbr1, f0, f1}

	tr.relinkNeighbour(nbr0, f, f1)
	tr.relinkNeighbour(nbr1, f, f2)
	tr.relinkNeighbour(nbr2, f, f0)

	tr.vertices[pv].triIndex = f0
	tr.retire(f, f0, f1, f2)
	tr.hint = f0

	tr.legalize(f0, nbr2)
	tr.legalize(f1, nbr0)
	tr.legalize(f2, nbr1)
}

// addPointOnHullEdge splits a single hull-boundary triangle into two,
// with the new vertex on its missing-neighbour edge. Grounded on addPointInEdge(v, t)'s single-triangle
// case.
func (tr *Triangulation) addPointOnHullEdge(p geom.PointXY, ti, e int) {
	old := tr.triangles[ti]
	p0 := old.v[(e+1)%3]
	p1 := old.v[(e+2)%3]
	opposite := old.v[e]
	innerF := old.t[(e+1)%3] // edge (opposite,p1)
	outerF := old.t[(e+2)%3] // edge (p0,opposite)

	pv := tr.addVertex(p)

	f0 := tr.addTriangle(triangle{v: [3]int{opposite, p0, pv}})
	f1 := tr.addTriangle(triangle{v: [3]int{opposite, pv, p1}})
	tr.triangles[f0].t = [3]int{noNeighbour, f1, outerF}
	tr.triangles[f1].t = [3]int{noNeighbour, innerF, f0}

	tr.relinkNeighbour(outerF, ti, f0)
	tr.relinkNeighbour(innerF, ti, f1)

	tr.vertices[pv].triIndex = f0
	tr.retire(ti, f0, f1)
	tr.hint = f0

	tr.legalize(f0, outerF)
	tr.legalize(f1, innerF)
}

// addPointOnSharedEdge splits two triangles sharing an edge into four,
// retiring both originals. Grounded on addPointInEdge(v, t0, t1).
func (tr *Triangulation) addPointOnSharedEdge(p geom.PointXY, t0, t1 int) {
	t0i, t1i := -1, -1
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if tr.triangles[t0].t[i] == t1 && tr.triangles[t1].t[j] == t0 {
				t0i, t1i = i, j
			}
		}
	}
	if t0i == -1 {
		panic("delaunay: addPointOnSharedEdge called on non-adjacent triangles")
	}

	o0 := tr.triangles[t0]
	o1 := tr.triangles[t1]

	apex0 := o0.v[t0i]
	edgeA := o0.v[(t0i+1)%3]
	edgeB := o0.v[(t0i+2)%3]
	apex1 := o1.v[t1i]

	outerT0A := o0.t[(t0i+2)%3] // across (apex0,edgeA)
	outerT0B := o0.t[(t0i+1)%3] // across (apex0,edgeB)
	outerT1A := o1.t[(t1i+1)%3] // across (apex1,edgeA)
	outerT1B := o1.t[(t1i+2)%3] // across (apex1,edgeB)

	pv := tr.addVertex(p)

	f0 := tr.addTriangle(triangle{v: [3]int{apex0, edgeA, pv}})
	f1 := tr.addTriangle(triangle{v: [3]int{apex0, pv, edgeB}})
	f2 := tr.addTriangle(triangle{v: [3]int{apex1, pv, edgeA}})
	f3 := tr.addTriangle(triangle{v: [3]int{apex1, edgeB, pv}})

	tr.triangles[f0].t = [3]int{f2, f1, outerT0A}
	tr.triangles[f1].t = [3]int{f3, outerT0B, f0}
	tr.triangles[f2].t = [3]int{f0, outerT1A, f3}
	tr.triangles[f3].t = [3]int{f1, f2, outerT1B}

	tr.relinkNeighbour(outerT0A, t0, f0)
	tr.relinkNeighbour(outerT0B, t0, f1)
	tr.relinkNeighbour(outerT1A, t1, f2)
	tr.relinkNeighbour(outerT1B, t1, f3)

	tr.vertices[pv].triIndex = f0
	tr.retire(t0, f0, f1)
	tr.retire(t1, f2, f3)
	tr.hint = f0

	tr.legalize(f0, outerT0A)
	tr.legalize(f1, outerT0B)
	tr.legalize(f2, outerT1A)
	tr.legalize(f3, outerT1B)
}

// legalize checks the edge between t and its neighbour n, flipping it if
// n's far vertex lies inside t's circumcircle, then recurses on the two
// resulting outer edges. Grounded on
// legalize(int,int).
func (tr *Triangulation) legalize(t, n int) {
	if n == noNeighbour || t == noNeighbour {
		return
	}
	if !tr.areConnected(t, n) {
		return
	}

	apexN := tr.farVertex(n, t)
	if apexN == -1 {
		return
	}

	a, b, c := tr.triPoints(t)
	d := tr.pos(apexN)
	if !tr.isConvexQuad(t, n) {
		return
	}
	if geom.InCircle(a, b, c, d) <= 0 {
		return
	}

	nt1, nt2 := tr.flip(t, n)
	if nt1 == noNeighbour {
		return
	}
	t0 := &tr.triangles[nt1]
	t1 := &tr.triangles[nt2]
	for i := 0; i < 3; i++ {
		if t0.t[i] != nt2 {
			tr.legalize(nt1, t0.t[i])
		}
		if t1.t[i] != nt1 {
			tr.legalize(nt2, t1.t[i])
		}
	}
}

// areConnected reports whether t and n each list the other as a neighbour.
func (tr *Triangulation) areConnected(t, n int) bool {
	if t == noNeighbour || n == noNeighbour {
		return true
	}
	one, two := false, false
	for i := 0; i < 3; i++ {
		if tr.triangles[t].t[i] == n {
			one = true
		}
		if tr.triangles[n].t[i] == t {
			two = true
		}
	}
	return one && two
}

// farVertex returns the vertex of t that is not part of the edge shared
// with n (t's "apex" relative to that shared edge).
func (tr *Triangulation) farVertex(t, n int) int {
	tt := &tr.triangles[t]
	for i := 0; i < 3; i++ {
		if tt.t[i] == n {
			return tt.v[i]
		}
	}
	return -1
}

// sharedEdgeOrdered locates the index i (in t) and j (in n) at which the
// two triangles reference each other as neighbours, and reports the
// shared edge's endpoints in t's own CCW winding: t = (apexT, edgeP,
// edgeQ), n = (apexN, edgeQ, edgeP).
func (tr *Triangulation) sharedEdgeOrdered(t, n int) (edgeP, edgeQ, apexT, apexN int, ok bool) {
	tt := &tr.triangles[t]
	ti := -1
	for i := 0; i < 3; i++ {
		if tt.t[i] == n {
			ti = i
			break
		}
	}
	if ti == -1 {
		return 0, 0, 0, 0, false
	}
	apexT = tt.v[ti]
	edgeP = tt.v[(ti+1)%3]
	edgeQ = tt.v[(ti+2)%3]

	nn := &tr.triangles[n]
	ni := -1
	for j := 0; j < 3; j++ {
		if nn.t[j] == t {
			ni = j
			break
		}
	}
	if ni == -1 {
		return 0, 0, 0, 0, false
	}
	apexN = nn.v[ni]
	return edgeP, edgeQ, apexT, apexN, true
}

// isConvexQuad reports whether the quadrilateral formed by triangles t
// and n (split along their shared edge) is convex, the precondition for a
// legal flip. Grounded on isConvexBicell.
func (tr *Triangulation) isConvexQuad(t, n int) bool {
	edgeP, edgeQ, apexT, apexN, ok := tr.sharedEdgeOrdered(t, n)
	if !ok {
		return false
	}
	quad := []geom.PointXY{tr.pos(apexT), tr.pos(edgeP), tr.pos(apexN), tr.pos(edgeQ)}
	for i := 0; i < 4; i++ {
		p0 := quad[(i+3)%4]
		p1 := quad[i]
		p2 := quad[(i+1)%4]
		if geom.Orient2D(p0, p1, p2) <= 0 {
			return false
		}
	}
	return true
}

// flip replaces adjacent triangles t, n with two new triangles sharing
// the other diagonal of their quadrilateral, retiring both originals into
// the DAG with both new triangles as children. Grounded on flip(int,int),
// adapted to allocate fresh slots instead of overwriting t and n in
// place.
func (tr *Triangulation) flip(t, n int) (int, int) {
	edgeP, edgeQ, apexT, apexN, ok := tr.sharedEdgeOrdered(t, n)
	if !ok {
		return noNeighbour, noNeighbour
	}

	tt, nn := &tr.triangles[t], &tr.triangles[n]
	var ti, ni int
	for i := 0; i < 3; i++ {
		if tt.t[i] == n {
			ti = i
		}
		if nn.t[i] == t {
			ni = i
		}
	}
	outerAP := tt.t[(ti+2)%3] // across (apexT,edgeP), opposite edgeQ
	outerAQ := tt.t[(ti+1)%3] // across (apexT,edgeQ), opposite edgeP
	outerNQ := nn.t[(ni+2)%3] // across (apexN,edgeQ), opposite edgeP
	outerNP := nn.t[(ni+1)%3] // across (apexN,edgeP), opposite edgeQ

	f0 := tr.addTriangle(triangle{v: [3]int{apexT, edgeP, apexN}})
	f1 := tr.addTriangle(triangle{v: [3]int{apexT, apexN, edgeQ}})
	tr.triangles[f0].t = [3]int{outerNP, f1, outerAP}
	tr.triangles[f1].t = [3]int{outerNQ, outerAQ, f0}

	tr.relinkNeighbour(outerAP, t, f0)
	tr.relinkNeighbour(outerAQ, t, f1)
	tr.relinkNeighbour(outerNP, n, f0)
	tr.relinkNeighbour(outerNQ, n, f1)

	tr.vertices[apexT].triIndex = f0
	tr.vertices[apexN].triIndex = f0
	tr.retire(t, f0, f1)
	tr.retire(n, f0, f1)
	tr.hint = f0

	return f0, f1
}

// Triangles returns every live triangle whose three vertices are all
// non-ghost.
func (tr *Triangulation) Triangles() []geom.Triangle {
	var out []geom.Triangle
	for i := range tr.triangles {
		t := &tr.triangles[i]
		if !t.live() {
			continue
		}
		if tr.isGhost(t.v[0]) || tr.isGhost(t.v[1]) || tr.isGhost(t.v[2]) {
			continue
		}
		out = append(out, geom.Triangle{A: tr.pos(t.v[0]), B: tr.pos(t.v[1]), C: tr.pos(t.v[2])})
	}
	return out
}

// Contour returns every edge that appears in exactly one live non-ghost
// triangle after orientation normalisation.
func (tr *Triangulation) Contour() []geom.Edge {
	counts := make(map[geom.Edge]int)
	for i := range tr.triangles {
		t := &tr.triangles[i]
		if !t.live() {
			continue
		}
		if tr.isGhost(t.v[0]) || tr.isGhost(t.v[1]) || tr.isGhost(t.v[2]) {
			continue
		}
		for k := 0; k < 3; k++ {
			counts[geom.NewEdge(t.v[k], t.v[(k+1)%3])]++
		}
	}
	var out []geom.Edge
	for e, n := range counts {
		if n == 1 {
			out = append(out, e)
		}
	}
	return out
}

// RasterCell is one destination cell of an Interpolate call: its centre
// coordinate and a pointer to the field the interpolated Z is written
// into.
type RasterCell struct {
	X, Y float64
	Z    *float64
}

// Interpolate rasterises every live non-ghost triangle whose longest
// squared edge is below trimSqLen by linear interpolation, writing into
// any cell in cells whose (X,Y) falls inside that triangle). The caller is
// responsible for building cells from either a destination raster's grid
// or a point array; this keeps the triangulation package free of any
// raster- or point-format dependency.
func (tr *Triangulation) Interpolate(cells []RasterCell, trimSqLen float64) {
	for i := range tr.triangles {
		t := &tr.triangles[i]
		if !t.live() {
			continue
		}
		if tr.isGhost(t.v[0]) || tr.isGhost(t.v[1]) || tr.isGhost(t.v[2]) {
			continue
		}
		a, b, c := tr.triPoints(i)
		tri := geom.Triangle{A: a, B: b, C: c}
		if tri.LongestSquaredEdge() >= trimSqLen {
			continue
		}
		za := tr.vertices[t.v[0]].z
		zb := tr.vertices[t.v[1]].z
		zc := tr.vertices[t.v[2]].z
		for ci := range cells {
			p := geom.PointXY{X: cells[ci].X, Y: cells[ci].Y}
			if !tri.Bbox().Contains(p.X, p.Y) {
				continue
			}
			if z, ok := barycentricZ(a, b, c, za, zb, zc, p); ok {
				*cells[ci].Z = z
			}
		}
	}
}

// barycentricZ computes the linearly-interpolated z at p from triangle
// vertices a, b, c (with elevations za, zb, zc) using barycentric weights.
func barycentricZ(a, b, c geom.PointXY, za, zb, zc float64, p geom.PointXY) (float64, bool) {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return 0, false
	}
	w1 := ((b.Y-c.Y)*(p.X-c.X) + (c.X-b.X)*(p.Y-c.Y)) / denom
	w2 := ((c.Y-a.Y)*(p.X-c.X) + (a.X-c.X)*(p.Y-c.Y)) / denom
	w3 := 1 - w1 - w2
	if w1 < -geom.Epsilon || w2 < -geom.Epsilon || w3 < -geom.Epsilon {
		return 0, false
	}
	return w1*za + w2*zb + w3*zc, true
}

// VertexZ returns the elevation recorded for vertex index vi by InsertZ.
func (tr *Triangulation) VertexZ(vi int) float64 {
	if vi < 0 || vi >= len(tr.vertices) {
		return 0
	}
	return tr.vertices[vi].z
}

// VertexPos returns the 2D position of vertex index vi.
func (tr *Triangulation) VertexPos(vi int) geom.PointXY { return tr.pos(vi) }

// TriangleAt returns the geometry and per-vertex elevations of the
// triangle at index ti, as returned by Locate; internal/ptd's Axelsson
// plane test needs both to decide whether to densify a candidate point.
func (tr *Triangulation) TriangleAt(ti int) (tri geom.Triangle, za, zb, zc float64) {
	a, b, c := tr.triPoints(ti)
	t := &tr.triangles[ti]
	return geom.Triangle{A: a, B: b, C: c}, tr.vertices[t.v[0]].z, tr.vertices[t.v[1]].z, tr.vertices[t.v[2]].z
}

// String renders a triangle for debugging.
func (t triangle) String() string {
	return fmt.Sprintf("{v:%v t:%v live:%v}", t.v, t.t, t.live())
}
