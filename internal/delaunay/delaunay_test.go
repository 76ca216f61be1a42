package delaunay

import (
	"testing"

	"github.com/go-lasr/lasr/internal/geom"
)

func gridPoints(n int, step float64) []geom.PointXY {
	var pts []geom.PointXY
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, geom.PointXY{X: float64(i) * step, Y: float64(j) * step})
		}
	}
	return pts
}

func assertLiveTrianglesCCW(t *testing.T, tr *Triangulation) {
	t.Helper()
	for i := range tr.triangles {
		tri := &tr.triangles[i]
		if !tri.live() {
			continue
		}
		a, b, c := tr.triPoints(i)
		if geom.Orient2D(a, b, c) <= 0 {
			t.Errorf("triangle %d is not CCW: %v %v %v", i, a, b, c)
		}
	}
}

func assertNeighboursSymmetric(t *testing.T, tr *Triangulation) {
	t.Helper()
	for i := range tr.triangles {
		tri := &tr.triangles[i]
		if !tri.live() {
			continue
		}
		for _, n := range tri.t {
			if n == noNeighbour {
				continue
			}
			if !tr.areConnected(i, n) {
				t.Errorf("triangle %d and neighbour %d are not mutually connected", i, n)
			}
		}
	}
}

func TestBootstrapProducesTwoCCWTriangles(t *testing.T) {
	tr := NewEmpty(geom.Rectangle{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, StrategyDAGWalk)
	if len(tr.triangles) != 2 {
		t.Fatalf("len(triangles) = %d, want 2", len(tr.triangles))
	}
	assertLiveTrianglesCCW(t, tr)
	assertNeighboursSymmetric(t, tr)
}

func TestInsertInsideGridProducesCCWMesh(t *testing.T) {
	pts := gridPoints(4, 1.0)
	tr := New(pts, StrategyDAGWalk)

	assertLiveTrianglesCCW(t, tr)
	assertNeighboursSymmetric(t, tr)

	got := tr.Triangles()
	if len(got) == 0 {
		t.Fatalf("expected at least one live non-ghost triangle")
	}
}

func TestInsertRejectsDuplicatePoint(t *testing.T) {
	pts := gridPoints(3, 2.0)
	tr := New(pts, StrategyDAGWalk)
	before := len(tr.vertices)

	if tr.Insert(pts[0]) {
		t.Errorf("expected Insert to reject a duplicate vertex")
	}
	if len(tr.vertices) != before {
		t.Errorf("vertex count changed after rejected duplicate insert: %d -> %d", before, len(tr.vertices))
	}
}

func TestInsertOnHullEdge(t *testing.T) {
	tr := NewEmpty(geom.Rectangle{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, StrategyDAGWalk)
	// The ghost square's corners are padded by a/10 = 1 on every side, so
	// its right edge runs along x = 11. A point on that edge should split
	// a single hull-boundary triangle in two.
	before := len(tr.triangles)
	if !tr.Insert(geom.PointXY{X: 11, Y: 5}) {
		t.Fatalf("expected Insert to accept a point on the ghost square's edge")
	}
	if len(tr.triangles) <= before {
		t.Errorf("expected new triangles after a hull-edge insertion")
	}
	assertLiveTrianglesCCW(t, tr)
	assertNeighboursSymmetric(t, tr)
}

func TestEulerFormulaHoldsAfterManyInserts(t *testing.T) {
	pts := gridPoints(6, 0.7)
	tr := New(pts, StrategyDAGWalk)

	liveCount := 0
	for i := range tr.triangles {
		if tr.triangles[i].live() {
			liveCount++
		}
	}
	// A planar triangulation of V vertices has at most 2V-2 triangles
	// (Euler's formula, minus the unbounded face); it's always positive
	// once points have been inserted.
	v := len(tr.vertices)
	if liveCount <= 0 || liveCount > 2*v {
		t.Errorf("live triangle count %d looks inconsistent with vertex count %d", liveCount, v)
	}
}

func TestTrianglesExcludeGhostVertices(t *testing.T) {
	pts := gridPoints(3, 3.0)
	tr := New(pts, StrategyDAGWalk)
	for _, tri := range tr.Triangles() {
		for _, p := range [3]geom.PointXY{tri.A, tri.B, tri.C} {
			for _, v := range tr.vertices[:ghostVertexCount] {
				if p == v.pos {
					t.Errorf("Triangles() returned a triangle touching a ghost vertex: %v", tri)
				}
			}
		}
	}
}

func TestContourEdgesAppearOnce(t *testing.T) {
	pts := gridPoints(4, 1.0)
	tr := New(pts, StrategyDAGWalk)

	edges := tr.Contour()
	if len(edges) == 0 {
		t.Fatalf("expected a non-empty contour for a grid of interior points")
	}
	seen := make(map[geom.Edge]int)
	for i := range tr.triangles {
		tt := &tr.triangles[i]
		if !tt.live() {
			continue
		}
		if tr.isGhost(tt.v[0]) || tr.isGhost(tt.v[1]) || tr.isGhost(tt.v[2]) {
			continue
		}
		for k := 0; k < 3; k++ {
			seen[geom.NewEdge(tt.v[k], tt.v[(k+1)%3])]++
		}
	}
	for _, e := range edges {
		if seen[e] != 1 {
			t.Errorf("contour edge %v appears %d times in non-ghost triangles, want 1", e, seen[e])
		}
	}
}

func TestLocateStrategiesAgreeOnContainingTriangle(t *testing.T) {
	pts := gridPoints(5, 1.0)
	dag := New(pts, StrategyDAGWalk)

	query := geom.PointXY{X: 1.3, Y: 1.2}
	dagTri := dag.Locate(query)
	linearTri := dag.locateLinear(query)
	if dagTri == noNeighbour || linearTri == noNeighbour {
		t.Fatalf("expected both strategies to locate a containing triangle, got dag=%d linear=%d", dagTri, linearTri)
	}
	a1, b1, c1 := dag.triPoints(dagTri)
	a2, b2, c2 := dag.triPoints(linearTri)
	if a1 != a2 || b1 != b2 || c1 != c2 {
		t.Errorf("DAG walk and linear search disagree on containing triangle for %v: %v vs %v", query, [3]geom.PointXY{a1, b1, c1}, [3]geom.PointXY{a2, b2, c2})
	}
}

func TestInsertZRecordsElevation(t *testing.T) {
	tr := NewEmpty(geom.Rectangle{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, StrategyDAGWalk)
	ok, vi := tr.InsertZ(geom.PointXY{X: 5, Y: 5}, 42.5)
	if !ok {
		t.Fatalf("InsertZ failed on an interior point")
	}
	if got := tr.VertexZ(vi); got != 42.5 {
		t.Errorf("VertexZ(%d) = %v, want 42.5", vi, got)
	}
}

func TestInterpolateWritesBarycentricZ(t *testing.T) {
	tr := NewEmpty(geom.Rectangle{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, StrategyDAGWalk)
	tr.InsertZ(geom.PointXY{X: 2, Y: 2}, 10)
	tr.InsertZ(geom.PointXY{X: 8, Y: 2}, 20)
	tr.InsertZ(geom.PointXY{X: 5, Y: 8}, 30)

	var z float64
	cells := []RasterCell{{X: 5, Y: 4, Z: &z}}
	tr.Interpolate(cells, 1e12)

	if z == 0 {
		t.Errorf("expected Interpolate to write a non-zero interpolated z for a cell inside the triangle fan")
	}
}

func TestLocalWalkStrategyLocatesSameTriangleAsDAG(t *testing.T) {
	pts := gridPoints(5, 1.0)
	dag := New(pts, StrategyDAGWalk)

	local := &Triangulation{
		vertices: dag.vertices,
		triangles: dag.triangles,
		root0:    dag.root0,
		root1:    dag.root1,
		strategy: StrategyLocalWalk,
		hint:     dag.hint,
	}

	query := geom.PointXY{X: 2.3, Y: 2.6}
	wantTri := dag.Locate(query)
	gotTri := local.Locate(query)
	if wantTri == noNeighbour || gotTri == noNeighbour {
		t.Fatalf("expected both to locate, got dag=%d local=%d", wantTri, gotTri)
	}
	if wantTri != gotTri {
		t.Errorf("local walk located triangle %d, DAG walk located %d for query %v", gotTri, wantTri, query)
	}
}
