// Package ptd implements Progressive TIN Densification ground
// classification, grounded on the vendored
// src/vendor/ptd/PTD.{h,cpp} and the stage that drives it,
// src/LASRstages/ptd.{h,cpp}.
//
// Like internal/delaunay, this package stays free of any point-cloud
// format dependency: a Candidate carries only the coordinates and a
// caller-assigned id, so the stage that extracts per-cell minima from a
// point.Point stream and later applies
// the ground/spike classification back onto those points never needs to
// live in this package.
package ptd

import (
	"errors"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/go-lasr/lasr/internal/delaunay"
	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/grid"
)

// Candidate is one ground-candidate point: the lowest point of its cell in
// the caller's min_triangle_size grid, carrying a
// file-wide id the caller can use to apply the eventual classification.
type Candidate struct {
	X, Y, Z float64
	ID      uint64
}

// Params mirrors PTDParameters (PTD.h).
type Params struct {
	SeedResolution       float64
	MaxIterationAngle    float64
	MaxIterationDistance float64
	MinTriangleSize      float64
	BufferSize           float64
	MaxIter              int
}

func (p Params) validate() error {
	if p.SeedResolution <= 0 {
		return errors.New("ptd: seed resolution must be > 0")
	}
	if p.MaxIterationAngle < 0 || p.MaxIterationAngle > 90 {
		return errors.New("ptd: max iteration angle must be in [0, 90] degrees")
	}
	if p.MaxIterationDistance <= 0 {
		return errors.New("ptd: max iteration distance must be > 0")
	}
	if p.MinTriangleSize < 0 {
		return errors.New("ptd: min triangle size must be >= 0")
	}
	if p.BufferSize < 0 {
		return errors.New("ptd: buffer size must be >= 0")
	}
	if p.MaxIter < 0 {
		return errors.New("ptd: max iter must be >= 0")
	}
	return nil
}

// Result is the pair of id lists PTD produces: ids
// are the Candidate.ID values the caller supplied.
type Result struct {
	Ground []uint64
	Spike  []uint64
}

const (
	spikeNeighbours = 8
	spikeThreshold  = 0.75
	stallFraction   = 0.0005 // 0.05%, below which a growth round is considered stalled
)

// Run classifies candidates into ground and spike id sets by growing a TIN
// from low seeds.
func Run(candidates []Candidate, params Params) (Result, error) {
	if err := params.validate(); err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, errors.New("ptd: no candidate points to process")
	}

	pts := make([]Candidate, len(candidates))
	copy(pts, candidates)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Z < pts[j].Z })

	bbox := boundsOf(pts)
	minTriSq := params.MinTriangleSize * params.MinTriangleSize

	seeds := makeSeeds(pts, bbox, params.SeedResolution)
	if len(seeds) == 0 {
		return Result{}, errors.New("ptd: no seed point found")
	}

	rng := rand.New(rand.NewSource(1))
	vbuff := makeBuffer(seeds, bbox, params.BufferSize, params.SeedResolution, rng)

	buffered := geom.Rectangle{
		XMin: bbox.XMin - params.BufferSize, YMin: bbox.YMin - params.BufferSize,
		XMax: bbox.XMax + params.BufferSize, YMax: bbox.YMax + params.BufferSize,
	}
	// The history-DAG walk has no notion of a spatial index to deactivate
	// for the first handful of inserts the way the grid-based vendored
	// locator does; StrategyDAGWalk is used throughout as the primary mode.
	tri := delaunay.NewEmpty(buffered, delaunay.StrategyDAGWalk)

	for _, p := range vbuff {
		if ok, _ := tri.InsertZ(geom.PointXY{X: p.X, Y: p.Y}, p.Z); !ok {
			return Result{}, errors.New("ptd: internal error inserting a virtual boundary seed")
		}
	}

	inserted := make(map[uint64]bool, len(pts))
	owner := make(map[int]uint64, len(seeds)+len(pts))

	for _, s := range seeds {
		if ok, vi := tri.InsertZ(geom.PointXY{X: s.X, Y: s.Y}, s.Z); ok {
			inserted[s.ID] = true
			owner[vi] = s.ID
		}
	}

	densify(tri, pts, inserted, owner, bbox, params, minTriSq)

	spikes := detectSpikes(tri, owner)

	result := Result{
		Ground: make([]uint64, 0, len(owner)),
		Spike:  make([]uint64, 0),
	}
	for vi, id := range owner {
		if spikes[vi] {
			result.Spike = append(result.Spike, id)
		} else {
			result.Ground = append(result.Ground, id)
		}
	}
	return result, nil
}

func boundsOf(pts []Candidate) geom.Rectangle {
	r := geom.Rectangle{XMin: pts[0].X, YMin: pts[0].Y, XMax: pts[0].X, YMax: pts[0].Y}
	for _, p := range pts[1:] {
		r.XMin = math.Min(r.XMin, p.X)
		r.YMin = math.Min(r.YMin, p.Y)
		r.XMax = math.Max(r.XMax, p.X)
		r.YMax = math.Max(r.YMax, p.Y)
	}
	return r
}

// makeSeeds keeps the lowest candidate per cell of a seed_resolution grid
//. Grounded on PTD::make_seeds.
func makeSeeds(pts []Candidate, bbox geom.Rectangle, res float64) []Candidate {
	g := grid.New(bbox.XMin, bbox.YMin, bbox.XMax, bbox.YMax, res)
	lowest := make([]Candidate, g.NCells)
	for i := range lowest {
		lowest[i].Z = math.Inf(1)
	}
	for _, p := range pts {
		cell := g.CellFromXY(p.X, p.Y)
		if cell < 0 {
			continue
		}
		if p.Z < lowest[cell].Z {
			lowest[cell] = p
		}
	}
	out := make([]Candidate, 0, len(lowest))
	for _, s := range lowest {
		if !math.IsInf(s.Z, 1) {
			out = append(out, s)
		}
	}
	return out
}

// makeBuffer places a jittered ring of virtual seed points buffer_size
// beyond bbox, each taking the z of its nearest real seed. Grounded on PTD::make_buffer.
func makeBuffer(seeds []Candidate, bbox geom.Rectangle, bufferSize, seedRes float64, rng *rand.Rand) []Candidate {
	if bufferSize <= 0 {
		return nil
	}

	xmin := bbox.XMin - (bufferSize - 1)
	ymin := bbox.YMin - (bufferSize - 1)
	xmax := bbox.XMax + (bufferSize - 1)
	ymax := bbox.YMax + (bufferSize - 1)

	dx := xmax - xmin
	dy := ymax - ymin
	nx := int(math.Round(dx / seedRes))
	ny := int(math.Round(dy / seedRes))
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	sx := dx / float64(nx)
	sy := dy / float64(ny)

	jitter := func() float64 { return rng.Float64() - 0.5 }

	var vbuff []Candidate
	for i := 0; i <= nx; i++ {
		x := xmin + float64(i)*sx
		xNoise := jitter()
		vbuff = append(vbuff, Candidate{X: x + xNoise, Y: ymin + jitter()})
		vbuff = append(vbuff, Candidate{X: x + xNoise, Y: ymax + jitter()})
	}
	for j := 1; j < ny; j++ {
		y := ymin + float64(j)*sy
		yNoise := jitter()
		vbuff = append(vbuff, Candidate{X: xmin + jitter(), Y: y + yNoise})
		vbuff = append(vbuff, Candidate{X: xmax + jitter(), Y: y + yNoise})
	}

	assignNearestZ(vbuff, seeds)
	return vbuff
}

// assignNearestZ sets each buffer point's z to that of its nearest seed,
// using a 2-D kd-tree. nanoflann's single-nearest
// query in the vendored source becomes gonum's spatial/kdtree here.
func assignNearestZ(vbuff []Candidate, seeds []Candidate) {
	if len(seeds) == 0 {
		return
	}
	pts := make(kdtree.Points, len(seeds))
	index := make(map[[2]float64]int, len(seeds))
	for i, s := range seeds {
		pts[i] = kdtree.Point{s.X, s.Y}
		index[[2]float64{s.X, s.Y}] = i
	}
	tree := kdtree.New(pts, false)

	for i := range vbuff {
		q := kdtree.Point{vbuff[i].X, vbuff[i].Y}
		got, ok := tree.Nearest(q)
		if !ok {
			continue
		}
		p := got.Comparable.(kdtree.Point)
		if idx, found := index[[2]float64{p[0], p[1]}]; found {
			vbuff[i].Z = seeds[idx].Z
		}
	}
}

// densify grows the TIN by repeatedly testing the remaining candidates
// against Axelsson's angle/distance metrics.
// Grounded on PTD::densify_tin.
//
// The vendored source tracks which grid cells the triangulation itself
// touched during an iteration; this package has no grid-based locator to
// report that, so a candidate's cell and its 8 neighbours are marked dirty
// whenever an insertion lands in it. This is a conservative superset of
// the original's dirty set: it may revisit a few more candidates per pass
// than strictly necessary, but never skips one that should be revisited.
func densify(tri *delaunay.Triangulation, pts []Candidate, inserted map[uint64]bool, owner map[int]uint64, bbox geom.Rectangle, params Params, minTriSq float64) {
	if params.MaxIter == 0 {
		return
	}

	dirty := grid.New(bbox.XMin-params.BufferSize, bbox.YMin-params.BufferSize, bbox.XMax+params.BufferSize, bbox.YMax+params.BufferSize, 1.0)
	active := make([]bool, dirty.NCells)
	for i := range active {
		active[i] = true
	}

	for iteration := 0; iteration < params.MaxIter; iteration++ {
		touched := make(map[int]bool)
		count := 0

		for i := range pts {
			p := pts[i]
			if inserted[p.ID] {
				continue
			}
			cell := dirty.CellFromXY(p.X, p.Y)
			if cell < 0 || !active[cell] {
				continue
			}

			ti := tri.Locate(geom.PointXY{X: p.X, Y: p.Y})
			if ti < 0 {
				continue
			}

			geomTri, za, zb, zc := tri.TriangleAt(ti)
			if geomTri.LongestSquaredEdge() < minTriSq {
				inserted[p.ID] = true
				continue
			}

			tri3 := geom.TriangleXYZ{
				A: geom.PointXYZ{X: geomTri.A.X, Y: geomTri.A.Y, Z: za},
				B: geom.PointXYZ{X: geomTri.B.X, Y: geomTri.B.Y, Z: zb},
				C: geom.PointXYZ{X: geomTri.C.X, Y: geomTri.C.Y, Z: zc},
			}
			dist, angle, ok := axelssonMetrics(geom.PointXYZ{X: p.X, Y: p.Y, Z: p.Z}, tri3)
			if !ok {
				continue
			}
			if angle < params.MaxIterationAngle && dist < params.MaxIterationDistance {
				if okIns, vi := tri.InsertZ(geom.PointXY{X: p.X, Y: p.Y}, p.Z); okIns {
					inserted[p.ID] = true
					owner[vi] = p.ID
					count++
					touched[cell] = true
				}
			}
		}

		next := make([]bool, len(active))
		for cell := range touched {
			row, col := dirty.RowFromCell(cell), dirty.ColFromCell(cell)
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					r, c := row+dr, col+dc
					if r >= 0 && r < dirty.NRows && c >= 0 && c < dirty.NCols {
						next[dirty.CellFromRowCol(r, c)] = true
					}
				}
			}
		}
		active = next

		if count == 0 {
			break
		}
		if float64(count)/float64(len(owner)) < stallFraction {
			break
		}
	}
}

// axelssonMetrics implements the Axelsson (2000) ground-classification
// test for a single candidate against a triangle of the current TIN
//. Grounded on axelsson_metrics (PTD.cpp).
func axelssonMetrics(p geom.PointXYZ, tri geom.TriangleXYZ) (distD, angle float64, ok bool) {
	n := tri.Normal()
	v := p.Sub(tri.A)
	signedDist := v.Dot(n)
	distD = math.Abs(signedDist)

	proj := p.Sub(n.Scale(signedDist))
	if !tri.Contains(proj.X, proj.Y) {
		return 0, 0, false
	}

	h0 := proj.Distance(tri.A)
	h1 := proj.Distance(tri.B)
	h2 := proj.Distance(tri.C)

	alpha := math.Atan2(distD, h0) * 180 / math.Pi
	beta := math.Atan2(distD, h1) * 180 / math.Pi
	gamma := math.Atan2(distD, h2) * 180 / math.Pi

	angle = math.Max(alpha, math.Max(beta, gamma))
	return distD, angle, true
}

// detectSpikes fits a local least-squares plane through each inserted
// vertex's 8 nearest neighbours and flags it a spike if its residual
// exceeds spikeThreshold. Grounded on
// PTD::detect_spikes / distance_to_fitted_plane.
func detectSpikes(tri *delaunay.Triangulation, owner map[int]uint64) map[int]bool {
	indices := make([]int, 0, len(owner))
	for vi := range owner {
		indices = append(indices, vi)
	}

	pts := make(kdtree.Points, len(indices))
	posOf := make(map[[2]float64]int, len(indices))
	for i, vi := range indices {
		p := tri.VertexPos(vi)
		pts[i] = kdtree.Point{p.X, p.Y}
		posOf[[2]float64{p.X, p.Y}] = i
	}
	if len(pts) == 0 {
		return nil
	}
	treeIdx := kdtree.New(pts, false)

	spikes := make(map[int]bool, len(indices))
	for i, vi := range indices {
		q := pts[i]
		neighbours := nearestK(treeIdx, q, spikeNeighbours+1) // +1: includes self

		var xs, ys, zs []float64
		for _, cd := range neighbours {
			p := cd.Comparable.(kdtree.Point)
			if p[0] == q[0] && p[1] == q[1] {
				continue
			}
			idx, found := posOf[[2]float64{p[0], p[1]}]
			if !found {
				continue
			}
			nv := indices[idx]
			npos := tri.VertexPos(nv)
			xs = append(xs, npos.X)
			ys = append(ys, npos.Y)
			zs = append(zs, tri.VertexZ(nv))
		}
		if len(xs) < 3 {
			continue
		}

		qpos := tri.VertexPos(vi)
		if residual, ok := fitPlaneResidual(qpos, tri.VertexZ(vi), xs, ys, zs); ok && math.Abs(residual) > spikeThreshold {
			spikes[vi] = true
		}
	}
	return spikes
}

// nearestK returns the k nearest neighbours of q in tree, sorted by
// ascending distance.
func nearestK(tree *kdtree.Tree, q kdtree.Point, k int) []kdtree.ComparableDist {
	keeper := kdtree.NewNKeeper(k)
	tree.NearestSet(keeper, q)
	out := make([]kdtree.ComparableDist, len(keeper.Heap))
	copy(out, keeper.Heap)
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// fitPlaneResidual fits z' = a*x' + b*y' in coordinates centred on the
// neighbourhood centroid, by direct closed-form normal equations (a fixed
// 2-unknown least squares system: det/a/b below solve it exactly, the same
// way distance_to_fitted_plane does). It returns the signed perpendicular
// residual of query against that plane.
func fitPlaneResidual(query geom.PointXY, queryZ float64, xs, ys, zs []float64) (float64, bool) {
	n := float64(len(xs))
	var cx, cy, cz float64
	for i := range xs {
		cx += xs[i]
		cy += ys[i]
		cz += zs[i]
	}
	cx /= n
	cy /= n
	cz /= n

	var sxx, sxy, syy, sxz, syz float64
	for i := range xs {
		dx := xs[i] - cx
		dy := ys[i] - cy
		dz := zs[i] - cz
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
		sxz += dx * dz
		syz += dy * dz
	}

	det := sxx*syy - sxy*sxy
	if math.Abs(det) < 1e-9 {
		return 0, false
	}

	a := (syy*sxz - sxy*syz) / det
	b := (sxx*syz - sxy*sxz) / det

	predictedZ := a*(query.X-cx) + b*(query.Y-cy) + cz
	residual := queryZ - predictedZ
	normalLength := math.Sqrt(a*a + b*b + 1)
	return residual / normalLength, true
}
