package stages

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-lasr/lasr/internal/delaunay"
	"github.com/go-lasr/lasr/internal/grid"
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// zInterpolator is implemented by a connected triangulate stage. Declared
// narrowly here, rather than importing *Triangulate directly, so rasterize
// only depends on the capability it actually uses.
type zInterpolator interface {
	InterpolateCells(cells []delaunay.RasterCell) bool
}

// streamableMethods lists the per-cell statistics that can be folded into
// a raster cell one point at a time, grounded on
// original_source/src/rasterize.cpp's metrics-based constructor. Anything
// else (e.g. "median") requires every contributing point to be grouped
// per cell first, matching the original's Grouper-based constructor.
var streamableMethods = map[string]bool{
	"min": true, "max": true, "count": true, "sum": true, "mean": true,
}

// Rasterize is the "rasterize" stage. It runs in one of
// three modes, chosen the same way original_source/src/rasterize.cpp
// picks between its three constructors:
//   - connected to a triangulate stage: sample the mesh's linear
//     interpolant at every cell centre (Write-time only, no point
//     processing of its own);
//   - every requested method streamable and window <= resolution: fold
//     each point into its cell incrementally as it streams past;
//   - otherwise: group every point's Z by cell (loaded mode) and compute
//     the statistic once the whole chunk has been seen.
type Rasterize struct {
	stage.Base

	Resolution float64  `stage:"name=res,required"`
	Methods    []string `stage:"name=methods"`
	Window     float64  `stage:"name=window"`
	NoData     float32  `stage:"name=nodata"`

	grid   grid.Grid
	raster *grid.Raster
	count  []uint64 // per band*cell running count, for incremental mean

	groups map[int][]float64 // cell -> z values, grouped mode only

	mesh zInterpolator
}

// NewRasterize is the registry factory for "rasterize".
func NewRasterize() stage.Stage {
	return &Rasterize{Base: stage.NewBase("rasterize"), NoData: grid.NoData}
}

func (r *Rasterize) BindAttrs(attrs map[string]any) error {
	if err := stage.BindAttributes(r, attrs); err != nil {
		return err
	}
	if len(r.Methods) == 0 {
		r.Methods = []string{"max"}
	}
	if r.Window <= 0 {
		r.Window = r.Resolution
	}
	return nil
}

func (r *Rasterize) UpdateConnection(stages map[string]stage.Stage) {
	for _, s := range stages {
		if zi, ok := s.(zInterpolator); ok {
			r.mesh = zi
			return
		}
	}
}

func allStreamable(methods []string) bool {
	for _, m := range methods {
		if !streamableMethods[strings.ToLower(m)] {
			return false
		}
	}
	return true
}

func (r *Rasterize) IsStreamable() bool {
	return r.mesh == nil && allStreamable(r.Methods) && r.Window <= r.Resolution
}

func (r *Rasterize) NeedPoints() bool {
	return r.mesh == nil && !r.IsStreamable()
}

func (r *Rasterize) NeedBuffer() float64 {
	if r.Window > r.Resolution {
		return r.Window / 2
	}
	return 0
}

// RasterAt samples band 1 of this stage's raster at (x,y), the narrow
// capability region_growing connects to.
func (r *Rasterize) RasterAt(x, y float64) (float32, bool) {
	if r.raster == nil {
		return 0, false
	}
	v := r.raster.GetValue(x, y, 1)
	if v == r.raster.NoData {
		return 0, false
	}
	return v, true
}

// ProcessFileCollection sizes the master raster to the whole catalog's
// extent, one band per requested method, grounded on go-gsf's pattern of
// sizing shared output structures from file-collection metadata before
// any chunk runs.
func (r *Rasterize) ProcessFileCollection(fc *partition.Partitioner) error {
	if len(fc.Descriptors) == 0 {
		return fmt.Errorf("rasterize: no input files to derive an extent from")
	}
	bbox := fc.Descriptors[0].Bbox
	for _, d := range fc.Descriptors[1:] {
		bbox = bbox.Union(d.Bbox)
	}
	r.grid = grid.New(bbox.XMin, bbox.YMin, bbox.XMax, bbox.YMax, r.Resolution)
	r.raster = newRaster(r.grid, len(r.Methods), r.NoData)
	return nil
}

// newRaster allocates a Raster over g, overriding the package-default
// NODATA sentinel when the stage was configured with its own.
func newRaster(g grid.Grid, nbands int, nodata float32) *grid.Raster {
	rast := grid.NewRaster(g, nbands)
	if nodata != grid.NoData {
		rast.NoData = nodata
		data := rast.Data()
		for i := range data {
			data[i] = nodata
		}
	}
	return rast
}

// ProcessPoint folds a point into its cell incrementally, streamable mode
// only (min/max/count/sum directly, mean via a running Welford update so
// no finalisation step is needed in Write).
func (r *Rasterize) ProcessPoint(p *point.Point) (stage.BreakSignal, error) {
	if r.raster == nil || p.InBuffer || !r.KeepPoint(p) {
		return stage.Continue, nil
	}
	cell := r.grid.CellFromXY(p.X, p.Y)
	if cell < 0 {
		return stage.Continue, nil
	}
	for band, method := range r.Methods {
		r.foldIncremental(cell, band+1, strings.ToLower(method), p.Z)
	}
	return stage.Continue, nil
}

func (r *Rasterize) foldIncremental(cell, band int, method string, z float64) {
	cur := r.raster.GetValueCell(cell, band)
	switch method {
	case "min":
		if cur == r.raster.NoData || float32(z) < cur {
			r.raster.SetValueCell(cell, float32(z), band)
		}
	case "max":
		if cur == r.raster.NoData || float32(z) > cur {
			r.raster.SetValueCell(cell, float32(z), band)
		}
	case "count":
		if cur == r.raster.NoData {
			cur = 0
		}
		r.raster.SetValueCell(cell, cur+1, band)
	case "sum":
		if cur == r.raster.NoData {
			cur = 0
		}
		r.raster.SetValueCell(cell, cur+float32(z), band)
	case "mean":
		n := r.incrementCount(cell, band)
		if n == 1 {
			r.raster.SetValueCell(cell, float32(z), band)
			return
		}
		mean := float64(cur) + (z-float64(cur))/float64(n)
		r.raster.SetValueCell(cell, float32(mean), band)
	}
}

func (r *Rasterize) incrementCount(cell, band int) uint64 {
	if r.count == nil {
		r.count = make([]uint64, r.grid.NCells*len(r.Methods))
	}
	idx := (band-1)*r.grid.NCells + cell
	r.count[idx]++
	return r.count[idx]
}

// ProcessPointCloud handles grouped (non-streamable) mode: every point in
// the chunk, including buffer points, is bucketed by cell so Write can
// compute a non-incremental statistic (e.g. median) over the full set.
func (r *Rasterize) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	if r.raster == nil || r.mesh != nil {
		return stage.Continue, nil
	}
	if r.groups == nil {
		r.groups = make(map[int][]float64)
	}
	for i := range pts {
		p := &pts[i]
		if !r.KeepPoint(p) {
			continue
		}
		cell := r.grid.CellFromXY(p.X, p.Y)
		if cell < 0 {
			continue
		}
		r.groups[cell] = append(r.groups[cell], p.Z)
	}
	return stage.Continue, nil
}

// Write runs in mesh mode and grouped mode (both non-streamable, so the
// engine's loaded-mode dispatch calls Write once the chunk has been
// fully seen). Streamable mode needs no finalisation: ProcessPoint
// already wrote every cell's final value.
func (r *Rasterize) Write() error {
	if r.raster == nil {
		return nil
	}
	switch {
	case r.mesh != nil:
		return r.writeFromMesh()
	case !r.IsStreamable():
		return r.writeFromGroups()
	default:
		return nil
	}
}

func (r *Rasterize) writeFromMesh() error {
	cells := make([]delaunay.RasterCell, r.grid.NCells)
	for c := 0; c < r.grid.NCells; c++ {
		x, y := r.grid.CellCenter(c)
		cells[c] = delaunay.RasterCell{X: x, Y: y}
	}
	if !r.mesh.InterpolateCells(cells) {
		return nil
	}
	for c, rc := range cells {
		if rc.Z == nil {
			continue
		}
		r.raster.SetValueCell(c, float32(*rc.Z), 1)
	}
	return nil
}

func (r *Rasterize) writeFromGroups() error {
	for cell, zs := range r.groups {
		for band, method := range r.Methods {
			v, ok := groupStatistic(strings.ToLower(method), zs)
			if ok {
				r.raster.SetValueCell(cell, float32(v), band+1)
			}
		}
	}
	return nil
}

// groupStatistic computes one aggregate over a cell's collected Z values,
// covering both the incrementally-foldable methods (recomputed the plain
// way here since grouped mode already holds every value) and median,
// which only grouped mode can produce.
func groupStatistic(method string, zs []float64) (float64, bool) {
	if len(zs) == 0 {
		return 0, false
	}
	switch method {
	case "min":
		m := zs[0]
		for _, z := range zs[1:] {
			if z < m {
				m = z
			}
		}
		return m, true
	case "max":
		m := zs[0]
		for _, z := range zs[1:] {
			if z > m {
				m = z
			}
		}
		return m, true
	case "count":
		return float64(len(zs)), true
	case "sum":
		var s float64
		for _, z := range zs {
			s += z
		}
		return s, true
	case "mean":
		var s float64
		for _, z := range zs {
			s += z
		}
		return s / float64(len(zs)), true
	case "median":
		sorted := append([]float64(nil), zs...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid], true
		}
		return (sorted[mid-1] + sorted[mid]) / 2, true
	default:
		return 0, false
	}
}

func (r *Rasterize) Clone() stage.Stage {
	return &Rasterize{
		Base:       r.CloneBase(),
		Resolution: r.Resolution,
		Methods:    r.Methods,
		Window:     r.Window,
		NoData:     r.NoData,
		grid:       r.grid,
		raster:     newRaster(r.grid, len(r.Methods), r.NoData),
		mesh:       r.mesh,
	}
}

// Merge folds a worker's raster into the master's, band by band, using
// each method's combination rule (min/max recombine directly, sum/count
// add; for mean and median a worker value only fills a cell the master
// has not set yet).
func (r *Rasterize) Merge(other stage.Stage) error {
	o, ok := other.(*Rasterize)
	if !ok {
		return fmt.Errorf("rasterize: Merge expects *Rasterize, got %T", other)
	}
	if o.raster == nil {
		return nil
	}
	if r.raster == nil {
		r.raster = o.raster
		r.count = o.count
		return nil
	}
	for c := 0; c < r.grid.NCells; c++ {
		for band, method := range r.Methods {
			mergeCell(r, o, c, band+1, strings.ToLower(method))
		}
	}
	return nil
}

func mergeCell(r, o *Rasterize, cell, band int, method string) {
	wv := o.raster.GetValueCell(cell, band)
	if wv == o.raster.NoData {
		return
	}
	mv := r.raster.GetValueCell(cell, band)
	switch method {
	case "min":
		if mv == r.raster.NoData || wv < mv {
			r.raster.SetValueCell(cell, wv, band)
		}
	case "max":
		if mv == r.raster.NoData || wv > mv {
			r.raster.SetValueCell(cell, wv, band)
		}
	case "count", "sum":
		if mv == r.raster.NoData {
			mv = 0
		}
		r.raster.SetValueCell(cell, mv+wv, band)
	default:
		// mean and median are not recombined: the value the master
		// already holds for a cell is kept, and a worker's value is used
		// only where the master cell is still NoData. Rasterize chunks
		// are spatially disjoint outside the buffer ring.
		if mv == r.raster.NoData {
			r.raster.SetValueCell(cell, wv, band)
		}
	}
}
