package stages

import (
	"math"
	"sort"

	"github.com/go-lasr/lasr/internal/grid"
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/stage"
)

// rasterSampler is implemented by Rasterize; region_growing connects to
// a CHM-producing rasterize stage through this narrow interface.
type rasterSampler interface {
	RasterAt(x, y float64) (float32, bool)
}

// RegionGrowing is the "region_growing" stage: starting
// from every local-maximum seed, it floods rook-adjacent cells of a
// connected CHM raster while the pixel value stays above
// max(hSeed*th_seed, mhCrown*th_crown, th_tree) and within max_radius of
// the seed. Grounded on original_source/src/regiongrowing.cpp's
// LASRregiongrowing, whose MIN3(...) lower bound is redefined here as
// this max(...) formula; the original's upper bound
// threshold2 = hSeed + hSeed*0.05 is kept as a supplemental cap, harmless
// since it only ever trims clearly-too-tall outliers off a crown.
type RegionGrowing struct {
	stage.Base

	Resolution float64 `stage:"name=res,required"`
	ThSeed     float64 `stage:"name=th_seed"`
	ThCrown    float64 `stage:"name=th_crown"`
	ThTree     float64 `stage:"name=th_tree"`
	MaxRadius  float64 `stage:"name=max_radius"`

	grid grid.Grid

	seeds seedProvider
	chm   rasterSampler

	crowns  map[uint64][]int // seed id -> claimed cell indices
	claimed map[int]uint64   // cell -> owning seed id, this worker only
}

// NewRegionGrowing is the registry factory for "region_growing".
func NewRegionGrowing() stage.Stage {
	return &RegionGrowing{Base: stage.NewBase("region_growing")}
}

func (rg *RegionGrowing) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(rg, attrs)
}

func (rg *RegionGrowing) UpdateConnection(stages map[string]stage.Stage) {
	for _, s := range stages {
		if sp, ok := s.(seedProvider); ok {
			rg.seeds = sp
		}
		if rs, ok := s.(rasterSampler); ok {
			rg.chm = rs
		}
	}
}

// IsStreamable is always false: the flood fill can only run in Write,
// once every point in the chunk has fed the connected seed finder and
// raster runs after process()").
func (rg *RegionGrowing) IsStreamable() bool { return false }
func (rg *RegionGrowing) NeedPoints() bool   { return false }
func (rg *RegionGrowing) NeedBuffer() float64 {
	return rg.MaxRadius
}

func (rg *RegionGrowing) ProcessFileCollection(fc *partition.Partitioner) error {
	if len(fc.Descriptors) == 0 {
		return nil
	}
	bbox := fc.Descriptors[0].Bbox
	for _, d := range fc.Descriptors[1:] {
		bbox = bbox.Union(d.Bbox)
	}
	rg.grid = grid.New(bbox.XMin, bbox.YMin, bbox.XMax, bbox.YMax, rg.Resolution)
	return nil
}

// Crowns returns, per seed id, the flat cell indices grown this run
// (master-stage view, after Merge has folded every chunk's worker in).
func (rg *RegionGrowing) Crowns() map[uint64][]int { return rg.crowns }

func (rg *RegionGrowing) Write() error {
	if rg.seeds == nil || rg.chm == nil {
		return nil
	}
	seeds := append([]Seed(nil), rg.seeds.Seeds()...)
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Z > seeds[j].Z })

	if rg.claimed == nil {
		rg.claimed = make(map[int]uint64)
	}
	if rg.crowns == nil {
		rg.crowns = make(map[uint64][]int)
	}

	for _, s := range seeds {
		rg.growFrom(s)
	}
	return nil
}

func (rg *RegionGrowing) growFrom(seed Seed) {
	start := rg.grid.CellFromXY(seed.X, seed.Y)
	if start < 0 {
		return
	}
	if _, taken := rg.claimed[start]; taken {
		return
	}

	distSq := rg.MaxRadius * rg.MaxRadius
	threshold2 := seed.Z + seed.Z*0.05

	rg.claim(start, seed.ID)
	sum, count := 0.0, 0.0
	if v, ok := rg.chm.RasterAt(seed.X, seed.Y); ok {
		sum, count = float64(v), 1
	}

	queue := []int{start}
	for len(queue) > 0 {
		cell := queue[0]
		queue = queue[1:]

		for _, nb := range rg.grid.GetAdjacentCells(cell, grid.Rook) {
			if _, taken := rg.claimed[nb]; taken {
				continue
			}
			x, y := rg.grid.CellCenter(nb)
			dx, dy := x-seed.X, y-seed.Y
			if dx*dx+dy*dy > distSq {
				continue
			}
			v, ok := rg.chm.RasterAt(x, y)
			if !ok {
				continue
			}

			mhCrown := 0.0
			if count > 0 {
				mhCrown = sum / count
			}
			threshold1 := math.Max(seed.Z*rg.ThSeed, math.Max(mhCrown*rg.ThCrown, rg.ThTree))
			if float64(v) <= threshold1 || float64(v) > threshold2 {
				continue
			}

			rg.claim(nb, seed.ID)
			sum += float64(v)
			count++
			queue = append(queue, nb)
		}
	}
}

func (rg *RegionGrowing) claim(cell int, id uint64) {
	rg.claimed[cell] = id
	rg.crowns[id] = append(rg.crowns[id], cell)
}

func (rg *RegionGrowing) Clone() stage.Stage {
	return &RegionGrowing{
		Base:       rg.CloneBase(),
		Resolution: rg.Resolution,
		ThSeed:     rg.ThSeed,
		ThCrown:    rg.ThCrown,
		ThTree:     rg.ThTree,
		MaxRadius:  rg.MaxRadius,
		grid:       rg.grid,
	}
}

func (rg *RegionGrowing) Merge(other stage.Stage) error {
	o, ok := other.(*RegionGrowing)
	if !ok {
		return errStageMergeType("region_growing", other)
	}
	if rg.crowns == nil {
		rg.crowns = make(map[uint64][]int)
	}
	for id, cells := range o.crowns {
		rg.crowns[id] = append(rg.crowns[id], cells...)
	}
	return nil
}
