package stages

import (
	"math"

	"github.com/go-lasr/lasr/internal/grid"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// Seed is one detected local maximum: a tree-top candidate for the
// region-growing stage to expand from.
type Seed struct {
	X, Y, Z float64
	ID      uint64
}

// seedProvider is implemented by LocalMaximum; region_growing connects to
// it through this narrow interface rather than importing *LocalMaximum
// directly.
type seedProvider interface {
	Seeds() []Seed
}

// quantizeKey packs a point rounded to the nearest res into a single
// deterministic 64-bit key"), grounded on original_source/src/localmaximum.cpp's
// unicity_table: two chunks that independently detect the same maximum
// near a shared buffer boundary compute the same id without needing a
// counter shared across goroutines.
func quantizeKey(x, y, res float64) uint64 {
	if res <= 0 {
		res = 1
	}
	qx := int32(math.Round(x / res))
	qy := int32(math.Round(y / res))
	return uint64(uint32(qx))<<32 | uint64(uint32(qy))
}

// LocalMaximum is the "local_maximum" stage: for every
// candidate point, it is kept only if no other point within radius ws/2
// has a strictly greater Z, with ties broken by (x,y) ordering so exactly
// one of two equal-height points survives. Grounded on
// original_source/src/localmaximum.cpp's LASRlocalmaximum, whose OpenMP
// loop and unicity_table this package's sequential cell-bucket scan and
// quantizeKey play the same role for.
type LocalMaximum struct {
	stage.Base

	WindowSize float64 `stage:"name=ws,required"`
	MinHeight  float64 `stage:"name=min_height"`

	seeds []Seed
}

// NewLocalMaximum is the registry factory for "local_maximum".
func NewLocalMaximum() stage.Stage {
	return &LocalMaximum{Base: stage.NewBase("local_maximum")}
}

func (m *LocalMaximum) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(m, attrs)
}

func (m *LocalMaximum) NeedPoints() bool   { return true }
func (m *LocalMaximum) IsStreamable() bool { return false }
func (m *LocalMaximum) NeedBuffer() float64 {
	return m.WindowSize / 2
}

// Seeds returns the local maxima accumulated so far (master-stage view
// after Merge has folded in every chunk's worker).
func (m *LocalMaximum) Seeds() []Seed { return m.seeds }

func (m *LocalMaximum) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	if len(pts) == 0 {
		return stage.Continue, nil
	}

	bbox := m.Header.Bbox.Buffered(m.WindowSize)
	g := grid.New(bbox.XMin, bbox.YMin, bbox.XMax, bbox.YMax, m.WindowSize)

	buckets := make(map[int][]int, g.NCells)
	kept := make([]bool, len(pts))
	for i := range pts {
		p := &pts[i]
		if !m.KeepPoint(p) {
			continue
		}
		kept[i] = true
		cell := g.CellFromXY(p.X, p.Y)
		if cell < 0 {
			continue
		}
		buckets[cell] = append(buckets[cell], i)
	}

	radius := m.WindowSize / 2
	radiusSq := radius * radius

	for i := range pts {
		p := &pts[i]
		if p.InBuffer || !kept[i] || p.Z < m.MinHeight {
			continue
		}
		cell := g.CellFromXY(p.X, p.Y)
		if cell < 0 {
			continue
		}
		if !m.isLocalMaximum(pts, buckets, g, cell, i, radiusSq) {
			continue
		}
		m.seeds = append(m.seeds, Seed{X: p.X, Y: p.Y, Z: p.Z, ID: quantizeKey(p.X, p.Y, 0.01)})
	}
	return stage.Continue, nil
}

func (m *LocalMaximum) isLocalMaximum(pts []point.Point, buckets map[int][]int, g grid.Grid, cell, i int, radiusSq float64) bool {
	p := pts[i]
	cells := append(g.GetAdjacentCells(cell, grid.Queen), cell)
	for _, nc := range cells {
		for _, j := range buckets[nc] {
			if j == i {
				continue
			}
			q := pts[j]
			dx, dy := q.X-p.X, q.Y-p.Y
			if dx*dx+dy*dy > radiusSq {
				continue
			}
			if q.Z > p.Z {
				return false
			}
			if q.Z == p.Z && (q.X < p.X || (q.X == p.X && q.Y < p.Y)) {
				return false
			}
		}
	}
	return true
}

func (m *LocalMaximum) Clone() stage.Stage {
	return &LocalMaximum{Base: m.CloneBase(), WindowSize: m.WindowSize, MinHeight: m.MinHeight}
}

func (m *LocalMaximum) Merge(other stage.Stage) error {
	o, ok := other.(*LocalMaximum)
	if !ok {
		return errStageMergeType("local_maximum", other)
	}
	m.seeds = append(m.seeds, o.seeds...)
	return nil
}
