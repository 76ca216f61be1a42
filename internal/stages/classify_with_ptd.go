package stages

import (
	"fmt"

	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/ptd"
	"github.com/go-lasr/lasr/internal/stage"
)

// spikeClassCode is the ASPRS "low point (noise)" classification code.
const spikeClassCode uint8 = 7

// ClassifyWithPtd is the "classify_with_ptd" stage: it
// grows a TIN from low seeds over every point in a chunk and overwrites
// each point's classification to ClassCode for ground ids and to
// spikeClassCode for detected spikes; every other point keeps its
// original class. Grounded on
// original_source/src/LASRstages/ptd.{h,cpp}, the stage that drives
// internal/ptd.Run (itself ported from the vendored PTD.{h,cpp}).
type ClassifyWithPtd struct {
	stage.Base

	SeedResolution       float64 `stage:"name=seed_resolution,required"`
	MaxIterationAngle    float64 `stage:"name=max_iteration_angle"`
	MaxIterationDistance float64 `stage:"name=max_iteration_distance"`
	MinTriangleSize      float64 `stage:"name=min_triangle_size"`
	BufferSize           float64 `stage:"name=buffer_size"`
	MaxIter              int     `stage:"name=max_iter"`
	ClassCode            uint8   `stage:"name=class_code"`
}

// NewClassifyWithPtd is the registry factory for "classify_with_ptd".
func NewClassifyWithPtd() stage.Stage {
	return &ClassifyWithPtd{Base: stage.NewBase("classify_with_ptd"), ClassCode: 2}
}

func (c *ClassifyWithPtd) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(c, attrs)
}

// IsStreamable is always false: densification needs every point of a
// chunk in hand before any one of them can be classified, the same
// loaded-mode-only requirement as triangulate.cpp's whole-cloud
// `process(LAS*&)` path.
func (c *ClassifyWithPtd) IsStreamable() bool { return false }
func (c *ClassifyWithPtd) NeedPoints() bool   { return true }
func (c *ClassifyWithPtd) NeedBuffer() float64 {
	return c.BufferSize
}

func (c *ClassifyWithPtd) params() ptd.Params {
	return ptd.Params{
		SeedResolution:       c.SeedResolution,
		MaxIterationAngle:    c.MaxIterationAngle,
		MaxIterationDistance: c.MaxIterationDistance,
		MinTriangleSize:      c.MinTriangleSize,
		BufferSize:           c.BufferSize,
		MaxIter:              c.MaxIter,
	}
}

// ProcessPointCloud does all of classify_with_ptd's work: unlike
// region_growing's flood fill, PTD needs no sibling stage's state, only
// the points already in its own cloud, so there is nothing left to do
// once every point has been seen and no Write hook is needed.
func (c *ClassifyWithPtd) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	if len(pts) == 0 {
		return stage.Continue, nil
	}

	candidates := make([]ptd.Candidate, 0, len(pts))
	byID := make(map[uint64]int, len(pts))
	for i := range pts {
		p := &pts[i]
		if !c.KeepPoint(p) {
			continue
		}
		candidates = append(candidates, ptd.Candidate{X: p.X, Y: p.Y, Z: p.Z, ID: p.PointID})
		byID[p.PointID] = i
	}
	if len(candidates) == 0 {
		return stage.Continue, nil
	}

	result, err := ptd.Run(candidates, c.params())
	if err != nil {
		return stage.Continue, fmt.Errorf("classify_with_ptd: %w", err)
	}

	for _, id := range result.Ground {
		if i, ok := byID[id]; ok {
			pts[i].Classification = c.ClassCode
		}
	}
	for _, id := range result.Spike {
		if i, ok := byID[id]; ok {
			pts[i].Classification = spikeClassCode
		}
	}
	return stage.Continue, nil
}

func (c *ClassifyWithPtd) Clone() stage.Stage {
	return &ClassifyWithPtd{
		Base:                 c.CloneBase(),
		SeedResolution:       c.SeedResolution,
		MaxIterationAngle:    c.MaxIterationAngle,
		MaxIterationDistance: c.MaxIterationDistance,
		MinTriangleSize:      c.MinTriangleSize,
		BufferSize:           c.BufferSize,
		MaxIter:              c.MaxIter,
		ClassCode:            c.ClassCode,
	}
}

func (c *ClassifyWithPtd) Merge(stage.Stage) error { return nil }
