package stages

import (
	"testing"

	"github.com/go-lasr/lasr/internal/point"
)

func flatGridPoints(n int, step float64) []point.Point {
	pts := make([]point.Point, 0, n*n)
	var id uint64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, point.Point{X: float64(i) * step, Y: float64(j) * step, Z: 0, PointID: id})
			id++
		}
	}
	return pts
}

func TestClassifyWithPtdMarksFlatGridGround(t *testing.T) {
	c := NewClassifyWithPtd().(*ClassifyWithPtd)
	c.SeedResolution = 5
	c.MaxIterationAngle = 80
	c.MaxIterationDistance = 5
	c.MinTriangleSize = 0.01
	c.BufferSize = 3
	c.MaxIter = 20

	pts := flatGridPoints(10, 1.0)
	if _, err := c.ProcessPointCloud(pts); err != nil {
		t.Fatalf("ProcessPointCloud: %v", err)
	}

	groundCount := 0
	for _, p := range pts {
		if p.Classification == c.ClassCode {
			groundCount++
		}
	}
	if groundCount == 0 {
		t.Fatal("expected at least some points classified as ground on a flat grid")
	}
}

func TestClassifyWithPtdLeavesOutlierUnclassified(t *testing.T) {
	c := NewClassifyWithPtd().(*ClassifyWithPtd)
	c.SeedResolution = 5
	c.MaxIterationAngle = 80
	c.MaxIterationDistance = 5
	c.MinTriangleSize = 0.01
	c.BufferSize = 3
	c.MaxIter = 20

	pts := flatGridPoints(10, 1.0)
	pts = append(pts, point.Point{X: 4.5, Y: 4.5, Z: 50, PointID: uint64(len(pts))})

	if _, err := c.ProcessPointCloud(pts); err != nil {
		t.Fatalf("ProcessPointCloud: %v", err)
	}

	outlier := pts[len(pts)-1]
	if outlier.Classification == c.ClassCode {
		t.Fatalf("far outlier should not be classified as ground, got class %d", outlier.Classification)
	}
}

func TestClassifyWithPtdEmptyCloud(t *testing.T) {
	c := NewClassifyWithPtd().(*ClassifyWithPtd)
	c.SeedResolution = 5
	c.MaxIterationDistance = 1
	if _, err := c.ProcessPointCloud(nil); err != nil {
		t.Fatalf("ProcessPointCloud on empty cloud should not error: %v", err)
	}
}
