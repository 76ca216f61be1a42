package stages

import (
	"testing"

	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/point"
)

func TestLocalMaximumKeepsOnlyTallestInWindow(t *testing.T) {
	m := NewLocalMaximum().(*LocalMaximum)
	m.WindowSize = 4

	m.SetHeader(point.Header{Bbox: geom.NewRectangle(0, 0, 20, 20)})

	pts := []point.Point{
		{X: 5, Y: 5, Z: 10},
		{X: 5.5, Y: 5.5, Z: 20},
		{X: 15, Y: 15, Z: 8},
	}
	if _, err := m.ProcessPointCloud(pts); err != nil {
		t.Fatalf("ProcessPointCloud: %v", err)
	}

	seeds := m.Seeds()
	if len(seeds) != 2 {
		t.Fatalf("expected 2 local maxima (one per cluster), got %d: %+v", len(seeds), seeds)
	}
	foundTall, foundFar := false, false
	for _, s := range seeds {
		if s.Z == 20 {
			foundTall = true
		}
		if s.Z == 8 {
			foundFar = true
		}
		if s.Z == 10 {
			t.Fatalf("shorter nearby point should have been suppressed, got seed %+v", s)
		}
	}
	if !foundTall || !foundFar {
		t.Fatalf("expected the tallest point of each cluster to survive, got %+v", seeds)
	}
}

func TestLocalMaximumMinHeightExcludesShortPoints(t *testing.T) {
	m := NewLocalMaximum().(*LocalMaximum)
	m.WindowSize = 4
	m.MinHeight = 5

	m.SetHeader(point.Header{Bbox: geom.NewRectangle(0, 0, 20, 20)})

	pts := []point.Point{{X: 5, Y: 5, Z: 2}}
	if _, err := m.ProcessPointCloud(pts); err != nil {
		t.Fatalf("ProcessPointCloud: %v", err)
	}
	if len(m.Seeds()) != 0 {
		t.Fatalf("expected no seeds below min_height, got %+v", m.Seeds())
	}
}

func TestLocalMaximumMergeCombinesWorkerSeeds(t *testing.T) {
	a := NewLocalMaximum().(*LocalMaximum)
	a.seeds = []Seed{{X: 1, Y: 1, Z: 5, ID: 1}}
	b := NewLocalMaximum().(*LocalMaximum)
	b.seeds = []Seed{{X: 2, Y: 2, Z: 6, ID: 2}}

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(a.Seeds()) != 2 {
		t.Fatalf("expected 2 merged seeds, got %d", len(a.Seeds()))
	}
}
