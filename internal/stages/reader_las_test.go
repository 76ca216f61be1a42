package stages

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/las"
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/point"
)

// writeTestLas encodes a minimal LAS 1.4 format-1 file with pts at pth.
func writeTestLas(t *testing.T, pth string, pts []point.Point) point.FileDescriptor {
	t.Helper()

	bbox := geom.NewRectangle(pts[0].X, pts[0].Y, pts[0].X, pts[0].Y)
	zmin, zmax := pts[0].Z, pts[0].Z
	for _, p := range pts[1:] {
		if p.X < bbox.XMin {
			bbox.XMin = p.X
		}
		if p.X > bbox.XMax {
			bbox.XMax = p.X
		}
		if p.Y < bbox.YMin {
			bbox.YMin = p.Y
		}
		if p.Y > bbox.YMax {
			bbox.YMax = p.Y
		}
		if p.Z < zmin {
			zmin = p.Z
		}
		if p.Z > zmax {
			zmax = p.Z
		}
	}

	h := las.Header{
		VersionMinor:      4,
		PointFormat:       1,
		PointRecordLength: 28,
		Scale:             [3]float64{0.001, 0.001, 0.001},
		Offset:            [3]float64{0, 0, 0},
		Bbox:              bbox,
		ZMin:              zmin,
		ZMax:              zmax,
		PointCount:        uint64(len(pts)),
		OffsetToPointData: las.HeaderSize14,
	}

	var buf bytes.Buffer
	if err := las.EncodeHeader(&buf, h); err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	for _, p := range pts {
		if err := las.EncodePoint(&buf, h, p); err != nil {
			t.Fatalf("EncodePoint: %v", err)
		}
	}

	if err := os.WriteFile(pth, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing %s: %v", pth, err)
	}

	return point.FileDescriptor{Path: pth, Bbox: bbox, ZMin: zmin, ZMax: zmax, Count: uint64(len(pts))}
}

func TestLasReaderStreamsMainThenNeighbourFiles(t *testing.T) {
	dir := t.TempDir()

	main := writeTestLas(t, filepath.Join(dir, "main.las"), []point.Point{
		{X: 1, Y: 1, Z: 10},
		{X: 2, Y: 2, Z: 11},
	})
	neighbour := writeTestLas(t, filepath.Join(dir, "neighbour.las"), []point.Point{
		{X: -5, Y: -5, Z: 9},
	})

	r := NewLasReader().(*LasReader)
	chunk := partition.Chunk{
		Name:           "main",
		Bbox:           main.Bbox,
		MainFiles:      []point.FileDescriptor{main},
		NeighbourFiles: []point.FileDescriptor{neighbour},
	}
	r.SetChunk(chunk)

	h := r.ChunkHeader()
	if h.Count != 3 {
		t.Fatalf("ChunkHeader().Count = %d, want 3", h.Count)
	}

	var got []point.Point
	for {
		p, err := r.NextPoint()
		if err != nil {
			t.Fatalf("NextPoint: %v", err)
		}
		if p == nil {
			break
		}
		got = append(got, *p)
	}

	if len(got) != 3 {
		t.Fatalf("read %d points, want 3", len(got))
	}
	if got[0].InBuffer || got[1].InBuffer {
		t.Errorf("main-file points incorrectly flagged InBuffer")
	}
	if !got[2].InBuffer {
		t.Errorf("neighbour-file point outside the chunk bbox should be InBuffer")
	}
	if got[2].FileID != 1 {
		t.Errorf("neighbour point FileID = %d, want 1", got[2].FileID)
	}

	if err := r.Clear(true); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}

func TestLasReaderEmptyChunkErrors(t *testing.T) {
	r := NewLasReader().(*LasReader)
	r.SetChunk(partition.Chunk{Name: "empty"})
	if _, err := r.NextPoint(); err == nil {
		t.Errorf("expected an error reading a chunk with no input files")
	}
}

func TestLasReaderAppliesFilter(t *testing.T) {
	dir := t.TempDir()
	main := writeTestLas(t, filepath.Join(dir, "main.las"), []point.Point{
		{X: 1, Y: 1, Z: 10, Classification: 2},
		{X: 2, Y: 2, Z: 11, Classification: 7},
	})

	r := NewLasReader().(*LasReader)
	if err := r.SetFilter("-keep_class 2"); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	r.SetChunk(partition.Chunk{Name: "main", Bbox: main.Bbox, MainFiles: []point.FileDescriptor{main}})

	var got []point.Point
	for {
		p, err := r.NextPoint()
		if err != nil {
			t.Fatalf("NextPoint: %v", err)
		}
		if p == nil {
			break
		}
		got = append(got, *p)
	}
	if len(got) != 1 || got[0].Classification != 2 {
		t.Fatalf("filter did not restrict to class 2, got %+v", got)
	}
}
