package stages

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/point"
)

func TestPcdWriterPerChunkWritesAsciiHeader(t *testing.T) {
	dir := t.TempDir()
	w := NewPcdWriter().(*PcdWriter)
	w.SetOutputFile(filepath.Join(dir, "out_*.pcd"))
	w.SetChunk(partition.Chunk{Name: "chunk0", Index: 0})

	pts := []point.Point{{X: 1, Y: 2, Z: 3, Intensity: 100, Classification: 2}}
	for i := range pts {
		if _, err := w.ProcessPoint(&pts[i]); err != nil {
			t.Fatalf("ProcessPoint: %v", err)
		}
	}
	if err := w.Clear(true); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "out_chunk0.pcd"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 || lines[0] != "# .PCD v0.7 - Point Cloud Data file format" {
		t.Fatalf("unexpected header: %v", lines)
	}
	found := false
	for _, l := range lines {
		if l == "POINTS 1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected POINTS 1 in output, got: %v", lines)
	}
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "1 2 3 100 2") {
		t.Fatalf("last data line = %q, want point values", last)
	}
}
