package stages

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// PcdWriter is the "write_pcd" stage: an ASCII PCL .pcd writer, one of
// this package's thin writer drivers. Nothing in the retrieved source
// covers the PCD format (it is a PCL convention, not a LAStools one), so
// this writer is hand-rolled on the standard library rather than
// grounded on a specific reference file; its shape (lazy per-chunk-vs-
// merged buffering, Sort-time flush) still follows write_las/write_copc
// for consistency with the rest of this package. The ASCII header/body
// split is fixed, whitespace-separated text with no framing or
// compression, so no third-party encoder applies here either.
type PcdWriter struct {
	stage.Base

	KeepBuffer bool `stage:"name=keep_buffer"`

	pts    []point.Point
	merged []bufferedChunk
}

// NewPcdWriter is the registry factory for "write_pcd".
func NewPcdWriter() stage.Stage {
	return &PcdWriter{Base: stage.NewBase("write_pcd")}
}

func (w *PcdWriter) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(w, attrs)
}

func (w *PcdWriter) keep(p *point.Point) bool {
	if p.InBuffer && !w.KeepBuffer {
		return false
	}
	return w.KeepPoint(p)
}

func (w *PcdWriter) ProcessPoint(p *point.Point) (stage.BreakSignal, error) {
	if w.keep(p) {
		w.pts = append(w.pts, *p)
	}
	return stage.Continue, nil
}

func (w *PcdWriter) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	for i := range pts {
		if w.keep(&pts[i]) {
			w.pts = append(w.pts, pts[i])
		}
	}
	return stage.Continue, nil
}

func (w *PcdWriter) Clear(lastChunk bool) error {
	if w.OutputTmpl == "" {
		w.pts = nil
		return nil
	}
	if w.PerChunkOutput() {
		err := writePcdFile(outputPath(w.OutputTmpl, w.Chunk.Name), w.pts)
		w.pts = nil
		return err
	}
	if len(w.pts) > 0 {
		w.merged = append(w.merged, bufferedChunk{index: w.Chunk.Index, pts: w.pts})
	}
	w.pts = nil
	return nil
}

func writePcdFile(path string, pts []point.Point) error {
	if path == "" || len(pts) == 0 {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write_pcd: creating %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	fmt.Fprintln(bw, "# .PCD v0.7 - Point Cloud Data file format")
	fmt.Fprintln(bw, "VERSION 0.7")
	fmt.Fprintln(bw, "FIELDS x y z intensity classification")
	fmt.Fprintln(bw, "SIZE 4 4 4 2 1")
	fmt.Fprintln(bw, "TYPE F F F U U")
	fmt.Fprintln(bw, "COUNT 1 1 1 1 1")
	fmt.Fprintf(bw, "WIDTH %d\n", len(pts))
	fmt.Fprintln(bw, "HEIGHT 1")
	fmt.Fprintln(bw, "VIEWPOINT 0 0 0 1 0 0 0")
	fmt.Fprintf(bw, "POINTS %d\n", len(pts))
	fmt.Fprintln(bw, "DATA ascii")
	for _, p := range pts {
		fmt.Fprintf(bw, "%g %g %g %d %d\n", p.X, p.Y, p.Z, p.Intensity, p.Classification)
	}
	return bw.Flush()
}

func (w *PcdWriter) Clone() stage.Stage {
	return &PcdWriter{Base: w.CloneBase(), KeepBuffer: w.KeepBuffer}
}

func (w *PcdWriter) Merge(other stage.Stage) error {
	o, ok := other.(*PcdWriter)
	if !ok {
		return errStageMergeType("write_pcd", other)
	}
	if w.PerChunkOutput() {
		return nil
	}
	w.merged = append(w.merged, o.merged...)
	return nil
}

// Sort implements pipeline.Sorter: merged-mode write_pcd flushes the
// whole accumulated point set, in chunk-id order, once every chunk has
// folded in.
func (w *PcdWriter) Sort() error {
	if w.PerChunkOutput() || len(w.merged) == 0 {
		return nil
	}
	sort.Slice(w.merged, func(i, j int) bool { return w.merged[i].index < w.merged[j].index })

	var all []point.Point
	for _, b := range w.merged {
		all = append(all, b.pts...)
	}
	return writePcdFile(w.OutputTmpl, all)
}
