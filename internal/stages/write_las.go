package stages

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/las"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// pointRecordLength is the on-disk record length for the core point data
// formats write_las supports, grounded on las/pointrecord.go's encode
// layout (format 1 == 28 bytes, matching las_test.go's own constant).
func pointRecordLength(format uint8) uint16 {
	switch format {
	case 0:
		return 20
	case 1:
		return 28
	case 2:
		return 26
	case 3:
		return 34
	case 6:
		return 30
	case 7:
		return 36
	case 8:
		return 38
	default:
		return 20
	}
}

// bufferedChunk is one chunk's worth of points held for a merged
// (non-per-chunk) write_las output, kept in chunk Index order so the
// final file doesn't depend on which worker finished first.
type bufferedChunk struct {
	index int
	pts   []point.Point
}

// LasWriter is the "write_las" stage, grounded on
// original_source/src/writelas.cpp's LASRlaswriter: a `*` in the output
// template writes one file per chunk as soon as that chunk's Clear runs;
// otherwise every chunk's points are buffered and written once, in
// chunk-id order, when the engine's post-run Sort hook fires.
type LasWriter struct {
	stage.Base

	KeepBuffer bool `stage:"name=keep_buffer"`

	header point.Header
	pts    []point.Point
	merged []bufferedChunk
}

// NewLasWriter is the registry factory for "write_las".
func NewLasWriter() stage.Stage {
	return &LasWriter{Base: stage.NewBase("write_las")}
}

func (w *LasWriter) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(w, attrs)
}

func (w *LasWriter) ProcessHeader(h *point.Header) error {
	w.header = *h
	w.pts = nil
	return nil
}

func (w *LasWriter) keep(p *point.Point) bool {
	if p.InBuffer && !w.KeepBuffer {
		return false
	}
	return w.KeepPoint(p)
}

func (w *LasWriter) ProcessPoint(p *point.Point) (stage.BreakSignal, error) {
	if w.keep(p) {
		w.pts = append(w.pts, *p)
	}
	return stage.Continue, nil
}

func (w *LasWriter) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	for i := range pts {
		if w.keep(&pts[i]) {
			w.pts = append(w.pts, pts[i])
		}
	}
	return stage.Continue, nil
}

// Clear either writes this chunk's own file immediately (per-chunk output)
// or stashes the chunk's points for the merged write at Sort time.
func (w *LasWriter) Clear(lastChunk bool) error {
	if w.OutputTmpl == "" {
		w.pts = nil
		return nil
	}
	if w.PerChunkOutput() {
		err := writeLasFile(outputPath(w.OutputTmpl, w.Chunk.Name), w.header, w.pts)
		w.pts = nil
		return err
	}
	if len(w.pts) > 0 {
		w.merged = append(w.merged, bufferedChunk{index: w.Chunk.Index, pts: w.pts})
	}
	w.pts = nil
	return nil
}

func outputPath(tmpl, chunkName string) string {
	return strings.ReplaceAll(tmpl, "*", chunkName)
}

func writeLasFile(path string, h point.Header, pts []point.Point) error {
	if path == "" || len(pts) == 0 {
		return nil
	}

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

	out := las.Header{
		VersionMinor:      4,
		PointFormat:       h.PointFormat,
		PointRecordLength: pointRecordLength(h.PointFormat),
		Scale:             h.Scale,
		Offset:            h.Offset,
		Bbox:              bbox,
		ZMin:              zmin,
		ZMax:              zmax,
		PointCount:        uint64(len(pts)),
		OffsetToPointData: las.HeaderSize14,
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write_las: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := las.EncodeHeader(f, out); err != nil {
		return fmt.Errorf("write_las: encoding header for %s: %w", path, err)
	}
	for i, p := range pts {
		if err := las.EncodePoint(f, out, p); err != nil {
			return fmt.Errorf("write_las: encoding point %d of %s: %w", i, path, err)
		}
	}
	return nil
}

func (w *LasWriter) Clone() stage.Stage {
	return &LasWriter{Base: w.CloneBase(), KeepBuffer: w.KeepBuffer}
}

func (w *LasWriter) Merge(other stage.Stage) error {
	o, ok := other.(*LasWriter)
	if !ok {
		return errStageMergeType("write_las", other)
	}
	if w.PerChunkOutput() {
		return nil
	}
	w.merged = append(w.merged, o.merged...)
	if len(o.merged) > 0 {
		w.header = o.header
	}
	return nil
}

// Sort implements pipeline.Sorter: it writes the single merged output
// file once every chunk's points have been folded in, in chunk-id order
//").
func (w *LasWriter) Sort() error {
	if w.PerChunkOutput() || len(w.merged) == 0 {
		return nil
	}
	sort.Slice(w.merged, func(i, j int) bool { return w.merged[i].index < w.merged[j].index })

	var all []point.Point
	for _, b := range w.merged {
		all = append(all, b.pts...)
	}
	return writeLasFile(w.OutputTmpl, w.header, all)
}
