package stages

import (
	"os"
	"sort"

	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/lax"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// LaxWriter is the "write_lax" stage: it builds a quadtree
// of file-point-id intervals over every kept point's (x,y), so a reader
// can later skip straight to the byte ranges covering a query region.
// Grounded on original_source/src/writelax.cpp's LASRlaxwriter, which
// re-reads its companion file point by point and feeds (x, y, index)
// into a LASindex; here the same (x, y, index) stream comes straight
// from the points already flowing through this stage, with no second
// read needed. MaxPointsPerLeaf defaults to 1000, matching the
// grounding source's `lasindex.prepare(lasquadtree, 1000)`.
type LaxWriter struct {
	stage.Base

	MaxDepth         int  `stage:"name=max_depth"`
	MaxPointsPerLeaf int  `stage:"name=max_points_per_leaf"`
	KeepBuffer       bool `stage:"name=keep_buffer"`

	pts    []point.Point
	merged []bufferedChunk
}

// NewLaxWriter is the registry factory for "write_lax".
func NewLaxWriter() stage.Stage {
	return &LaxWriter{Base: stage.NewBase("write_lax"), MaxDepth: 8, MaxPointsPerLeaf: 1000}
}

func (w *LaxWriter) BindAttrs(attrs map[string]any) error {
	if err := stage.BindAttributes(w, attrs); err != nil {
		return err
	}
	if w.MaxPointsPerLeaf <= 0 {
		w.MaxPointsPerLeaf = 1000
	}
	if w.MaxDepth <= 0 {
		w.MaxDepth = 8
	}
	return nil
}

func (w *LaxWriter) keep(p *point.Point) bool {
	if p.InBuffer && !w.KeepBuffer {
		return false
	}
	return w.KeepPoint(p)
}

func (w *LaxWriter) ProcessPoint(p *point.Point) (stage.BreakSignal, error) {
	if w.keep(p) {
		w.pts = append(w.pts, *p)
	}
	return stage.Continue, nil
}

func (w *LaxWriter) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	for i := range pts {
		if w.keep(&pts[i]) {
			w.pts = append(w.pts, pts[i])
		}
	}
	return stage.Continue, nil
}

func (w *LaxWriter) Clear(lastChunk bool) error {
	if w.OutputTmpl == "" {
		w.pts = nil
		return nil
	}
	if w.PerChunkOutput() {
		err := writeLaxFile(outputPath(w.OutputTmpl, w.Chunk.Name), w.pts, w.MaxDepth, w.MaxPointsPerLeaf)
		w.pts = nil
		return err
	}
	if len(w.pts) > 0 {
		w.merged = append(w.merged, bufferedChunk{index: w.Chunk.Index, pts: w.pts})
	}
	w.pts = nil
	return nil
}

func writeLaxFile(path string, pts []point.Point, maxDepth, maxPointsPerLeaf int) error {
	if path == "" || len(pts) == 0 {
		return nil
	}

	bbox := geom.NewRectangle(pts[0].X, pts[0].Y, pts[0].X, pts[0].Y)
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p.X, p.Y
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
	}

	idx := lax.Build(bbox, xs, ys, maxDepth, maxPointsPerLeaf)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return idx.Write(f)
}

func (w *LaxWriter) Clone() stage.Stage {
	return &LaxWriter{Base: w.CloneBase(), MaxDepth: w.MaxDepth, MaxPointsPerLeaf: w.MaxPointsPerLeaf, KeepBuffer: w.KeepBuffer}
}

func (w *LaxWriter) Merge(other stage.Stage) error {
	o, ok := other.(*LaxWriter)
	if !ok {
		return errStageMergeType("write_lax", other)
	}
	if w.PerChunkOutput() {
		return nil
	}
	w.merged = append(w.merged, o.merged...)
	return nil
}

// Sort implements pipeline.Sorter, writing the single merged index once
// every chunk's points have folded in, in chunk-id order.
func (w *LaxWriter) Sort() error {
	if w.PerChunkOutput() || len(w.merged) == 0 {
		return nil
	}
	sort.Slice(w.merged, func(i, j int) bool { return w.merged[i].index < w.merged[j].index })

	var all []point.Point
	for _, b := range w.merged {
		all = append(all, b.pts...)
	}
	return writeLaxFile(w.OutputTmpl, all, w.MaxDepth, w.MaxPointsPerLeaf)
}
