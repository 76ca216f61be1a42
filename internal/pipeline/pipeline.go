package pipeline

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/alitto/pond"

	"github.com/go-lasr/lasr/internal/errctx"
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/progress"
	"github.com/go-lasr/lasr/internal/stage"
)

// AttrBinder is implemented by concrete stages that accept pipeline-JSON
// attributes; Build calls it after instantiation and SetFilter/SetOutputFile.
type AttrBinder interface {
	BindAttrs(attrs map[string]any) error
}

// Sorter is implemented by stages that buffer per-chunk output (vectors,
// in-memory rasters) and need it reordered by chunk id once every chunk
// has run "sort() merges per-thread outputs in
// chunk-id order".
type Sorter interface {
	Sort() error
}

// Engine is a parsed, instantiated pipeline ready to run over a
// partition.Partitioner's chunks.
type Engine struct {
	Stages  []stage.Stage
	Options Options
	Ctx     *errctx.Context

	uidIndex map[string]int
	// connections records, per stage index, the uid->stage-index map
	// resolveConnections wired on the master stages, so a per-worker
	// clone set can re-run UpdateConnection against its own sibling
	// clones instead of the master's.
	connections map[int]map[string]int
}

// Build instantiates every stage in doc, in order, via reg, wiring uid,
// filter, output template and attribute bindings.
func Build(doc *Document, reg *stage.Registry, ctx *errctx.Context) (*Engine, error) {
	if len(doc.Stages) == 0 {
		return nil, fmt.Errorf("pipeline: document has no stages")
	}

	e := &Engine{Options: doc.Options, Ctx: ctx, uidIndex: make(map[string]int, len(doc.Stages))}

	for i, spec := range doc.Stages {
		s, err := reg.New(spec.Algoname)
		if err != nil {
			return nil, fmt.Errorf("pipeline: stage %d: %w", i, err)
		}

		if spec.UID != "" {
			if setter, ok := s.(interface{ SetUID(string) }); ok {
				setter.SetUID(spec.UID)
			}
		}
		if spec.Filter != "" {
			if err := s.SetFilter(spec.Filter); err != nil {
				return nil, fmt.Errorf("pipeline: stage %d (%s): %w", i, spec.Algoname, err)
			}
		}
		if spec.Output != "" {
			s.SetOutputFile(spec.Output)
		}
		if len(spec.Attrs) > 0 {
			if binder, ok := s.(AttrBinder); ok {
				if err := binder.BindAttrs(spec.Attrs); err != nil {
					return nil, fmt.Errorf("pipeline: stage %d (%s): %w", i, spec.Algoname, err)
				}
			}
		}

		e.uidIndex[s.UID()] = i
		e.Stages = append(e.Stages, s)
	}

	if err := e.resolveConnections(doc); err != nil {
		return nil, err
	}
	if !e.Stages[0].IsReader() {
		return nil, fmt.Errorf("pipeline: the first stage (%s) is not a reader", e.Stages[0].Name())
	}
	return e, nil
}

// resolveConnections calls UpdateConnection on every stage that declared
// extra `connect` references.
func (e *Engine) resolveConnections(doc *Document) error {
	e.connections = make(map[int]map[string]int)
	for i, spec := range doc.Stages {
		if len(spec.Connect) == 0 {
			continue
		}
		refs := make(map[string]stage.Stage, len(spec.Connect))
		byIndex := make(map[string]int, len(spec.Connect))
		for _, ref := range spec.Connect {
			idx, ok := e.uidIndex[ref]
			if !ok || idx >= i {
				return fmt.Errorf("pipeline: stage %d (%s) connects to unresolved or forward uid %q", i, spec.Algoname, ref)
			}
			refs[ref] = e.Stages[idx]
			byIndex[ref] = idx
		}
		e.Stages[i].UpdateConnection(refs)
		e.connections[i] = byIndex
	}
	return nil
}

// reconnectClones re-runs UpdateConnection on a freshly cloned stage set
// so that a connected stage (e.g. rasterize wired to triangulate) reads
// this worker's clone of its provider instead of the master instance
// resolveConnections originally wired.
func (e *Engine) reconnectClones(clones []stage.Stage) {
	for i, byIndex := range e.connections {
		refs := make(map[string]stage.Stage, len(byIndex))
		for uid, idx := range byIndex {
			refs[uid] = clones[idx]
		}
		clones[i].UpdateConnection(refs)
	}
}

// SetCRS propagates a catalog-resolved CRS to every stage, matching
// spec.md §4.3's execution-setup bullet ("propagate CRS to stages").
func (e *Engine) SetCRS(crs point.CRS) {
	for _, s := range e.Stages {
		s.SetCRS(crs)
	}
}

// InsertStage splices s into the pipeline at position pos (0 is always
// the reader), shifting every later stage's index by one and re-keying
// uidIndex/connections so RunChunk and the cross-stage UpdateConnection
// bookkeeping built by resolveConnections stays consistent. Used to
// auto-prepend a spatial-index writer after the reader when
// partition.Partitioner.CheckSpatialIndex reports a missing index.
func (e *Engine) InsertStage(pos int, s stage.Stage) {
	stages := make([]stage.Stage, 0, len(e.Stages)+1)
	stages = append(stages, e.Stages[:pos]...)
	stages = append(stages, s)
	stages = append(stages, e.Stages[pos:]...)
	e.Stages = stages

	shift := func(idx int) int {
		if idx >= pos {
			return idx + 1
		}
		return idx
	}

	uidIndex := make(map[string]int, len(e.uidIndex)+1)
	for uid, idx := range e.uidIndex {
		uidIndex[uid] = shift(idx)
	}
	uidIndex[s.UID()] = pos
	e.uidIndex = uidIndex

	connections := make(map[int]map[string]int, len(e.connections))
	for idx, byUID := range e.connections {
		shiftedByUID := make(map[string]int, len(byUID))
		for uid, refIdx := range byUID {
			shiftedByUID[uid] = shift(refIdx)
		}
		connections[shift(idx)] = shiftedByUID
	}
	e.connections = connections
}

// IsStreamable reports the pipeline's aggregate streamability.
func (e *Engine) IsStreamable() bool {
	for _, s := range e.Stages {
		if !s.IsStreamable() {
			return false
		}
	}
	return true
}

// NeedBuffer is the maximum buffer any stage requires.
func (e *Engine) NeedBuffer() float64 {
	var max float64
	for _, s := range e.Stages {
		if b := s.NeedBuffer(); b > max {
			max = b
		}
	}
	return max
}

// NeedPoints reports whether any stage needs the full per-chunk point
// cloud materialised (loaded-mode requirement).
func (e *Engine) NeedPoints() bool {
	for _, s := range e.Stages {
		if s.NeedPoints() {
			return true
		}
	}
	return false
}

// effectiveStrategy demotes concurrent-files down to concurrent-points
// when any stage is non-parallelisable or uses a foreign callback.
func (e *Engine) effectiveStrategy() Strategy {
	strategy := e.Options.Strategy
	if strategy == "" {
		strategy = StrategyConcurrentPoints
	}
	if strategy != StrategyConcurrentFiles {
		return strategy
	}
	for _, s := range e.Stages {
		if !s.IsParallelizable() || s.UsesForeignCallback() {
			return StrategyConcurrentPoints
		}
	}
	return strategy
}

// ThreadCounts returns (outer, inner) worker counts for nChunks chunks,
// strategy table.
func (e *Engine) ThreadCounts(nChunks int) (outer, inner int) {
	n := e.Options.NCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	switch e.effectiveStrategy() {
	case StrategyConcurrentFiles:
		outer, inner = n, 1
	case StrategyNested:
		n1 := n / 2
		if n1 < 1 {
			n1 = 1
		}
		n2 := n - n1
		if n2 < 1 {
			n2 = 1
		}
		outer, inner = n1, n2
	default: // concurrent-points
		outer, inner = 1, n
	}
	if outer > nChunks && nChunks > 0 {
		outer = nChunks
	}
	if outer < 1 {
		outer = 1
	}
	if inner < 1 {
		inner = 1
	}
	return outer, inner
}

// PreRun calls ProcessFileCollection on every stage once, before any
// chunk is processed.
func (e *Engine) PreRun(part *partition.Partitioner) error {
	for _, s := range e.Stages {
		if err := s.ProcessFileCollection(part); err != nil {
			e.Ctx.Fail(s.Name(), err)
			return err
		}
	}
	return nil
}

// cloneStages deep-clones every stage for a worker, preserving uid order.
func cloneStages(stages []stage.Stage) []stage.Stage {
	out := make([]stage.Stage, len(stages))
	for i, s := range stages {
		out[i] = s.Clone()
	}
	return out
}

// mergeStages merges a worker clone's stages back into the master,
// stage-by-stage, in declared order.
func mergeStages(master, worker []stage.Stage) error {
	for i, s := range master {
		if err := s.Merge(worker[i]); err != nil {
			return fmt.Errorf("pipeline: merging stage %s: %w", s.Name(), err)
		}
	}
	return nil
}

// RunChunk executes one chunk against stages (already cloned for the
// calling worker), dispatching streamed or loaded mode.
func RunChunk(stages []stage.Stage, chunk partition.Chunk, isStreamable, needPoints bool, prog *progress.Progress) error {
	for _, s := range stages {
		s.SetChunk(chunk)
	}

	if isStreamable {
		if err := runStreamed(stages, prog); err != nil {
			return err
		}
	} else {
		if err := runLoaded(stages, needPoints, prog); err != nil {
			return err
		}
	}
	return nil
}

func runStreamed(stages []stage.Stage, prog *progress.Progress) error {
	reader, ok := stages[0].(stage.PointSource)
	if !ok {
		return fmt.Errorf("stage %s declared itself a reader but does not implement PointSource", stages[0].Name())
	}

	header := reader.ChunkHeader()
	for _, s := range stages {
		if err := s.ProcessHeader(&header); err != nil {
			return fmt.Errorf("stage %s: process(header): %w", s.Name(), err)
		}
	}

	for {
		if prog != nil && prog.Cancelled() {
			return nil
		}
		p, err := reader.NextPoint()
		if err != nil {
			return fmt.Errorf("stage %s: %w", stages[0].Name(), err)
		}
		if p == nil {
			break
		}
		if prog != nil {
			prog.PointDone()
		}

		for _, s := range stages[1:] {
			brk, err := s.ProcessPoint(p)
			if err != nil {
				return fmt.Errorf("stage %s: process(point): %w", s.Name(), err)
			}
			if brk == stage.Break {
				break
			}
		}
	}
	return nil
}

func runLoaded(stages []stage.Stage, needPoints bool, prog *progress.Progress) error {
	reader, ok := stages[0].(stage.PointSource)
	if !ok {
		return fmt.Errorf("stage %s declared itself a reader but does not implement PointSource", stages[0].Name())
	}

	header := reader.ChunkHeader()
	for _, s := range stages {
		if err := s.ProcessHeader(&header); err != nil {
			return fmt.Errorf("stage %s: process(header): %w", s.Name(), err)
		}
	}

	if needPoints {
		var cloud []point.Point
		for {
			p, err := reader.NextPoint()
			if err != nil {
				return fmt.Errorf("stage %s: %w", stages[0].Name(), err)
			}
			if p == nil {
				break
			}
			cloud = append(cloud, *p)
			if prog != nil {
				prog.PointDone()
			}
		}

		for _, s := range stages[1:] {
			brk, err := s.ProcessPointCloud(cloud)
			if err != nil {
				return fmt.Errorf("stage %s: process(point_cloud): %w", s.Name(), err)
			}
			if brk == stage.Break {
				break
			}
		}
	}

	for _, s := range stages {
		if err := s.Write(); err != nil {
			return fmt.Errorf("stage %s: write(): %w", s.Name(), err)
		}
	}
	return nil
}

// Clear calls Clear(lastChunk) on every stage, always, regardless of
// whether the chunk body above returned an error.
func Clear(stages []stage.Stage, lastChunk bool) error {
	var firstErr error
	for _, s := range stages {
		if err := s.Clear(lastChunk); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stage %s: clear(): %w", s.Name(), err)
		}
	}
	return firstErr
}

// Run drives the entire chunked execution over part using a pond worker
// pool sized by ThreadCounts, following the clone/run/merge pattern and
// the worker-pool idiom of convert_gsf_list (pond.New sized by
// runtime.NumCPU, one submission per unit of outer work).
func (e *Engine) Run(part *partition.Partitioner, prog *progress.Progress) error {
	n := part.NumChunks()
	if prog == nil {
		prog = progress.New(n)
	}

	if err := e.PreRun(part); err != nil {
		return err
	}

	outer, _ := e.ThreadCounts(n)
	pool := pond.New(outer, 0, pond.MinWorkers(outer))
	defer pool.StopAndWait()

	var mu sync.Mutex
	var firstErr error

	isStreamable := e.IsStreamable()
	needPoints := e.NeedPoints()

	for i := 0; i < n; i++ {
		i := i
		pool.Submit(func() {
			if e.Ctx.Cancelled() || prog.Cancelled() {
				return
			}

			chunk, ok := part.GetChunk(i)
			if !ok {
				return
			}

			clones := cloneStages(e.Stages)
			e.reconnectClones(clones)
			err := RunChunk(clones, chunk, isStreamable, needPoints, prog)
			clearErr := Clear(clones, i == n-1)
			if err == nil {
				err = clearErr
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				e.Ctx.Fail(e.Stages[0].Name(), err)
				prog.Cancel()
				return
			}
			if mergeErr := mergeStages(e.Stages, clones); mergeErr != nil && firstErr == nil {
				firstErr = mergeErr
			}
			prog.ChunkDone()
		})
	}
	pool.StopAndWait()

	if firstErr != nil {
		return firstErr
	}

	return e.sortOutputs()
}

// sortOutputs calls Sort() on every stage that buffers per-chunk state
// needing chunk-id-order reassembly").
func (e *Engine) sortOutputs() error {
	for _, s := range e.Stages {
		if sorter, ok := s.(Sorter); ok {
			if err := sorter.Sort(); err != nil {
				return fmt.Errorf("pipeline: sorting stage %s output: %w", s.Name(), err)
			}
		}
	}
	return nil
}
