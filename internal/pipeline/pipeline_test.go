package pipeline

import (
	"testing"

	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// fakeReader is a minimal reader Stage + PointSource used to drive
// RunChunk/Engine tests without a real LAS decoder.
type fakeReader struct {
	stage.Base
	source []point.Point
	idx    int
	header point.Header
}

func newFakeReader(pts []point.Point) *fakeReader {
	r := &fakeReader{Base: stage.NewBase("read_las"), source: pts}
	return r
}

func (r *fakeReader) IsReader() bool { return true }

func (r *fakeReader) NextPoint() (*point.Point, error) {
	if r.idx >= len(r.source) {
		return nil, nil
	}
	p := r.source[r.idx]
	r.idx++
	return &p, nil
}

func (r *fakeReader) ChunkHeader() point.Header { return r.header }

func (r *fakeReader) Clone() stage.Stage {
	return &fakeReader{Base: r.CloneBase(), source: r.source, header: r.header}
}

func (r *fakeReader) Merge(stage.Stage) error { return nil }

// countingStage records how many times each hook fired; Merge sums
// counts from worker clones into the master, mirroring how a real
// aggregating stage (e.g. a point-count accumulator) would behave.
type countingStage struct {
	stage.Base
	PointCalls  int
	CloudCalls  int
	HeaderCalls int
	WriteCalls  int
	ClearCalls  int
}

func newCountingStage(name string) *countingStage {
	return &countingStage{Base: stage.NewBase(name)}
}

func (c *countingStage) ProcessHeader(*point.Header) error {
	c.HeaderCalls++
	return nil
}

func (c *countingStage) ProcessPoint(p *point.Point) (stage.BreakSignal, error) {
	if c.KeepPoint(p) {
		c.PointCalls++
	}
	return stage.Continue, nil
}

func (c *countingStage) ProcessPointCloud(pts []point.Point) (stage.BreakSignal, error) {
	c.CloudCalls += len(pts)
	return stage.Continue, nil
}

func (c *countingStage) Write() error { c.WriteCalls++; return nil }

func (c *countingStage) Clear(bool) error { c.ClearCalls++; return nil }

func (c *countingStage) Clone() stage.Stage {
	return &countingStage{Base: c.CloneBase()}
}

func (c *countingStage) Merge(other stage.Stage) error {
	o := other.(*countingStage)
	c.PointCalls += o.PointCalls
	c.CloudCalls += o.CloudCalls
	c.HeaderCalls += o.HeaderCalls
	c.WriteCalls += o.WriteCalls
	return nil
}

// connectableStage records whatever UpdateConnection wires it to, so
// tests can assert a connection survives InsertStage's reindexing.
type connectableStage struct {
	stage.Base
	connected map[string]stage.Stage
}

func newConnectableStage(name string) *connectableStage {
	return &connectableStage{Base: stage.NewBase(name)}
}

func (c *connectableStage) Clone() stage.Stage {
	return &connectableStage{Base: c.CloneBase()}
}

func (c *connectableStage) Merge(stage.Stage) error { return nil }

func (c *connectableStage) UpdateConnection(refs map[string]stage.Stage) {
	c.connected = refs
}

func samplePoints(n int) []point.Point {
	pts := make([]point.Point, n)
	for i := range pts {
		pts[i] = point.Point{X: float64(i), Classification: 2}
	}
	return pts
}

func TestRunChunkStreamedWalksEveryPoint(t *testing.T) {
	reader := newFakeReader(samplePoints(5))
	counter := newCountingStage("count")
	stages := []stage.Stage{reader, counter}

	if err := RunChunk(stages, partition.Chunk{Name: "c0"}, true, false, nil); err != nil {
		t.Fatalf("RunChunk: %v", err)
	}
	if counter.PointCalls != 5 {
		t.Errorf("PointCalls = %d, want 5", counter.PointCalls)
	}
	if counter.HeaderCalls != 1 {
		t.Errorf("HeaderCalls = %d, want 1", counter.HeaderCalls)
	}
}

func TestRunChunkStreamedHonoursFilter(t *testing.T) {
	reader := newFakeReader([]point.Point{
		{Classification: 2}, {Classification: 9}, {Classification: 2},
	})
	counter := newCountingStage("count")
	counter.SetFilter("-keep_class 2")
	stages := []stage.Stage{reader, counter}

	if err := RunChunk(stages, partition.Chunk{}, true, false, nil); err != nil {
		t.Fatalf("RunChunk: %v", err)
	}
	if counter.PointCalls != 2 {
		t.Errorf("PointCalls = %d, want 2 (class-9 point dropped)", counter.PointCalls)
	}
}

func TestRunChunkLoadedCallsWriteOnce(t *testing.T) {
	reader := newFakeReader(samplePoints(3))
	counter := newCountingStage("count")
	stages := []stage.Stage{reader, counter}

	if err := RunChunk(stages, partition.Chunk{}, false, true, nil); err != nil {
		t.Fatalf("RunChunk: %v", err)
	}
	if counter.CloudCalls != 3 {
		t.Errorf("CloudCalls = %d, want 3", counter.CloudCalls)
	}
	if counter.WriteCalls != 1 {
		t.Errorf("WriteCalls = %d, want 1", counter.WriteCalls)
	}
}

func TestClearCallsStageClear(t *testing.T) {
	counter := newCountingStage("count")
	stages := []stage.Stage{counter}
	if err := Clear(stages, true); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if counter.ClearCalls != 1 {
		t.Errorf("ClearCalls = %d, want 1", counter.ClearCalls)
	}
}

func registryWith(readerPts []point.Point) *stage.Registry {
	reg := stage.NewRegistry()
	reg.Register("read_las", func() stage.Stage { return newFakeReader(readerPts) })
	reg.Register("count", func() stage.Stage { return newCountingStage("count") })
	reg.Register("provider", func() stage.Stage { return newCountingStage("provider") })
	reg.Register("consumer", func() stage.Stage { return newConnectableStage("consumer") })
	reg.Register("write_lax", func() stage.Stage { return newCountingStage("write_lax") })
	return reg
}

func TestBuildRejectsNonReaderFirstStage(t *testing.T) {
	doc := &Document{Stages: []StageSpec{{Algoname: "count"}}}
	reg := registryWith(nil)
	if _, err := Build(doc, reg, nil); err == nil {
		t.Errorf("expected an error when the first stage is not a reader")
	}
}

func TestBuildInstantiatesAndWiresStages(t *testing.T) {
	doc := &Document{
		Stages: []StageSpec{
			{Algoname: "read_las", UID: "r1"},
			{Algoname: "count", Filter: "-keep_class 2", Output: "out/*.las"},
		},
		Options: Options{NCores: 2, Strategy: StrategyConcurrentPoints},
	}
	reg := registryWith(samplePoints(1))
	e, err := Build(doc, reg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(e.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(e.Stages))
	}
	if e.Stages[0].UID() != "r1" {
		t.Errorf("reader uid = %q, want r1", e.Stages[0].UID())
	}
	if !e.IsStreamable() {
		t.Errorf("expected the pipeline to be streamable (Base defaults to streamable)")
	}
}

func TestThreadCounts(t *testing.T) {
	cases := []struct {
		strategy    Strategy
		ncores      int
		nChunks     int
		wantOuter   int
		wantInner   int
	}{
		{StrategyConcurrentPoints, 8, 10, 1, 8},
		{StrategyConcurrentFiles, 8, 10, 8, 1},
		{StrategyConcurrentFiles, 8, 3, 3, 1},
		{StrategyNested, 8, 10, 4, 4},
	}
	for _, c := range cases {
		e := &Engine{Options: Options{Strategy: c.strategy, NCores: c.ncores}}
		outer, inner := e.ThreadCounts(c.nChunks)
		if outer != c.wantOuter || inner != c.wantInner {
			t.Errorf("strategy=%s ncores=%d nChunks=%d: ThreadCounts() = (%d,%d), want (%d,%d)",
				c.strategy, c.ncores, c.nChunks, outer, inner, c.wantOuter, c.wantInner)
		}
	}
}

func TestEffectiveStrategyKeepsConcurrentFilesWhenAllParallelizable(t *testing.T) {
	reader := newFakeReader(nil)
	blocking := newCountingStage("blocking")
	e := &Engine{
		Stages:  []stage.Stage{reader, blocking},
		Options: Options{Strategy: StrategyConcurrentFiles},
	}
	if e.effectiveStrategy() != StrategyConcurrentFiles {
		t.Fatalf("expected concurrent-files to survive when every stage is parallelizable")
	}
}

func TestNeedBufferAggregatesMax(t *testing.T) {
	a := &countingStage{Base: stage.NewBase("a")}
	e := &Engine{Stages: []stage.Stage{a}}
	if e.NeedBuffer() != 0 {
		t.Errorf("NeedBuffer() = %v, want 0 for a stage with no buffer requirement", e.NeedBuffer())
	}
}

func TestSetCRSPropagatesToEveryStage(t *testing.T) {
	doc := &Document{
		Stages: []StageSpec{
			{Algoname: "read_las", UID: "r1"},
			{Algoname: "count", UID: "c1"},
		},
	}
	reg := registryWith(nil)
	e, err := Build(doc, reg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	crs := point.CRS{EPSG: 4326}
	e.SetCRS(crs)

	if e.Stages[0].(*fakeReader).CRS != crs {
		t.Errorf("reader CRS = %+v, want %+v", e.Stages[0].(*fakeReader).CRS, crs)
	}
	if e.Stages[1].(*countingStage).CRS != crs {
		t.Errorf("count stage CRS = %+v, want %+v", e.Stages[1].(*countingStage).CRS, crs)
	}
}

func TestInsertStageReindexesConnections(t *testing.T) {
	doc := &Document{
		Stages: []StageSpec{
			{Algoname: "read_las", UID: "r1"},
			{Algoname: "provider", UID: "p1"},
			{Algoname: "consumer", UID: "c1", Connect: []string{"p1"}},
		},
	}
	reg := registryWith(nil)
	e, err := Build(doc, reg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	e.InsertStage(1, newCountingStage("write_lax"))

	if len(e.Stages) != 4 {
		t.Fatalf("len(Stages) = %d, want 4", len(e.Stages))
	}
	if e.Stages[0].Name() != "read_las" || e.Stages[1].Name() != "write_lax" ||
		e.Stages[2].Name() != "provider" || e.Stages[3].Name() != "consumer" {
		t.Fatalf("unexpected stage order after insert: %v", stageNames(e.Stages))
	}
	if e.uidIndex["p1"] != 2 || e.uidIndex["c1"] != 3 || e.uidIndex["r1"] != 0 {
		t.Fatalf("uidIndex not reindexed: %v", e.uidIndex)
	}

	clones := cloneStages(e.Stages)
	e.reconnectClones(clones)
	consumer := clones[3].(*connectableStage)
	if consumer.connected["p1"] != clones[2] {
		t.Fatalf("consumer connected to %v, want the shifted provider clone %v", consumer.connected["p1"], clones[2])
	}
}

func stageNames(stages []stage.Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}
