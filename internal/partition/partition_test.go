package partition

import (
	"testing"

	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/point"
)

func TestChunkPerFile(t *testing.T) {
	p := New(10, 0)
	p.Descriptors = []point.FileDescriptor{
		{Path: "a.las", Bbox: geom.NewRectangle(0, 0, 100, 100)},
		{Path: "b.las", Bbox: geom.NewRectangle(95, 0, 200, 100)},
		{Path: "c.las", Bbox: geom.NewRectangle(1000, 1000, 1100, 1100)},
	}
	p.BuildIndex()

	if got, want := p.NumChunks(), 3; got != want {
		t.Fatalf("NumChunks() = %d, want %d", got, want)
	}

	chunk, ok := p.GetChunk(0)
	if !ok {
		t.Fatalf("GetChunk(0) returned false")
	}
	if len(chunk.MainFiles) != 1 || chunk.MainFiles[0].Path != "a.las" {
		t.Errorf("chunk 0 main files = %v, want [a.las]", chunk.MainFiles)
	}
	if len(chunk.NeighbourFiles) != 1 || chunk.NeighbourFiles[0].Path != "b.las" {
		t.Errorf("chunk 0 neighbours = %v, want [b.las] (within buffer of a.las)", chunk.NeighbourFiles)
	}

	_, ok = p.GetChunk(3)
	if ok {
		t.Errorf("GetChunk(3) should be out of range")
	}
}

func TestChunkFromGrid(t *testing.T) {
	p := New(0, 100)
	p.Descriptors = []point.FileDescriptor{
		{Path: "a.las", Bbox: geom.NewRectangle(0, 0, 50, 50)},
		{Path: "b.las", Bbox: geom.NewRectangle(150, 150, 200, 200)},
	}
	p.BuildIndex()

	n := p.NumChunks()
	if n != 2 {
		t.Fatalf("NumChunks() = %d, want 2 (one grid cell per file, non-adjacent)", n)
	}
}

func TestChunkFromQuery(t *testing.T) {
	p := New(5, 0)
	p.Descriptors = []point.FileDescriptor{
		{Path: "a.las", Bbox: geom.NewRectangle(0, 0, 100, 100)},
		{Path: "b.las", Bbox: geom.NewRectangle(200, 200, 300, 300)},
	}
	p.BuildIndex()
	p.AddQuery(geom.NewRectangle(10, 10, 20, 20))

	if got, want := p.NumChunks(), 1; got != want {
		t.Fatalf("NumChunks() = %d, want %d", got, want)
	}
	chunk, ok := p.GetChunk(0)
	if !ok {
		t.Fatalf("GetChunk(0) returned false")
	}
	if len(chunk.MainFiles) != 1 || chunk.MainFiles[0].Path != "a.las" {
		t.Errorf("query chunk main files = %v, want [a.las]", chunk.MainFiles)
	}
	if chunk.Name != "a" {
		t.Errorf("query chunk name = %q, want %q (stem of containing file)", chunk.Name, "a")
	}
}

func TestCheckSpatialIndex(t *testing.T) {
	p := New(1, 0)
	p.Descriptors = []point.FileDescriptor{
		{Path: "a.las", Bbox: geom.NewRectangle(0, 0, 10, 10), HasIndex: false},
		{Path: "b.las", Bbox: geom.NewRectangle(20, 20, 30, 30), HasIndex: false},
	}
	p.BuildIndex()
	if p.CheckSpatialIndex() {
		t.Errorf("expected CheckSpatialIndex to fail: multi-file with buffer, no indexes present")
	}

	p.Descriptors[0].HasIndex = true
	p.Descriptors[1].HasIndex = true
	if !p.CheckSpatialIndex() {
		t.Errorf("expected CheckSpatialIndex to pass once every file has an index")
	}
}

func TestCRSConsistencyWarns(t *testing.T) {
	var warned bool
	p := New(0, 0)
	p.Warnf = func(string, ...any) { warned = true }
	p.Descriptors = []point.FileDescriptor{
		{Path: "a.las", CRS: point.CRS{EPSG: 4326}},
		{Path: "b.las", CRS: point.CRS{EPSG: 3857}},
	}
	p.checkCRSConsistency()
	if !warned {
		t.Errorf("expected a warning when the catalog mixes CRS identifiers")
	}
	if got := p.CatalogCRS(); got.EPSG != 4326 {
		t.Errorf("CatalogCRS() = %+v, want the first file's EPSG 4326 kept", got)
	}
}

func TestCatalogCRSEmptyWhenNoneSet(t *testing.T) {
	p := New(0, 0)
	p.Descriptors = []point.FileDescriptor{{Path: "a.las"}}
	p.checkCRSConsistency()
	if p.CatalogCRS().IsSet() {
		t.Errorf("expected an unset CatalogCRS when no file carries one, got %+v", p.CatalogCRS())
	}
}
