// Package partition implements the Partitioner: file discovery, the
// static spatial index over discovered files, and chunking a catalog
// into main/neighbour file groups that the pipeline processes one at a
// time.
//
// Grounded on beetlebugorg-s57's pkg/s57/index.go ChartIndex/BuildIndex/
// Query (the rtreego wiring, generalised from chart metadata to LAS/LAZ
// file descriptors) and go-gsf's search/search.go trawl/FindGsf
// (VFS-backed file discovery, narrowed here to explicit LAS/LAZ/VPC
// paths; directories are not walked).
package partition

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhconnelly/rtreego"
	"github.com/samber/lo"
	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/las"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/vpc"
)

// entry adapts a point.FileDescriptor to rtreego.Spatial, matching
// ChartEntry.Bounds()'s point+lengths construction.
type entry struct {
	point.FileDescriptor
}

func (e entry) Bounds() rtreego.Rect {
	p := rtreego.Point{e.Bbox.XMin, e.Bbox.YMin}
	lengths := []float64{
		maxf(e.Bbox.Width(), 1e-9),
		maxf(e.Bbox.Height(), 1e-9),
	}
	r, _ := rtreego.NewRect(p, lengths)
	return r
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Chunk is one unit of work handed to the pipeline: the main files whose
// points are written out, the neighbour files contributing buffer-only
// points, and the region the chunk covers.
type Chunk struct {
	Name  string
	Index int
	Bbox  geom.Rectangle
	MainFiles      []point.FileDescriptor
	NeighbourFiles []point.FileDescriptor
	Process        bool
}

// Partitioner discovers input files, builds a spatial index over them,
// and produces Chunks chunking algorithm.
type Partitioner struct {
	Descriptors []point.FileDescriptor
	Buffer      float64
	ChunkSize   float64

	queries     []geom.Shape
	rtree       *rtreego.Rtree
	catalogCRS  point.CRS

	Warnf func(format string, args ...any)
}

// New creates an empty Partitioner with the given buffer and chunk size.
func New(buffer, chunkSize float64) *Partitioner {
	return &Partitioner{Buffer: buffer, ChunkSize: chunkSize, Warnf: func(string, ...any) {}}
}

// Read classifies each path (LAS/LAZ file or *.vpc manifest) and appends
// its file descriptor(s) to the catalog. Directories are not walked: a
// path with any other extension, a directory included, is rejected.
// Mixing a manifest with raw files is rejected.
func (p *Partitioner) Read(paths []string, cfg *tiledb.Config) error {
	hasManifest, hasRaw := false, false
	for _, pth := range paths {
		if strings.EqualFold(filepath.Ext(pth), ".vpc") {
			hasManifest = true
		} else {
			hasRaw = true
		}
	}
	if hasManifest && hasRaw {
		return fmt.Errorf("partition: cannot mix a virtual point cloud manifest with raw point-cloud files")
	}

	for _, pth := range paths {
		switch strings.ToLower(filepath.Ext(pth)) {
		case ".vpc":
			descs, err := descriptorsFromManifest(pth, cfg)
			if err != nil {
				return err
			}
			p.Descriptors = append(p.Descriptors, descs...)
		case ".las", ".laz":
			d, err := descriptorFromFile(pth, cfg)
			if err != nil {
				return err
			}
			p.Descriptors = append(p.Descriptors, d)
		default:
			return fmt.Errorf("partition: unsupported input %q", pth)
		}
	}

	p.checkCRSConsistency()
	return nil
}

func descriptorFromFile(pth string, cfg *tiledb.Config) (point.FileDescriptor, error) {
	ctx, err := tiledb.NewContext(cfg)
	if err != nil {
		return point.FileDescriptor{}, fmt.Errorf("partition: tiledb context: %w", err)
	}
	defer ctx.Free()

	vfsHandle, err := tiledb.NewVFS(ctx, cfg)
	if err != nil {
		return point.FileDescriptor{}, fmt.Errorf("partition: tiledb vfs: %w", err)
	}
	defer vfsHandle.Free()

	fh, err := vfsHandle.Open(pth, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return point.FileDescriptor{}, fmt.Errorf("partition: opening %s: %w", pth, err)
	}
	defer fh.Close()

	stream, err := las.GenericStream(fh, 0, false)
	if err != nil {
		return point.FileDescriptor{}, err
	}

	h, err := las.DecodeHeader(stream)
	if err != nil {
		return point.FileDescriptor{}, fmt.Errorf("partition: reading header of %s: %w", pth, err)
	}

	return point.FileDescriptor{
		Path:  pth,
		Bbox:  h.Bbox,
		ZMin:  h.ZMin,
		ZMax:  h.ZMax,
		Count: h.PointCount,
	}, nil
}

func descriptorsFromManifest(pth string, cfg *tiledb.Config) ([]point.FileDescriptor, error) {
	m, err := vpc.Read(pth, 64<<20, cfg)
	if err != nil {
		return nil, fmt.Errorf("partition: reading manifest %s: %w", pth, err)
	}

	dir := filepath.Dir(pth)
	out := make([]point.FileDescriptor, 0, len(m.Features))
	for _, f := range m.Features {
		asset, ok := f.Assets["data"]
		if !ok {
			return nil, fmt.Errorf("partition: feature %q in %s has no data asset", f.ID, pth)
		}
		bbox := f.Properties.Bbox
		var rect geom.Rectangle
		var zmin, zmax float64
		switch len(bbox) {
		case 4:
			rect = geom.NewRectangle(bbox[0], bbox[1], bbox[2], bbox[3])
		case 6:
			rect = geom.NewRectangle(bbox[0], bbox[1], bbox[3], bbox[4])
			zmin, zmax = bbox[2], bbox[5]
		default:
			return nil, fmt.Errorf("partition: feature %q has malformed proj:bbox", f.ID)
		}
		out = append(out, point.FileDescriptor{
			Path:     filepath.Join(dir, asset.Href),
			Bbox:     rect,
			ZMin:     zmin,
			ZMax:     zmax,
			Count:    f.Properties.Count,
			CRS:      point.CRS{EPSG: f.Properties.EPSG, WKT: f.Properties.WKT2},
			HasIndex: f.Properties.Indexed,
		})
	}
	return out, nil
}

// checkCRSConsistency warns (does not fail) when the catalog mixes CRS
// identifiers, keeping the first and preferring EPSG. The kept CRS is
// recorded so callers can propagate it to stages via CatalogCRS.
func (p *Partitioner) checkCRSConsistency() {
	seen := map[string]bool{}
	var first point.CRS
	for i, d := range p.Descriptors {
		if !d.CRS.IsSet() {
			continue
		}
		if i == 0 || !first.IsSet() {
			first = d.CRS
		}
		key := fmt.Sprintf("%d|%s", d.CRS.EPSG, d.CRS.WKT)
		seen[key] = true
	}
	if len(seen) > 1 {
		p.Warnf("partition: catalog mixes multiple CRS identifiers; keeping the first (EPSG %d)", first.EPSG)
	}
	p.catalogCRS = first
}

// CatalogCRS returns the catalog's CRS as resolved by checkCRSConsistency:
// the first file's CRS, EPSG taking precedence over WKT when the catalog
// mixes identifiers. The zero value means no file carried a CRS.
func (p *Partitioner) CatalogCRS() point.CRS {
	return p.catalogCRS
}

// AddQuery accumulates a spatial query shape; when any query is present,
// each query produces exactly one chunk.
func (p *Partitioner) AddQuery(shape geom.Shape) {
	p.queries = append(p.queries, shape)
}

// BuildIndex inserts every discovered file's bbox into a static R-tree.
func (p *Partitioner) BuildIndex() {
	tree := rtreego.NewTree(2, 25, 50)
	for _, d := range p.Descriptors {
		tree.Insert(entry{d})
	}
	p.rtree = tree
}

// queryOverlap returns descriptors whose bbox overlaps region.
func (p *Partitioner) queryOverlap(region geom.Rectangle) []point.FileDescriptor {
	if p.rtree == nil {
		var out []point.FileDescriptor
		for _, d := range p.Descriptors {
			if d.Bbox.Overlaps(region) {
				out = append(out, d)
			}
		}
		return out
	}

	qp := rtreego.Point{region.XMin, region.YMin}
	lengths := []float64{maxf(region.Width(), 1e-9), maxf(region.Height(), 1e-9)}
	rect, _ := rtreego.NewRect(qp, lengths)

	hits := p.rtree.SearchIntersect(rect)
	out := make([]point.FileDescriptor, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(entry).FileDescriptor)
	}
	return out
}

// CheckSpatialIndex reports whether the workload's requirements for a
// per-file spatial index (.lax) are met: a multi-file run with a nonzero
// buffer, or any spatial query, requires every file to carry an index.
func (p *Partitioner) CheckSpatialIndex() bool {
	needsIndex := len(p.queries) > 0 || (len(p.Descriptors) > 1 && p.Buffer > 0)
	if !needsIndex {
		return true
	}
	for _, d := range p.Descriptors {
		if !d.HasIndex {
			p.Warnf("partition: %s has no spatial index but the workload requires one", d.Path)
			return false
		}
	}
	return true
}

// catalogBbox is the union of every discovered file's bbox.
func (p *Partitioner) catalogBbox() geom.Rectangle {
	if len(p.Descriptors) == 0 {
		return geom.Rectangle{}
	}
	bbox := p.Descriptors[0].Bbox
	for _, d := range p.Descriptors[1:] {
		bbox = bbox.Union(d.Bbox)
	}
	return bbox
}

// NumChunks returns how many chunks GetChunk will produce.
func (p *Partitioner) NumChunks() int {
	if len(p.queries) > 0 {
		return len(p.queries)
	}
	if p.ChunkSize <= 0 {
		return len(p.Descriptors)
	}
	bbox := p.catalogBbox()
	nx := int(bbox.Width()/p.ChunkSize) + 1
	ny := int(bbox.Height()/p.ChunkSize) + 1
	count := 0
	for gy := 0; gy < ny; gy++ {
		for gx := 0; gx < nx; gx++ {
			cell := geom.NewRectangle(
				bbox.XMin+float64(gx)*p.ChunkSize, bbox.YMin+float64(gy)*p.ChunkSize,
				bbox.XMin+float64(gx+1)*p.ChunkSize, bbox.YMin+float64(gy+1)*p.ChunkSize,
			)
			if len(p.queryOverlap(cell)) > 0 {
				count++
			}
		}
	}
	return count
}

// GetChunk produces the i-th chunk of the partitioned workload.
func (p *Partitioner) GetChunk(i int) (Chunk, bool) {
	switch {
	case len(p.queries) > 0:
		return p.chunkFromQuery(i)
	case p.ChunkSize <= 0:
		return p.chunkPerFile(i)
	default:
		return p.chunkFromGrid(i)
	}
}

func (p *Partitioner) chunkPerFile(i int) (Chunk, bool) {
	if i < 0 || i >= len(p.Descriptors) {
		return Chunk{}, false
	}
	main := p.Descriptors[i]
	buffered := main.Bbox.Buffered(p.Buffer)
	neighbours := lo.Filter(p.queryOverlap(buffered), func(d point.FileDescriptor, _ int) bool {
		return d.Path != main.Path
	})

	return Chunk{
		Name:           stem(main.Path),
		Index:          i,
		Bbox:           main.Bbox,
		MainFiles:      []point.FileDescriptor{main},
		NeighbourFiles: neighbours,
		Process:        !main.NoProcess,
	}, true
}

func (p *Partitioner) chunkFromGrid(i int) (Chunk, bool) {
	bbox := p.catalogBbox()
	nx := int(bbox.Width()/p.ChunkSize) + 1
	ny := int(bbox.Height()/p.ChunkSize) + 1

	idx := 0
	for gy := 0; gy < ny; gy++ {
		for gx := 0; gx < nx; gx++ {
			cell := geom.NewRectangle(
				bbox.XMin+float64(gx)*p.ChunkSize, bbox.YMin+float64(gy)*p.ChunkSize,
				bbox.XMin+float64(gx+1)*p.ChunkSize, bbox.YMin+float64(gy+1)*p.ChunkSize,
			)
			main := p.queryOverlap(cell)
			if len(main) == 0 {
				continue
			}
			if idx == i {
				buffered := cell.Buffered(p.Buffer)
				mainPaths := pathSet(main)
				neighbours := lo.Filter(p.queryOverlap(buffered), func(d point.FileDescriptor, _ int) bool {
					return !mainPaths[d.Path]
				})
				return Chunk{
					Name:           fmt.Sprintf("chunk_%d", i),
					Index:          i,
					Bbox:           cell,
					MainFiles:      main,
					NeighbourFiles: neighbours,
					Process:        anyProcessable(main),
				}, true
			}
			idx++
		}
	}
	return Chunk{}, false
}

func (p *Partitioner) chunkFromQuery(i int) (Chunk, bool) {
	if i < 0 || i >= len(p.queries) {
		return Chunk{}, false
	}
	q := p.queries[i]
	bbox := q.Bbox()
	main := p.queryOverlap(bbox)
	mainPaths := pathSet(main)
	buffered := bbox.Buffered(p.Buffer)
	neighbours := lo.Filter(p.queryOverlap(buffered), func(d point.FileDescriptor, _ int) bool {
		return !mainPaths[d.Path]
	})

	name := fmt.Sprintf("query_%d", i)
	centroid := q.Centroid()
	for _, d := range main {
		if d.Bbox.Contains(centroid.X, centroid.Y) {
			name = stem(d.Path)
			break
		}
	}

	return Chunk{
		Name:           name,
		Index:          i,
		Bbox:           bbox,
		MainFiles:      main,
		NeighbourFiles: neighbours,
		Process:        anyProcessable(main),
	}, true
}

func pathSet(ds []point.FileDescriptor) map[string]bool {
	m := make(map[string]bool, len(ds))
	for _, d := range ds {
		m[d.Path] = true
	}
	return m
}

func anyProcessable(ds []point.FileDescriptor) bool {
	for _, d := range ds {
		if !d.NoProcess {
			return true
		}
	}
	return false
}

func stem(pth string) string {
	base := filepath.Base(pth)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteVPC serialises the catalog as a STAC-like manifest.
func (p *Partitioner) WriteVPC(pth string, cfg *tiledb.Config) error {
	m := vpc.Build(p.Descriptors, filepath.Dir(pth))
	_, err := vpc.Write(pth, m, cfg)
	return err
}

// sortedDescriptors returns a copy of the catalog in deterministic path
// order. WriteVPC writes features in catalog order and does not call it.
func (p *Partitioner) sortedDescriptors() []point.FileDescriptor {
	out := append([]point.FileDescriptor(nil), p.Descriptors...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
