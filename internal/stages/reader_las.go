// Package stages implements the concrete Stage kinds a processing
// pipeline is built from: a LAS/LAZ reader, the raster/local-maximum/region-
// growing/triangulation algorithms, the transform-with filter, and the
// family of writers. Each wraps a lower-level package (internal/grid,
// internal/delaunay, internal/ptd, internal/copc, internal/lax,
// internal/vpc) behind the internal/stage.Stage contract the pipeline
// engine drives.
package stages

import (
	"fmt"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/go-lasr/lasr/internal/las"
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/point"
	"github.com/go-lasr/lasr/internal/stage"
)

// fileStream is one open main/neighbour file: the TileDB VFS handle plus
// the decoded header and the sequential read position, kept alive across
// NextPoint calls for the lifetime of a chunk. Grounded on
// original_source/src/readlas.cpp's LASreadOpener/LASreader pair, which
// likewise survives the whole chunk and is torn down on the next
// set_chunk.
type fileStream struct {
	ctx  *tiledb.Context
	vfs  *tiledb.VFS
	fh   *tiledb.VFSfh
	s    las.Stream
	h    las.Header
	desc point.FileDescriptor
	pos  uint64
}

func openFileStream(desc point.FileDescriptor) (*fileStream, error) {
	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("reader_las: tiledb context: %w", err)
	}
	vfs, err := tiledb.NewVFS(ctx, nil)
	if err != nil {
		ctx.Free()
		return nil, fmt.Errorf("reader_las: tiledb vfs: %w", err)
	}
	fh, err := vfs.Open(desc.Path, tiledb.TILEDB_VFS_READ)
	if err != nil {
		vfs.Free()
		ctx.Free()
		return nil, fmt.Errorf("reader_las: opening %s: %w", desc.Path, err)
	}
	stream, err := las.GenericStream(fh, 0, false)
	if err != nil {
		fh.Close()
		vfs.Free()
		ctx.Free()
		return nil, err
	}
	h, err := las.DecodeHeader(stream)
	if err != nil {
		fh.Close()
		vfs.Free()
		ctx.Free()
		return nil, fmt.Errorf("reader_las: reading header of %s: %w", desc.Path, err)
	}
	return &fileStream{ctx: ctx, vfs: vfs, fh: fh, s: stream, h: h, desc: desc}, nil
}

func (fs *fileStream) close() {
	fs.fh.Close()
	fs.vfs.Free()
	fs.ctx.Free()
}

// wktVLR pulls the first "LASF_Projection" VLR (record 2112, the OGC WKT
// CRS VLR) out of a decoded header, if present.
func wktVLR(h las.Header) (string, bool) {
	for _, v := range h.VLRs {
		if v.RecordID == 2112 {
			return string(v.Payload), true
		}
	}
	return "", false
}

// LasReader is the reader_las stage:
// the only stage kind that implements stage.PointSource. It streams
// points from a chunk's main files first, then its neighbour files,
// tagging every point outside the chunk's unbuffered extent as InBuffer.
type LasReader struct {
	stage.Base

	streams []*fileStream
	idx     int
	fileID  uint32
	header  point.Header
	setErr  error
}

// NewLasReader is the registry factory for "reader_las".
func NewLasReader() stage.Stage {
	return &LasReader{Base: stage.NewBase("reader_las")}
}

func (r *LasReader) IsReader() bool     { return true }
func (r *LasReader) IsStreamable() bool { return true }
func (r *LasReader) NeedPoints() bool   { return false }

func (r *LasReader) SetChunk(c partition.Chunk) {
	r.Base.SetChunk(c)
	r.closeStreams()
	r.idx = 0
	r.fileID = 0
	r.setErr = nil

	all := make([]point.FileDescriptor, 0, len(c.MainFiles)+len(c.NeighbourFiles))
	all = append(all, c.MainFiles...)
	all = append(all, c.NeighbourFiles...)
	if len(all) == 0 {
		r.setErr = fmt.Errorf("reader_las: chunk %q has no input files", c.Name)
		return
	}

	var zmin, zmax float64
	var total uint64
	zmin, zmax = all[0].ZMin, all[0].ZMax

	for _, d := range all {
		fs, err := openFileStream(d)
		if err != nil {
			r.setErr = err
			r.closeStreams()
			return
		}
		r.streams = append(r.streams, fs)
		total += fs.h.PointCount
		if d.ZMin < zmin {
			zmin = d.ZMin
		}
		if d.ZMax > zmax {
			zmax = d.ZMax
		}
	}

	primary := r.streams[0].h
	h := point.Header{
		Bbox:        c.Bbox,
		ZMin:        zmin,
		ZMax:        zmax,
		Count:       total,
		CRS:         r.Base.CRS,
		Scale:       primary.Scale,
		Offset:      primary.Offset,
		PointFormat: primary.PointFormat,
	}
	if !h.CRS.IsSet() {
		if wkt, ok := wktVLR(primary); ok {
			h.CRS = point.CRS{WKT: wkt}
		}
	}
	r.header = h
}

func (r *LasReader) ChunkHeader() point.Header { return r.header }

func (r *LasReader) NextPoint() (*point.Point, error) {
	if r.setErr != nil {
		return nil, r.setErr
	}

	for r.idx < len(r.streams) {
		fs := r.streams[r.idx]
		if fs.pos >= fs.h.PointCount {
			r.idx++
			r.fileID++
			continue
		}

		p, err := las.DecodePoint(fs.s, fs.h, r.fileID, fs.pos)
		fs.pos++
		if err != nil {
			return nil, fmt.Errorf("reader_las: decoding point %d of %s: %w", fs.pos-1, fs.desc.Path, err)
		}

		if !r.Base.Chunk.Bbox.Contains(p.X, p.Y) {
			p.InBuffer = true
		}
		if !r.KeepPoint(&p) {
			continue
		}
		return &p, nil
	}
	return nil, nil
}

func (r *LasReader) closeStreams() {
	for _, fs := range r.streams {
		fs.close()
	}
	r.streams = nil
}

// Clear tears down the chunk's open file handles. The original engine
// defers this to the destructor so a later stage (write_las) can still
// read the header; here ProcessHeader has already copied everything a
// downstream stage needs before Clear runs, so closing immediately is
// safe.
func (r *LasReader) Clear(lastChunk bool) error {
	r.closeStreams()
	return nil
}

func (r *LasReader) Clone() stage.Stage {
	return &LasReader{Base: r.CloneBase()}
}

func (r *LasReader) Merge(stage.Stage) error { return nil }
