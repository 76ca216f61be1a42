// Package lax implements the *.lax spatial-index sidecar: a
// quadtree of file-point-id intervals per leaf tile, letting a reader skip
// straight to the byte ranges of a file that intersect a query region
// instead of scanning every point. Grounded on go-gsf's
// DecodeRecordHdr/binary.Read idiom (internal/las) for the on-disk layout,
// and on original_source/src/LASRstages/writelax.cpp for the tile-sizing
// and interval-building rules.
package lax

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/go-lasr/lasr/internal/geom"
)

// candidateTileSizes are the square region side lengths, in the file's
// coordinate units (almost always meters), a top-level tile may take.
var candidateTileSizes = []float64{10, 100, 1000, 10000, 100000}

// ChooseTileSize picks the smallest candidate side length that yields at
// least one but no more than ~1000 top-level tiles over bbox, matching
// writelax.cpp's sizing heuristic.
func ChooseTileSize(bbox geom.Rectangle) float64 {
	span := bbox.Width()
	if bbox.Height() > span {
		span = bbox.Height()
	}
	if span <= 0 {
		return candidateTileSizes[0]
	}
	for _, size := range candidateTileSizes {
		nTiles := (span / size) * (span / size)
		if nTiles <= 1000 {
			return size
		}
	}
	return candidateTileSizes[len(candidateTileSizes)-1]
}

// Interval is a contiguous run of point indices (in file point-record
// order) that fall inside one leaf tile.
type Interval struct {
	Start, End uint64 // [Start, End), file-wide point indices
}

// Leaf is one quadtree tile: its bounding square and the point-index
// intervals it covers.
type Leaf struct {
	Bounds    geom.Rectangle
	Intervals []Interval
}

// Index is the decoded/built form of a .lax file: the top-level tile size
// chosen for the owning file's bbox, and its leaves.
type Index struct {
	TileSize float64
	Bounds   geom.Rectangle
	Leaves   []Leaf
}

// pointRef is a (point index, x, y) tuple used only while building an
// Index, kept separate from internal/point.Point so this package has no
// dependency on the full point record.
type pointRef struct {
	idx  uint64
	x, y float64
}

// Build constructs a quadtree Index from a file's bounding box and the
// (x,y) coordinates of every point in file order. depth bounds the
// subdivision (writelax.cpp recurses until a leaf holds few enough points
// or hits this depth).
func Build(bbox geom.Rectangle, xs, ys []float64, maxDepth int, maxPointsPerLeaf int) *Index {
	size := ChooseTileSize(bbox)
	idx := &Index{TileSize: size, Bounds: bbox}

	refs := make([]pointRef, len(xs))
	for i := range xs {
		refs[i] = pointRef{idx: uint64(i), x: xs[i], y: ys[i]}
	}

	var leaves []Leaf
	subdivide(bbox, refs, 0, maxDepth, maxPointsPerLeaf, &leaves)
	idx.Leaves = leaves
	return idx
}

func subdivide(bounds geom.Rectangle, refs []pointRef, depth, maxDepth, maxPerLeaf int, out *[]Leaf) {
	if len(refs) == 0 {
		return
	}
	if depth >= maxDepth || len(refs) <= maxPerLeaf {
		*out = append(*out, Leaf{Bounds: bounds, Intervals: toIntervals(refs)})
		return
	}

	midX := (bounds.XMin + bounds.XMax) / 2
	midY := (bounds.YMin + bounds.YMax) / 2

	quads := [4][]pointRef{}
	quadBounds := [4]geom.Rectangle{
		geom.NewRectangle(bounds.XMin, bounds.YMin, midX, midY),
		geom.NewRectangle(midX, bounds.YMin, bounds.XMax, midY),
		geom.NewRectangle(bounds.XMin, midY, midX, bounds.YMax),
		geom.NewRectangle(midX, midY, bounds.XMax, bounds.YMax),
	}

	for _, r := range refs {
		q := 0
		if r.x >= midX {
			q |= 1
		}
		if r.y >= midY {
			q |= 2
		}
		quads[q] = append(quads[q], r)
	}

	for q := 0; q < 4; q++ {
		subdivide(quadBounds[q], quads[q], depth+1, maxDepth, maxPerLeaf, out)
	}
}

// toIntervals collapses a leaf's point indices into contiguous runs,
// matching the original's run-length encoding of file point order.
func toIntervals(refs []pointRef) []Interval {
	indices := make([]uint64, len(refs))
	for i, r := range refs {
		indices[i] = r.idx
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var out []Interval
	for _, idx := range indices {
		if len(out) > 0 && out[len(out)-1].End == idx {
			out[len(out)-1].End = idx + 1
			continue
		}
		out = append(out, Interval{Start: idx, End: idx + 1})
	}
	return out
}

// Query returns every interval whose leaf bounds overlap region.
func (x *Index) Query(region geom.Rectangle) []Interval {
	var out []Interval
	for _, leaf := range x.Leaves {
		if leaf.Bounds.Overlaps(region) {
			out = append(out, leaf.Intervals...)
		}
	}
	return out
}

const magic = "LASX"

// Write serialises the index in the .lax sidecar's on-disk layout:
// magic, tile size, bounds, leaf count, then each leaf's bounds and
// interval list.
func (x *Index) Write(w io.Writer) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	fields := []interface{}{
		x.TileSize,
		x.Bounds.XMin, x.Bounds.YMin, x.Bounds.XMax, x.Bounds.YMax,
		uint32(len(x.Leaves)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("lax: writing header field: %w", err)
		}
	}
	for _, leaf := range x.Leaves {
		if err := writeLeaf(w, leaf); err != nil {
			return err
		}
	}
	return nil
}

func writeLeaf(w io.Writer, leaf Leaf) error {
	fields := []interface{}{
		leaf.Bounds.XMin, leaf.Bounds.YMin, leaf.Bounds.XMax, leaf.Bounds.YMax,
		uint32(len(leaf.Intervals)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("lax: writing leaf field: %w", err)
		}
	}
	for _, iv := range leaf.Intervals {
		if err := binary.Write(w, binary.LittleEndian, iv); err != nil {
			return fmt.Errorf("lax: writing interval: %w", err)
		}
	}
	return nil
}

// Read parses an Index previously produced by Write.
func Read(r io.Reader) (*Index, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, fmt.Errorf("lax: reading magic: %w", err)
	}
	if string(m[:]) != magic {
		return nil, fmt.Errorf("lax: bad magic %q, want %q", m, magic)
	}

	var tileSize, minX, minY, maxX, maxY float64
	var nLeaves uint32
	for _, f := range []interface{}{&tileSize, &minX, &minY, &maxX, &maxY, &nLeaves} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("lax: reading header field: %w", err)
		}
	}

	idx := &Index{
		TileSize: tileSize,
		Bounds:   geom.NewRectangle(minX, minY, maxX, maxY),
	}
	for i := uint32(0); i < nLeaves; i++ {
		leaf, err := readLeaf(r)
		if err != nil {
			return nil, err
		}
		idx.Leaves = append(idx.Leaves, leaf)
	}
	return idx, nil
}

func readLeaf(r io.Reader) (Leaf, error) {
	var minX, minY, maxX, maxY float64
	var nIntervals uint32
	for _, f := range []interface{}{&minX, &minY, &maxX, &maxY, &nIntervals} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Leaf{}, fmt.Errorf("lax: reading leaf field: %w", err)
		}
	}
	leaf := Leaf{Bounds: geom.NewRectangle(minX, minY, maxX, maxY)}
	for i := uint32(0); i < nIntervals; i++ {
		var iv Interval
		if err := binary.Read(r, binary.LittleEndian, &iv); err != nil {
			return Leaf{}, fmt.Errorf("lax: reading interval: %w", err)
		}
		leaf.Intervals = append(leaf.Intervals, iv)
	}
	return leaf, nil
}

// EVLRUserID / EVLRRecordID identify a .lax index appended as an EVLR of
// the LAZ file itself, the "appended" alternative to a standalone sidecar
// writelax.cpp also supports.
const (
	EVLRUserID   = "lasr\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"
	EVLRRecordID = uint16(10)
)
