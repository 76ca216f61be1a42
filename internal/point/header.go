package point

import "github.com/go-lasr/lasr/internal/geom"

// CRS holds a coordinate reference system as an EPSG code, a WKT string,
// or both. CRS conversion itself is an out-of-scope external
// collaborator; this type only carries the identifier.
type CRS struct {
	EPSG int
	WKT  string
}

// IsSet reports whether any CRS information is present.
func (c CRS) IsSet() bool { return c.EPSG != 0 || c.WKT != "" }

// Equal reports whether two CRS values identify the same system, EPSG
// taking precedence over WKT when both are present.
func (c CRS) Equal(o CRS) bool {
	if c.EPSG != 0 || o.EPSG != 0 {
		return c.EPSG == o.EPSG
	}
	return c.WKT == o.WKT
}

// Header carries the file/chunk-level metadata for a point set.
type Header struct {
	Bbox       geom.Rectangle
	ZMin, ZMax float64
	Count      uint64
	CRS        CRS
	Scale      [3]float64
	Offset     [3]float64
	PointFormat uint8
	Schema     Schema
	HasIndex   bool
}

// FileDescriptor describes one discovered input file: path,
// bounding rectangle, point count, CRS, indexing state, and the
// "buffer-only / do not process" flag.
type FileDescriptor struct {
	Path       string
	Bbox       geom.Rectangle
	ZMin, ZMax float64
	Count      uint64
	CRS        CRS
	HasIndex   bool
	NoProcess  bool
}
