// Package point implements the Point, Header, and FileDescriptor data
// model, grounded on the scaled-record decode pattern of
// go-gsf/record.go's apply_scale_factor and per-field beam arrays.
package point

// AttrKind is the primitive data type of an extra attribute.
type AttrKind int

const (
	AttrInt8 AttrKind = iota
	AttrUint8
	AttrInt16
	AttrUint16
	AttrInt32
	AttrUint32
	AttrInt64
	AttrUint64
	AttrFloat32
	AttrFloat64
)

// ExtraAttr describes one extra (non-core) point attribute: name, kind,
// and an optional scale/offset pair applied the same way core fields are.
type ExtraAttr struct {
	Name   string
	Kind   AttrKind
	Scale  float64
	Offset float64
}

// Schema is the ordered list of extra attributes carried by every point in
// a file/chunk.
type Schema struct {
	Extra []ExtraAttr
}

// IndexOf returns the position of name in the schema, or -1.
func (s Schema) IndexOf(name string) int {
	for i, a := range s.Extra {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Point is the engine's semantic point record. Coordinates are exposed
// as doubles; Header.Scale/Offset describe how they would be packed to
// the scaled-integer LAS on-disk representation.
type Point struct {
	X, Y, Z float64

	Intensity       uint16
	ReturnNumber    uint8
	NumberOfReturns uint8
	Classification  uint8
	ScanAngle       float32
	GPSTime         float64

	HasColor bool
	Red      uint16
	Green    uint16
	Blue     uint16
	HasNIR   bool
	NIR      uint16

	UserData       uint8
	PointSourceID  uint16
	ScannerChannel uint8

	Extra []float64 // parallel to the owning chunk's Schema.Extra

	// InBuffer is true when this point lies in the buffer region of its
	// owning chunk: it contributes to neighbourhood
	// algorithms but must not be written to "process"-only outputs.
	InBuffer bool

	// FileID identifies which main/neighbour file this point was read
	// from, used by COPC duplicate-point bookkeeping and
	// PTD candidate ids.
	FileID uint32
	// PointID is the point's index within FileID, i.e. (FileID, PointID)
	// is a stable file-wide id.
	PointID uint64
}

// End of stream in streamed mode: readers set the next point's pointer to
// nil in C++; in Go, streamed consumers iterate a channel or callback that
// simply stops, so no sentinel value is defined on Point itself. This
// comment documents the contract: reader
// stages yield the next point and signal end-of-stream through the
// iteration mechanism itself.
