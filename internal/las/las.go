// Package las implements the LAS 1.0-1.4 public header block and point
// data record codec. LAZ's compressed bit-stream is
// explicitly out of scope; LazCodec is the
// collaborator interface a caller supplies when a .laz file must be read,
// grounded on go-gsf's Stream abstraction so both plain files and
// compressed streams are handled uniformly.
package las

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/point"
)

// Stream is a generic seekable byte source, matching go-gsf's
// reader.go Stream interface so both *bytes.Reader and a TileDB VFS file
// handle satisfy it without adapters.
type Stream interface {
	io.Reader
	Seek(offset int64, whence int) (int64, error)
}

// GenericStream mirrors go-gsf's reader.go helper: either buffers the
// whole object into memory (useful for small sidecar files such as .lax)
// or hands back the VFS handle directly for streamed reads of large .las
// files.
func GenericStream(fh *tiledb.VFSfh, size uint64, inMemory bool) (Stream, error) {
	if !inMemory {
		return fh, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(fh, buf); err != nil {
		return nil, fmt.Errorf("las: buffering stream: %w", err)
	}
	return bytes.NewReader(buf), nil
}

// Tell reports the current stream offset, mirroring go-gsf's Tell
// helper used after decoding a fixed-size header.
func Tell(s Stream) (int64, error) {
	return s.Seek(0, io.SeekCurrent)
}

// VLR is a variable length record (public header block extension), used
// to carry the COPC "info" VLR and arbitrary CRS/extra-schema records.
type VLR struct {
	UserID    [16]byte
	RecordID  uint16
	Length    uint16
	Desc      [32]byte
	Payload   []byte
}

// EVLR is an extended VLR, positioned after the point data per LAS 1.4,
// used for the COPC hierarchy EVLR.
type EVLR struct {
	UserID   [16]byte
	RecordID uint16
	Length   uint64
	Desc     [32]byte
	Payload  []byte
}

// rawHeader mirrors the on-disk LAS 1.4 public header block layout
// byte-for-byte (little-endian, per the LAS specification), read in one
// binary.Read the way go-gsf's DecodeRecordHdr decodes a fixed blob
// in one shot.
type rawHeader struct {
	FileSignature        [4]byte
	FileSourceID         uint16
	GlobalEncoding       uint16
	GUID                 [16]byte
	VersionMajor         uint8
	VersionMinor         uint8
	SystemID             [32]byte
	GeneratingSoftware   [32]byte
	CreationDayOfYear    uint16
	CreationYear         uint16
	HeaderSize           uint16
	OffsetToPointData    uint32
	NumberOfVLRs         uint32
	PointDataFormatID    uint8
	PointDataRecordLen   uint16
	LegacyNumberOfPoints uint32
	LegacyNumberByReturn [5]uint32
	ScaleX, ScaleY, ScaleZ    float64
	OffsetX, OffsetY, OffsetZ float64
	MaxX, MinX               float64
	MaxY, MinY               float64
	MaxZ, MinZ               float64
}

// rawHeader14Ext carries the LAS 1.4-only fields appended after the 1.0-1.3
// body, present only when VersionMinor >= 4 (and HeaderSize is large
// enough to contain them).
type rawHeader14Ext struct {
	StartOfWaveform      uint64
	StartOfFirstEVLR     uint64
	NumberOfEVLRs        uint32
	NumberOfPointRecords uint64
	NumberByReturn       [15]uint64
}

// Header is the decoded, process-friendly form of the public header block.
type Header struct {
	VersionMajor, VersionMinor uint8
	PointFormat                uint8
	PointRecordLength           uint16
	OffsetToPointData           uint32
	NumberOfVLRs                uint32
	NumberOfEVLRs               uint32
	OffsetToEVLRs               uint64
	PointCount                  uint64
	Scale, Offset               [3]float64
	Bbox                        geom.Rectangle
	ZMin, ZMax                  float64
	VLRs                        []VLR
}

// DecodeHeader reads and validates the public header block at the current
// stream position, advancing past it (and any VLRs) to the point data
// offset.
func DecodeHeader(s Stream) (Header, error) {
	var raw rawHeader
	if err := binary.Read(s, binary.LittleEndian, &raw); err != nil {
		return Header{}, fmt.Errorf("las: decoding header: %w", err)
	}
	if string(raw.FileSignature[:]) != "LASF" {
		return Header{}, fmt.Errorf("las: bad file signature %q", raw.FileSignature)
	}

	h := Header{
		VersionMajor:      raw.VersionMajor,
		VersionMinor:      raw.VersionMinor,
		PointFormat:       raw.PointDataFormatID & 0x7F, // top bit flags LAZ-compressed
		PointRecordLength: raw.PointDataRecordLen,
		OffsetToPointData: raw.OffsetToPointData,
		NumberOfVLRs:      raw.NumberOfVLRs,
		PointCount:        uint64(raw.LegacyNumberOfPoints),
		Scale:             [3]float64{raw.ScaleX, raw.ScaleY, raw.ScaleZ},
		Offset:            [3]float64{raw.OffsetX, raw.OffsetY, raw.OffsetZ},
		Bbox:              geom.NewRectangle(raw.MinX, raw.MinY, raw.MaxX, raw.MaxY),
		ZMin:              raw.MinZ,
		ZMax:              raw.MaxZ,
	}

	if raw.VersionMinor >= 4 {
		var ext rawHeader14Ext
		if err := binary.Read(s, binary.LittleEndian, &ext); err != nil {
			return Header{}, fmt.Errorf("las: decoding 1.4 header extension: %w", err)
		}
		h.NumberOfEVLRs = ext.NumberOfEVLRs
		h.OffsetToEVLRs = ext.StartOfFirstEVLR
		if ext.NumberOfPointRecords != 0 {
			h.PointCount = ext.NumberOfPointRecords
		}
	}

	if _, err := s.Seek(int64(raw.HeaderSize), io.SeekStart); err != nil {
		return Header{}, fmt.Errorf("las: seeking past header: %w", err)
	}

	vlrs, err := decodeVLRs(s, int(raw.NumberOfVLRs))
	if err != nil {
		return Header{}, err
	}
	h.VLRs = vlrs

	if _, err := s.Seek(int64(raw.OffsetToPointData), io.SeekStart); err != nil {
		return Header{}, fmt.Errorf("las: seeking to point data: %w", err)
	}

	return h, nil
}

func decodeVLRs(s Stream, n int) ([]VLR, error) {
	vlrs := make([]VLR, 0, n)
	for i := 0; i < n; i++ {
		var reserved uint16
		if err := binary.Read(s, binary.LittleEndian, &reserved); err != nil {
			return nil, fmt.Errorf("las: decoding vlr %d reserved field: %w", i, err)
		}
		var v VLR
		if err := binary.Read(s, binary.LittleEndian, &v.UserID); err != nil {
			return nil, err
		}
		if err := binary.Read(s, binary.LittleEndian, &v.RecordID); err != nil {
			return nil, err
		}
		if err := binary.Read(s, binary.LittleEndian, &v.Length); err != nil {
			return nil, err
		}
		if err := binary.Read(s, binary.LittleEndian, &v.Desc); err != nil {
			return nil, err
		}
		v.Payload = make([]byte, v.Length)
		if _, err := io.ReadFull(s, v.Payload); err != nil {
			return nil, fmt.Errorf("las: reading vlr %d payload: %w", i, err)
		}
		vlrs = append(vlrs, v)
	}
	return vlrs, nil
}

// DecodeEVLRs reads n extended VLRs at the current position (callers seek
// to Header.OffsetToEVLRs first, typically after streaming all points).
func DecodeEVLRs(s Stream, n int) ([]EVLR, error) {
	evlrs := make([]EVLR, 0, n)
	for i := 0; i < n; i++ {
		var reserved uint16
		if err := binary.Read(s, binary.LittleEndian, &reserved); err != nil {
			return nil, err
		}
		var e EVLR
		if err := binary.Read(s, binary.LittleEndian, &e.UserID); err != nil {
			return nil, err
		}
		if err := binary.Read(s, binary.LittleEndian, &e.RecordID); err != nil {
			return nil, err
		}
		if err := binary.Read(s, binary.LittleEndian, &e.Length); err != nil {
			return nil, err
		}
		if err := binary.Read(s, binary.LittleEndian, &e.Desc); err != nil {
			return nil, err
		}
		e.Payload = make([]byte, e.Length)
		if _, err := io.ReadFull(s, e.Payload); err != nil {
			return nil, fmt.Errorf("las: reading evlr %d payload: %w", i, err)
		}
		evlrs = append(evlrs, e)
	}
	return evlrs, nil
}

// HeaderSize14 is the fixed-size portion of a LAS 1.4 public header block
// (the 1.0-1.3 body plus the 1.4 extension), before any VLRs.
const HeaderSize14 = 375

// VLRHeaderSize, EVLRHeaderSize are the fixed-size portions preceding each
// record's payload (reserved+user id+record id+length+description).
const VLRHeaderSize = 54
const EVLRHeaderSize = 60

// VLRsSize returns the total on-disk size, header plus payload, of vlrs.
func VLRsSize(vlrs []VLR) uint32 {
	var n uint32
	for _, v := range vlrs {
		n += VLRHeaderSize + uint32(len(v.Payload))
	}
	return n
}

// EVLRsSize returns the total on-disk size, header plus payload, of evlrs.
func EVLRsSize(evlrs []EVLR) uint64 {
	var n uint64
	for _, e := range evlrs {
		n += EVLRHeaderSize + uint64(len(e.Payload))
	}
	return n
}

// EncodeHeader writes the LAS 1.4 public header block followed by h.VLRs,
// the inverse of DecodeHeader restricted to the fields Header models (a
// caller that needs byte-exact round-tripping of cosmetic fields such as
// GUID or SystemID must carry those separately; nothing downstream
// depends on them surviving a write). h.OffsetToPointData must already
// account for HeaderSize14 plus VLRsSize(h.VLRs).
func EncodeHeader(w io.Writer, h Header) error {
	raw := rawHeader{
		FileSignature:      [4]byte{'L', 'A', 'S', 'F'},
		VersionMajor:       1,
		VersionMinor:       h.VersionMinor,
		HeaderSize:         HeaderSize14,
		OffsetToPointData:  h.OffsetToPointData,
		NumberOfVLRs:       h.NumberOfVLRs,
		PointDataFormatID:  h.PointFormat,
		PointDataRecordLen: h.PointRecordLength,
		ScaleX:  h.Scale[0], ScaleY: h.Scale[1], ScaleZ: h.Scale[2],
		OffsetX: h.Offset[0], OffsetY: h.Offset[1], OffsetZ: h.Offset[2],
		MaxX: h.Bbox.XMax, MinX: h.Bbox.XMin,
		MaxY: h.Bbox.YMax, MinY: h.Bbox.YMin,
		MaxZ: h.ZMax, MinZ: h.ZMin,
	}
	if h.VersionMinor < 4 && h.PointCount <= 0xFFFFFFFF {
		raw.LegacyNumberOfPoints = uint32(h.PointCount)
	}
	if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
		return fmt.Errorf("las: encoding header: %w", err)
	}

	ext := rawHeader14Ext{
		StartOfFirstEVLR:     h.OffsetToEVLRs,
		NumberOfEVLRs:        h.NumberOfEVLRs,
		NumberOfPointRecords: h.PointCount,
	}
	if err := binary.Write(w, binary.LittleEndian, ext); err != nil {
		return fmt.Errorf("las: encoding header 1.4 extension: %w", err)
	}

	for i, v := range h.VLRs {
		if err := encodeVLR(w, v); err != nil {
			return fmt.Errorf("las: encoding vlr %d: %w", i, err)
		}
	}
	return nil
}

func encodeVLR(w io.Writer, v VLR) error {
	var reserved uint16
	if err := binary.Write(w, binary.LittleEndian, reserved); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, v.UserID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, v.RecordID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(v.Payload))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, v.Desc); err != nil {
		return err
	}
	_, err := w.Write(v.Payload)
	return err
}

// EncodeEVLR writes one extended VLR, used to append the COPC hierarchy
// record after the point data.
func EncodeEVLR(w io.Writer, e EVLR) error {
	var reserved uint16
	if err := binary.Write(w, binary.LittleEndian, reserved); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.UserID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.RecordID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(e.Payload))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.Desc); err != nil {
		return err
	}
	_, err := w.Write(e.Payload)
	return err
}

// LazCodec decompresses one LAZ chunk's worth of point records into their
// plain LAS byte layout. The adaptive-arithmetic bit-stream itself is out
// of scope; this interface is the seam a caller plugs a real
// decoder into.
type LazCodec interface {
	Decompress(dst []byte, format uint8, recordLength uint16, count int) error
}

// ChunkWriter compresses one already-encoded chunk's worth of point
// records, the write-side counterpart to LazCodec. A caller without a real
// LAZ compressor passes a nil ChunkWriter to write_las/write_copc, which
// write the chunk's point records verbatim.
type ChunkWriter interface {
	Compress(dst io.Writer, records []byte) error
}
