package las

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lasr/lasr/internal/point"
)

// rawPoint0 is the fixed part common to every point data format: formats
// 6+ replace the legacy bitfields with wider ones but keep the same
// leading X/Y/Z/intensity layout.
type rawPoint0 struct {
	X, Y, Z         int32
	Intensity       uint16
	Flags           uint8 // return number (3b) | number of returns (3b) | scan direction (1b) | edge of flight line (1b)
	Classification  uint8
	ScanAngleRank   int8
	UserData        uint8
	PointSourceID   uint16
}

type rawPoint6 struct {
	X, Y, Z        int32
	Intensity      uint16
	Flags1         uint8 // return number (4b) | number of returns (4b)
	Flags2         uint8 // classification flags (4b) | scanner channel (2b) | scan direction (1b) | edge of flight line (1b)
	Classification uint8
	UserData       uint8
	ScanAngle      int16
	PointSourceID  uint16
	GPSTime        float64
}

type rgb16 struct{ R, G, B uint16 }

// DecodePoint reads one point data record for the given format at the
// stream's current position and converts it to the engine's Point,
// applying header.Scale/Offset.
func DecodePoint(s Stream, h Header, fileID uint32, pointID uint64) (point.Point, error) {
	switch {
	case h.PointFormat <= 5:
		return decodeLegacyPoint(s, h, fileID, pointID)
	case h.PointFormat >= 6 && h.PointFormat <= 10:
		return decodeExtendedPoint(s, h, fileID, pointID)
	default:
		return point.Point{}, fmt.Errorf("las: unsupported point data format %d", h.PointFormat)
	}
}

func decodeLegacyPoint(s Stream, h Header, fileID uint32, pointID uint64) (point.Point, error) {
	var raw rawPoint0
	if err := binary.Read(s, binary.LittleEndian, &raw); err != nil {
		return point.Point{}, fmt.Errorf("las: decoding format %d point: %w", h.PointFormat, err)
	}

	p := point.Point{
		X:               h.Offset[0] + float64(raw.X)*h.Scale[0],
		Y:               h.Offset[1] + float64(raw.Y)*h.Scale[1],
		Z:               h.Offset[2] + float64(raw.Z)*h.Scale[2],
		Intensity:       raw.Intensity,
		ReturnNumber:    raw.Flags & 0x07,
		NumberOfReturns: (raw.Flags >> 3) & 0x07,
		Classification:  raw.Classification & 0x1F,
		ScanAngle:       float32(raw.ScanAngleRank),
		UserData:        raw.UserData,
		PointSourceID:   raw.PointSourceID,
		FileID:          fileID,
		PointID:         pointID,
	}

	switch h.PointFormat {
	case 1, 3, 4, 5:
		var gps float64
		if err := binary.Read(s, binary.LittleEndian, &gps); err != nil {
			return point.Point{}, fmt.Errorf("las: decoding gps time: %w", err)
		}
		p.GPSTime = gps
	}

	switch h.PointFormat {
	case 2, 3, 5:
		var c rgb16
		if err := binary.Read(s, binary.LittleEndian, &c); err != nil {
			return point.Point{}, fmt.Errorf("las: decoding color: %w", err)
		}
		p.HasColor = true
		p.Red, p.Green, p.Blue = c.R, c.G, c.B
	}

	if err := skipPointPadding(s, h, pointRecordBaseLen(h.PointFormat)); err != nil {
		return point.Point{}, err
	}

	return p, nil
}

func decodeExtendedPoint(s Stream, h Header, fileID uint32, pointID uint64) (point.Point, error) {
	var raw rawPoint6
	if err := binary.Read(s, binary.LittleEndian, &raw); err != nil {
		return point.Point{}, fmt.Errorf("las: decoding format %d point: %w", h.PointFormat, err)
	}

	p := point.Point{
		X:               h.Offset[0] + float64(raw.X)*h.Scale[0],
		Y:               h.Offset[1] + float64(raw.Y)*h.Scale[1],
		Z:               h.Offset[2] + float64(raw.Z)*h.Scale[2],
		Intensity:       raw.Intensity,
		ReturnNumber:    raw.Flags1 & 0x0F,
		NumberOfReturns: (raw.Flags1 >> 4) & 0x0F,
		ScannerChannel:  (raw.Flags2 >> 4) & 0x03,
		Classification:  raw.Classification,
		ScanAngle:       float32(raw.ScanAngle) * 0.006,
		UserData:        raw.UserData,
		PointSourceID:   raw.PointSourceID,
		GPSTime:         raw.GPSTime,
		FileID:          fileID,
		PointID:         pointID,
	}

	switch h.PointFormat {
	case 7, 8, 10:
		var c rgb16
		if err := binary.Read(s, binary.LittleEndian, &c); err != nil {
			return point.Point{}, fmt.Errorf("las: decoding color: %w", err)
		}
		p.HasColor = true
		p.Red, p.Green, p.Blue = c.R, c.G, c.B
	}

	switch h.PointFormat {
	case 8, 10:
		var nir uint16
		if err := binary.Read(s, binary.LittleEndian, &nir); err != nil {
			return point.Point{}, fmt.Errorf("las: decoding nir: %w", err)
		}
		p.HasNIR = true
		p.NIR = nir
	}

	if err := skipPointPadding(s, h, pointRecordBaseLen(h.PointFormat)); err != nil {
		return point.Point{}, err
	}

	return p, nil
}

// pointRecordBaseLen returns the byte length of the known core fields for
// a given point data format, used to size the extra-attribute tail.
func pointRecordBaseLen(format uint8) int {
	switch format {
	case 0:
		return 20
	case 1:
		return 28
	case 2:
		return 26
	case 3:
		return 34
	case 6:
		return 30
	case 7:
		return 36
	case 8:
		return 38
	default:
		return 20
	}
}

// skipPointPadding advances past any extra-attribute bytes the header's
// point record length declares beyond the known core fields. Decoding named extra attributes into point.Point.Extra
// is handled by the caller once it has the chunk Schema.
func skipPointPadding(s Stream, h Header, knownLen int) error {
	extra := int(h.PointRecordLength) - knownLen
	if extra <= 0 {
		return nil
	}
	if _, err := s.Seek(int64(extra), io.SeekCurrent); err != nil {
		return fmt.Errorf("las: skipping extra bytes: %w", err)
	}
	return nil
}

// EncodePoint writes p back out in the given point data format, the
// inverse of DecodePoint, used by write_las/write_copc output stages.
func EncodePoint(w io.Writer, h Header, p point.Point) error {
	sx := int32((p.X - h.Offset[0]) / h.Scale[0])
	sy := int32((p.Y - h.Offset[1]) / h.Scale[1])
	sz := int32((p.Z - h.Offset[2]) / h.Scale[2])

	if h.PointFormat <= 5 {
		raw := rawPoint0{
			X: sx, Y: sy, Z: sz,
			Intensity:      p.Intensity,
			Flags:          (p.ReturnNumber & 0x07) | ((p.NumberOfReturns & 0x07) << 3),
			Classification: p.Classification & 0x1F,
			ScanAngleRank:  int8(p.ScanAngle),
			UserData:       p.UserData,
			PointSourceID:  p.PointSourceID,
		}
		if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
			return fmt.Errorf("las: encoding format %d point: %w", h.PointFormat, err)
		}
		switch h.PointFormat {
		case 1, 3, 4, 5:
			if err := binary.Write(w, binary.LittleEndian, p.GPSTime); err != nil {
				return err
			}
		}
		switch h.PointFormat {
		case 2, 3, 5:
			c := rgb16{R: p.Red, G: p.Green, B: p.Blue}
			if err := binary.Write(w, binary.LittleEndian, c); err != nil {
				return err
			}
		}
		return nil
	}

	raw := rawPoint6{
		X: sx, Y: sy, Z: sz,
		Intensity:      p.Intensity,
		Flags1:         (p.ReturnNumber & 0x0F) | ((p.NumberOfReturns & 0x0F) << 4),
		Flags2:         (p.ScannerChannel & 0x03) << 4,
		Classification: p.Classification,
		UserData:       p.UserData,
		ScanAngle:      int16(p.ScanAngle / 0.006),
		PointSourceID:  p.PointSourceID,
		GPSTime:        p.GPSTime,
	}
	if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
		return fmt.Errorf("las: encoding format %d point: %w", h.PointFormat, err)
	}
	switch h.PointFormat {
	case 7, 8, 10:
		c := rgb16{R: p.Red, G: p.Green, B: p.Blue}
		if err := binary.Write(w, binary.LittleEndian, c); err != nil {
			return err
		}
	}
	switch h.PointFormat {
	case 8, 10:
		if err := binary.Write(w, binary.LittleEndian, p.NIR); err != nil {
			return err
		}
	}
	return nil
}
