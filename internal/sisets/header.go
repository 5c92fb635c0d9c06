// Package sisets parses the Olympus SIS/ETS binary container headers and
// tile directory described in spec §4.2: a 64-byte SIS header, a 228-byte
// ETS header at offset 64, and a flat tile directory of 32-byte entries.
//
// All integers are little-endian on disk regardless of host architecture;
// every field is decoded explicitly with encoding/binary rather than read
// via an unsafe struct cast, the way Echoflaresat-spacecam's TIFF header
// reader (texture/tiff/header.go) decodes IFD entries field by field.
package sisets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Pixel types carried by the ETS header's pixelType field.
const (
	PixelUInt8 uint32 = 2
	PixelInt32 uint32 = 4
)

// Channel kinds carried by the ETS header's channelKind field.
const (
	ChannelGrayscale uint32 = 1
	ChannelRGB       uint32 = 3
)

// Colorspaces carried by the ETS header's colorspace field.
const (
	ColorspaceFluorescence uint32 = 1
	ColorspaceBrightfield  uint32 = 4
)

// Compression codes carried by the ETS header's compression field.
const (
	CompressionJPEG uint32 = 2
	CompressionJP2  uint32 = 3
	CompressionPNG  uint32 = 8 // reserved, unimplemented
	CompressionBMP  uint32 = 9 // reserved, unimplemented
)

const (
	sisHeaderSize = 64
	etsHeaderSize = 228
	tileEntrySize = 32
)

// SISHeader is the 64-byte header at file offset 0.
type SISHeader struct {
	Version       uint32
	Ndim          uint32
	ETSOffset     uint64
	ETSBytes      uint32
	TileDirOffset uint64
	TileCount     uint32
}

// ETSHeader is the 228-byte header at offset 64.
type ETSHeader struct {
	Version         uint32
	PixelType       uint32
	ChannelKind     uint32
	Colorspace      uint32
	Compression     uint32
	Quality         uint32
	TileWidth       uint32
	TileHeight      uint32
	TileDepth       uint32
	BackgroundColor []uint32 // length = ChannelKind's element count, clamped to 8 bits when stored
	ComponentOrder  uint32
	UsePyramid      uint32
}

// TileDirectoryEntry is one 32-byte tile-directory record.
type TileDirectoryEntry struct {
	Col, Row, Channel uint32
	Level             uint32
	Offset            uint64
	Bytes             uint32
}

// CorruptHeaderError reports a violated header invariant; spec §7 maps
// this to KindCorruptHeader at the package boundary.
type CorruptHeaderError struct {
	Field string
	Want  any
	Got   any
}

func (e *CorruptHeaderError) Error() string {
	return fmt.Sprintf("corrupt header: field %q: want %v, got %v", e.Field, e.Want, e.Got)
}

func readAt(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// ParseSISHeader reads and validates the 64-byte SIS header at offset 0.
func ParseSISHeader(r io.ReaderAt) (SISHeader, error) {
	buf, err := readAt(r, 0, sisHeaderSize)
	if err != nil {
		return SISHeader{}, err
	}

	if string(buf[0:4]) != "SIS0" {
		return SISHeader{}, &CorruptHeaderError{Field: "magic", Want: "SIS0", Got: string(buf[0:4])}
	}
	headerSize := binary.LittleEndian.Uint32(buf[4:8])
	if headerSize != sisHeaderSize {
		return SISHeader{}, &CorruptHeaderError{Field: "headerSize", Want: sisHeaderSize, Got: headerSize}
	}
	version := binary.LittleEndian.Uint32(buf[8:12])
	ndim := binary.LittleEndian.Uint32(buf[12:16])
	if ndim != 4 && ndim != 6 {
		return SISHeader{}, &CorruptHeaderError{Field: "Ndim", Want: "4 or 6", Got: ndim}
	}
	etsOffset := binary.LittleEndian.Uint64(buf[16:24])
	if etsOffset != sisHeaderSize {
		return SISHeader{}, &CorruptHeaderError{Field: "etsOffset", Want: sisHeaderSize, Got: etsOffset}
	}
	etsBytes := binary.LittleEndian.Uint32(buf[24:28])
	if etsBytes != etsHeaderSize {
		return SISHeader{}, &CorruptHeaderError{Field: "etsBytes", Want: etsHeaderSize, Got: etsBytes}
	}
	// buf[28:32] reserved, expected 0 but not load-bearing for downstream
	// inference; tolerated silently the way the teacher's scanner tolerates
	// unused EXIF fields.
	tileDirOffset := binary.LittleEndian.Uint64(buf[32:40])
	tileCount := binary.LittleEndian.Uint32(buf[40:44])

	return SISHeader{
		Version:       version,
		Ndim:          ndim,
		ETSOffset:     etsOffset,
		ETSBytes:      etsBytes,
		TileDirOffset: tileDirOffset,
		TileCount:     tileCount,
	}, nil
}

// ParseETSHeader reads and validates the 228-byte ETS header, which
// immediately follows the SIS header at offset 64.
func ParseETSHeader(r io.ReaderAt) (ETSHeader, error) {
	buf, err := readAt(r, sisHeaderSize, etsHeaderSize)
	if err != nil {
		return ETSHeader{}, err
	}

	if string(buf[0:4]) != "ETS0" {
		return ETSHeader{}, &CorruptHeaderError{Field: "magic", Want: "ETS0", Got: string(buf[0:4])}
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	pixelType := binary.LittleEndian.Uint32(buf[8:12])
	if pixelType != PixelUInt8 && pixelType != PixelInt32 {
		return ETSHeader{}, &CorruptHeaderError{Field: "pixelType", Want: "2 or 4", Got: pixelType}
	}
	channelKind := binary.LittleEndian.Uint32(buf[12:16])
	if channelKind != ChannelGrayscale && channelKind != ChannelRGB {
		return ETSHeader{}, &CorruptHeaderError{Field: "channelKind", Want: "1 or 3", Got: channelKind}
	}
	colorspace := binary.LittleEndian.Uint32(buf[16:20])
	if colorspace != ColorspaceFluorescence && colorspace != ColorspaceBrightfield {
		return ETSHeader{}, &CorruptHeaderError{Field: "colorspace", Want: "1 or 4", Got: colorspace}
	}
	compression := binary.LittleEndian.Uint32(buf[20:24])
	switch compression {
	case CompressionJPEG, CompressionJP2, CompressionPNG, CompressionBMP:
	default:
		return ETSHeader{}, &CorruptHeaderError{Field: "compression", Want: "2, 3, 8 or 9", Got: compression}
	}
	quality := binary.LittleEndian.Uint32(buf[24:28])
	tileWidth := binary.LittleEndian.Uint32(buf[28:32])
	tileHeight := binary.LittleEndian.Uint32(buf[32:36])
	tileDepth := binary.LittleEndian.Uint32(buf[36:40])
	if tileDepth != 1 {
		return ETSHeader{}, &CorruptHeaderError{Field: "tileDepth", Want: 1, Got: tileDepth}
	}

	// 68 skip bytes: offset 40..108.
	pos := 40 + 68

	elemCount := 1
	if channelKind == ChannelRGB {
		elemCount = 3
	}
	elemWidth := 4
	if pixelType == PixelUInt8 {
		elemWidth = 1
	}
	bg := make([]uint32, elemCount)
	for i := 0; i < elemCount; i++ {
		switch elemWidth {
		case 1:
			bg[i] = uint32(buf[pos])
			pos++
		case 4:
			v := binary.LittleEndian.Uint32(buf[pos : pos+4])
			if v > 0xFF {
				v = 0xFF // "clamped to 8 bits when stored" per spec §4.2
			}
			bg[i] = v
			pos += 4
		}
	}

	// Padding to 10 slots of u32, counted from the start of the background
	// vector region (pos currently points just past the used slots).
	bgRegionStart := 40 + 68
	pos = bgRegionStart + 10*4

	componentOrder := binary.LittleEndian.Uint32(buf[pos : pos+4])
	pos += 4
	usePyramid := binary.LittleEndian.Uint32(buf[pos : pos+4])

	return ETSHeader{
		Version:         version,
		PixelType:       pixelType,
		ChannelKind:     channelKind,
		Colorspace:      colorspace,
		Compression:     compression,
		Quality:         quality,
		TileWidth:       tileWidth,
		TileHeight:      tileHeight,
		TileDepth:       tileDepth,
		BackgroundColor: bg,
		ComponentOrder:  componentOrder,
		UsePyramid:      usePyramid,
	}, nil
}

// ParseTileDirectory reads `count` 32-byte entries starting at `offset`.
func ParseTileDirectory(r io.ReaderAt, offset int64, count uint32) ([]TileDirectoryEntry, error) {
	entries := make([]TileDirectoryEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		buf, err := readAt(r, offset+int64(i)*tileEntrySize, tileEntrySize)
		if err != nil {
			return nil, fmt.Errorf("tile directory entry %d: %w", i, err)
		}
		// buf[0:4] reserved
		col := binary.LittleEndian.Uint32(buf[4:8])
		row := binary.LittleEndian.Uint32(buf[8:12])
		channel := binary.LittleEndian.Uint32(buf[12:16])
		level := binary.LittleEndian.Uint32(buf[16:20])
		off := binary.LittleEndian.Uint64(buf[20:28])
		nbytes := binary.LittleEndian.Uint32(buf[28:32])
		// buf[... ] trailing reserved u32 not present: entry is exactly
		// 32 bytes (4+4+4+4+4+8+4 = 32); no further reserved field to skip.

		entries = append(entries, TileDirectoryEntry{
			Col: col, Row: row, Channel: channel,
			Level: level, Offset: off, Bytes: nbytes,
		})
	}
	return entries, nil
}

// ValidateBounds enforces "offset + bytes <= fileLength" for every entry,
// per spec §3's TileDirectoryEntry invariant. levelCount/planeCount are
// supplied by the caller once pyramid inference has run, since the
// directory's own level/channel bounds depend on that inference.
func ValidateBounds(entries []TileDirectoryEntry, fileLength int64, levelCount, planeCount uint32) error {
	for i, e := range entries {
		if int64(e.Offset)+int64(e.Bytes) > fileLength {
			return &CorruptHeaderError{Field: fmt.Sprintf("entry[%d].offset+bytes", i), Want: fmt.Sprintf("<= %d", fileLength), Got: e.Offset + uint64(e.Bytes)}
		}
		if e.Level >= levelCount {
			return &CorruptHeaderError{Field: fmt.Sprintf("entry[%d].level", i), Want: fmt.Sprintf("< %d", levelCount), Got: e.Level}
		}
		if e.Channel >= planeCount {
			return &CorruptHeaderError{Field: fmt.Sprintf("entry[%d].channel", i), Want: fmt.Sprintf("< %d", planeCount), Got: e.Channel}
		}
	}
	return nil
}
