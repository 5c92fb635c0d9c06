package ometiff

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildOneIFDTiff synthesizes a minimal little-endian TIFF with a single
// tiled IFD, for testing ReadDirectories against a known-good layout.
func buildOneIFDTiff(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	// Header: "II", magic 42, first IFD offset (filled after we know it).
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	ifdOffsetPos := buf.Len()
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // placeholder

	ifdOffset := uint32(buf.Len())

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	entries := []entry{
		{TagImageWidth, 4, 1, 512},
		{TagImageLength, 4, 1, 512},
		{TagTileWidth, 4, 1, 256},
		{TagTileLength, 4, 1, 256},
		{TagTileOffsets, 4, 1, 999}, // single value inline
		{TagTileByteCounts, 4, 1, 12345},
	}
	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, e.typ)
		binary.Write(&buf, binary.LittleEndian, e.count)
		binary.Write(&buf, binary.LittleEndian, e.value)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // next IFD = 0

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[ifdOffsetPos:], ifdOffset)
	return out
}

func TestReadDirectoriesSingleIFD(t *testing.T) {
	data := buildOneIFDTiff(t)
	dirs, err := ReadDirectories(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadDirectories: %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected 1 directory, got %d", len(dirs))
	}
	d := dirs[0]
	if d.Width != 512 || d.Height != 512 || d.TileWidth != 256 || d.TileHeight != 256 {
		t.Fatalf("unexpected directory: %+v", d)
	}
}

func TestReadDirectoriesBadMagic(t *testing.T) {
	_, err := ReadDirectories(bytes.NewReader([]byte("garbage!")))
	if _, ok := err.(*BadMagicError); !ok {
		t.Fatalf("expected BadMagicError, got %T: %v", err, err)
	}
}
