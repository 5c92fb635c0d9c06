package sisets

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildSynthETS assembles a minimal valid SIS+ETS+tile-directory byte
// stream, following spec §4.2's exact field layout, so the codec can be
// round-tripped without a committed binary fixture (none are available in
// the example pack).
func buildSynthETS(t *testing.T, tiles []TileDirectoryEntry, tileWidth, tileHeight uint32) []byte {
	t.Helper()
	var buf bytes.Buffer

	// SIS header (64 bytes).
	buf.WriteString("SIS0")
	w32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	w64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }

	w32(64)    // headerSize
	w32(1)     // version
	w32(4)     // Ndim
	w64(64)    // etsOffset
	w32(228)   // etsBytes
	w32(0)     // reserved
	tileDirOffsetPos := buf.Len()
	w64(0) // tileDirOffset placeholder
	w32(uint32(len(tiles)))
	w32(0) // reserved
	w32(0) // misc
	w32(0) // reserved
	w32(0) // misc
	w32(0) // reserved
	for buf.Len() < 64 {
		buf.WriteByte(0)
	}

	// ETS header (228 bytes) at offset 64.
	etsStart := buf.Len()
	buf.WriteString("ETS0")
	w32(1)             // version
	w32(PixelUInt8)    // pixelType
	w32(ChannelRGB)    // channelKind
	w32(ColorspaceBrightfield)
	w32(CompressionJPEG)
	w32(90) // quality
	w32(tileWidth)
	w32(tileHeight)
	w32(1) // tileDepth
	for i := 0; i < 68; i++ {
		buf.WriteByte(0)
	}
	// background colour: 3 elements (RGB) x 1 byte (UInt8 pixel type).
	buf.WriteByte(221)
	buf.WriteByte(221)
	buf.WriteByte(221)
	for buf.Len() < etsStart+40+68+40 {
		buf.WriteByte(0)
	}
	w32(0) // componentOrder
	w32(1) // usePyramid
	for buf.Len() < etsStart+etsHeaderSize {
		buf.WriteByte(0)
	}

	// Tile directory.
	tileDirOffset := uint64(buf.Len())
	for _, e := range tiles {
		w32(0) // reserved
		w32(e.Col)
		w32(e.Row)
		w32(e.Channel)
		w32(e.Level)
		w64(e.Offset)
		w32(e.Bytes)
	}

	out := buf.Bytes()
	binary.LittleEndian.PutUint64(out[tileDirOffsetPos:], tileDirOffset)
	return out
}

type readerAt struct{ b []byte }

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, r.b[off:])
	return n, nil
}

func TestParseSISAndETSHeaders(t *testing.T) {
	tiles := []TileDirectoryEntry{
		{Col: 0, Row: 0, Channel: 0, Level: 0, Offset: 1000, Bytes: 10},
	}
	data := buildSynthETS(t, tiles, 512, 512)
	r := readerAt{data}

	sis, err := ParseSISHeader(r)
	if err != nil {
		t.Fatalf("ParseSISHeader: %v", err)
	}
	if sis.TileCount != 1 {
		t.Fatalf("expected tileCount 1, got %d", sis.TileCount)
	}

	ets, err := ParseETSHeader(r)
	if err != nil {
		t.Fatalf("ParseETSHeader: %v", err)
	}
	if ets.TileWidth != 512 || ets.TileHeight != 512 {
		t.Fatalf("unexpected tile dims: %+v", ets)
	}
	if ets.Compression != CompressionJPEG {
		t.Fatalf("expected JPEG compression, got %d", ets.Compression)
	}
	if len(ets.BackgroundColor) != 3 {
		t.Fatalf("expected 3 background channels, got %d", len(ets.BackgroundColor))
	}

	entries, err := ParseTileDirectory(r, int64(sis.TileDirOffset), sis.TileCount)
	if err != nil {
		t.Fatalf("ParseTileDirectory: %v", err)
	}
	if len(entries) != 1 || entries[0].Offset != 1000 || entries[0].Bytes != 10 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParseSISHeaderRejectsBadMagic(t *testing.T) {
	data := buildSynthETS(t, []TileDirectoryEntry{{Offset: 0, Bytes: 1}}, 256, 256)
	data[0] = 'X'
	_, err := ParseSISHeader(readerAt{data})
	ch, ok := err.(*CorruptHeaderError)
	if !ok {
		t.Fatalf("expected CorruptHeaderError, got %T: %v", err, err)
	}
	if ch.Field != "magic" {
		t.Fatalf("expected magic field error, got %+v", ch)
	}
}

func TestValidateBoundsRejectsOutOfFileOffset(t *testing.T) {
	entries := []TileDirectoryEntry{{Offset: 100, Bytes: 50, Level: 0, Channel: 0}}
	err := ValidateBounds(entries, 120, 1, 1)
	if err == nil {
		t.Fatal("expected bounds violation error")
	}
}

func TestValidateBoundsAccepts(t *testing.T) {
	entries := []TileDirectoryEntry{{Offset: 0, Bytes: 100, Level: 0, Channel: 0}}
	if err := ValidateBounds(entries, 100, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
