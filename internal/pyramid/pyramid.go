// Package pyramid infers level count, plane count and per-level dimensions
// from a flat, unsorted ETS tile directory, per spec §4.3. The source data
// supplies no authoritative dimension table; everything here is inferred
// from observed tile coordinates, the way Echoflaresat-spacecam's tiled
// TIFF reader derives tilesAcross from image width and tile width rather
// than trusting a stored tile count (texture/tiff/tiled.go).
package pyramid

import (
	"fmt"
	"sort"
)

// Tile is the subset of a tile-directory entry the inference algorithm
// needs; internal/sisets.TileDirectoryEntry satisfies this shape by field
// name, not by implementing an interface (pyramid stays decoupled from the
// ETS binary format so it can also serve ad-hoc synthetic test fixtures).
type Tile struct {
	Col, Row, Channel uint32
	Level             uint32
}

// LevelDescriptor is a per-level immutable record, matching spec §3's
// LevelDescriptor type.
type LevelDescriptor struct {
	Width, Height          int
	TileWidth, TileHeight  int
	TilesAcross, TilesDown int
	Downsample             float64
	Compression            uint32
	PlaneCount             int
}

// InconsistentPyramidError reports that the tile directory does not
// describe a coherent pyramid.
type InconsistentPyramidError struct {
	Reason string
}

func (e *InconsistentPyramidError) Error() string {
	return fmt.Sprintf("inconsistent pyramid: %s", e.Reason)
}

// Inference is the transient accumulator described in spec §3's
// PyramidInference type: built up while scanning the tile directory, then
// discarded once Infer returns the final descriptors.
type Inference struct {
	LevelCount int
	PlaneCount int
	Levels     []LevelDescriptor
}

// Infer derives the pyramid structure from a flat tile list, following
// spec §4.3 steps 1-6 exactly, including the deliberately-preserved
// independent descending sort of maxCol/maxRow (spec §9 flags this as an
// ambiguous-intent site to reproduce verbatim rather than "fix").
func Infer(tiles []Tile, tileWidth, tileHeight int, compression uint32) (Inference, error) {
	if len(tiles) == 0 {
		return Inference{}, &InconsistentPyramidError{Reason: "empty tile directory"}
	}
	if tileWidth <= 0 || tileHeight <= 0 {
		return Inference{}, &InconsistentPyramidError{Reason: "non-positive tile dimensions"}
	}

	// Step 1: level_count := max(entry.level) + 1.
	maxLevel := uint32(0)
	maxChannel := uint32(0)
	anyChannelNonzero := false
	for _, t := range tiles {
		if t.Level > maxLevel {
			maxLevel = t.Level
		}
		if t.Channel > maxChannel {
			maxChannel = t.Channel
		}
		if t.Channel != 0 {
			anyChannelNonzero = true
		}
	}
	levelCount := int(maxLevel) + 1

	// Step 2: plane_count := max(channel)+1, treated as 1 if every channel
	// index observed is 0.
	planeCount := 1
	if anyChannelNonzero {
		planeCount = int(maxChannel) + 1
	}

	// Step 3: per-level maxCol/maxRow.
	maxColByLevel := make([]int, levelCount)
	maxRowByLevel := make([]int, levelCount)
	seenLevel := make([]bool, levelCount)
	for _, t := range tiles {
		if int(t.Level) >= levelCount {
			return Inference{}, &InconsistentPyramidError{Reason: fmt.Sprintf("tile level %d >= inferred level_count %d", t.Level, levelCount)}
		}
		seenLevel[t.Level] = true
		if int(t.Col) > maxColByLevel[t.Level] {
			maxColByLevel[t.Level] = int(t.Col)
		}
		if int(t.Row) > maxRowByLevel[t.Level] {
			maxRowByLevel[t.Level] = int(t.Row)
		}
	}
	for l, seen := range seenLevel {
		if !seen {
			return Inference{}, &InconsistentPyramidError{Reason: fmt.Sprintf("level %d has no tiles", l)}
		}
	}

	// Step 4: sort maxCol and maxRow independently, descending. This is
	// the ambiguous-intent site: the source sorts each array on its own,
	// so the Nth-largest maxCol need not belong to the same level as the
	// Nth-largest maxRow. Preserved verbatim per spec §9.
	sortedMaxCol := append([]int(nil), maxColByLevel...)
	sortedMaxRow := append([]int(nil), maxRowByLevel...)
	sort.Sort(sort.Reverse(sort.IntSlice(sortedMaxCol)))
	sort.Sort(sort.Reverse(sort.IntSlice(sortedMaxRow)))

	for l := 0; l < levelCount; l++ {
		if maxColByLevel[l] > sortedMaxCol[0] || maxRowByLevel[l] > sortedMaxRow[0] {
			return Inference{}, &InconsistentPyramidError{Reason: fmt.Sprintf("level %d coordinates exceed sorted bounds", l)}
		}
	}

	// Step 5: level 0 width/height from the sorted maxima; subsequent
	// levels halve with ceiling. Downsample at level L is 2^L.
	levels := make([]LevelDescriptor, levelCount)
	width0 := tileWidth * (sortedMaxCol[0] + 1)
	height0 := tileHeight * (sortedMaxRow[0] + 1)

	w, h := width0, height0
	for l := 0; l < levelCount; l++ {
		if l > 0 {
			w = ceilDiv(w, 2)
			h = ceilDiv(h, 2)
		}
		levels[l] = LevelDescriptor{
			Width:       w,
			Height:      h,
			TileWidth:   tileWidth,
			TileHeight:  tileHeight,
			TilesAcross: ceilDiv(w, tileWidth),
			TilesDown:   ceilDiv(h, tileHeight),
			Downsample:  float64(uint64(1) << uint(l)),
			Compression: compression,
			PlaneCount:  planeCount,
		}
	}

	return Inference{LevelCount: levelCount, PlaneCount: planeCount, Levels: levels}, nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1 // a level never degenerates to zero pixels; clamp like "minimum 1" in spec §4.6.
	}
	return (a + b - 1) / b
}
