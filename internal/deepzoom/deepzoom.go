// Package deepzoom implements the DeepZoom coordinate adapter described in
// spec §4.6: translating (dz_level, col, row) tile coordinates into a
// physical region of a slide's native pyramid.
//
// Grounded on other_examples/a48a19dc_RoomOfRequirement-deepzoom's
// DeepZoomImageDescriptor: the same NumLevels/getScale/getDimensions/
// getNumTiles/getTileBounds recursion (ceiling-scale halving, overlap
// toggled by whether column/row is interior), generalized here from a
// single flat image to a multi-level Slide with native, non-uniform
// downsamples, and carrying the limit_bounds/l0_offset scaling spec §4.6
// adds on top of that single-image model.
package deepzoom

import (
	"fmt"
	"math"
)

// Dimensions is a width/height pair, mirroring the reference's (int, int)
// return convention from getDimensions/getNumTiles.
type Dimensions struct{ W, H int }

// Slide is the subset of olyslide.Slide the adapter needs. Kept narrow so
// tests can supply a synthetic pyramid without constructing a real
// container.
type Slide interface {
	LevelCount() int
	LevelDimensions(level int) Dimensions
	LevelDownsample(level int) float64
	BestLevelForDownsample(downsample float64) int
	Property(key string) (string, bool)
}

// OutOfRangeError reports a DeepZoom coordinate outside the derived bounds,
// per spec §7's KindOutOfRange.
type OutOfRangeError struct{ Detail string }

func (e *OutOfRangeError) Error() string { return fmt.Sprintf("deepzoom: out of range: %s", e.Detail) }

// Adapter holds the derived state spec §4.6 computes once at open.
type Adapter struct {
	slide       Slide
	tileEdge    int
	overlap     int
	limitBounds bool

	l0Offset   Dimensions
	lDims      []Dimensions // l_dimensions[i], indexed by slide level
	dzLevels   int
	zDims      []Dimensions // z_dimensions[d]
	tDims      []Dimensions // t_dimensions[d]
	slideFromD []int        // slide_from_dz[d]
	l0LDown    []float64    // l0_l_downsamples[i]
	lZDown     []float64    // l_z_downsamples[d]
}

// Open computes the full derived state described in spec §4.6. tileEdge and
// overlap are typically 254 and 1.
func Open(slide Slide, tileEdge, overlap int, limitBounds bool) (*Adapter, error) {
	if tileEdge <= 0 {
		return nil, fmt.Errorf("deepzoom: tileEdge must be positive, got %d", tileEdge)
	}
	a := &Adapter{slide: slide, tileEdge: tileEdge, overlap: overlap, limitBounds: limitBounds}

	levelCount := slide.LevelCount()
	if levelCount <= 0 {
		return nil, fmt.Errorf("deepzoom: slide reports zero levels")
	}

	a.l0Offset = Dimensions{0, 0}
	boundsW, boundsH := 0, 0
	level0 := slide.LevelDimensions(0)
	fullW, fullH := level0.W, level0.H

	if limitBounds {
		boundsX := propInt(slide, "bounds-x", 0)
		boundsY := propInt(slide, "bounds-y", 0)
		boundsW = propInt(slide, "bounds-width", fullW)
		boundsH = propInt(slide, "bounds-height", fullH)
		a.l0Offset = Dimensions{boundsX, boundsY}
	} else {
		boundsW, boundsH = fullW, fullH
	}

	a.lDims = make([]Dimensions, levelCount)
	a.l0LDown = make([]float64, levelCount)
	for i := 0; i < levelCount; i++ {
		d := slide.LevelDimensions(i)
		a.l0LDown[i] = slide.LevelDownsample(i)
		if limitBounds {
			scaleW := float64(boundsW) / float64(fullW)
			scaleH := float64(boundsH) / float64(fullH)
			a.lDims[i] = Dimensions{
				W: int(math.Ceil(float64(d.W) * scaleW)),
				H: int(math.Ceil(float64(d.H) * scaleH)),
			}
		} else {
			a.lDims[i] = d
		}
	}

	// dz_levels: smallest D such that ceiling-halving level-0 dims reaches
	// 1x1 in exactly D-1 steps, matching NumLevels' log2-based formula.
	l0 := a.lDims[0]
	maxDim := l0.W
	if l0.H > maxDim {
		maxDim = l0.H
	}
	if maxDim < 1 {
		maxDim = 1
	}
	a.dzLevels = int(math.Ceil(math.Log2(float64(maxDim)))) + 1

	a.zDims = make([]Dimensions, a.dzLevels)
	a.zDims[a.dzLevels-1] = l0
	for d := a.dzLevels - 2; d >= 0; d-- {
		prev := a.zDims[d+1]
		a.zDims[d] = Dimensions{W: ceilHalf(prev.W), H: ceilHalf(prev.H)}
	}

	a.tDims = make([]Dimensions, a.dzLevels)
	for d := 0; d < a.dzLevels; d++ {
		a.tDims[d] = Dimensions{
			W: ceilDiv(a.zDims[d].W, tileEdge),
			H: ceilDiv(a.zDims[d].H, tileEdge),
		}
	}

	a.slideFromD = make([]int, a.dzLevels)
	a.lZDown = make([]float64, a.dzLevels)
	for d := 0; d < a.dzLevels; d++ {
		targetDownsample := math.Pow(2, float64(a.dzLevels-1-d))
		level := slide.BestLevelForDownsample(targetDownsample)
		a.slideFromD[d] = level
		a.lZDown[d] = targetDownsample / a.l0LDown[level]
	}

	return a, nil
}

func propInt(slide Slide, key string, def int) int {
	v, ok := slide.Property(key)
	if !ok {
		return def
	}
	var out int
	if _, err := fmt.Sscanf(v, "%d", &out); err != nil {
		return def
	}
	return out
}

func ceilHalf(v int) int {
	out := (v + 1) / 2
	if out < 1 {
		return 1
	}
	return out
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

// LevelCount returns dz_levels.
func (a *Adapter) LevelCount() int { return a.dzLevels }

// L0Offset returns l0_offset, the level-0 pixel coordinate that GetTile's
// emitted (x, y) are shifted by (spec §4.6 derived state). Callers mapping
// an emitted location back onto the native slide's tile grid must undo this
// shift before dividing by the native tile edge.
func (a *Adapter) L0Offset() Dimensions { return a.l0Offset }

// TileCount returns t_dimensions[level].
func (a *Adapter) TileCount(level int) (Dimensions, error) {
	if level < 0 || level >= a.dzLevels {
		return Dimensions{}, &OutOfRangeError{Detail: fmt.Sprintf("dz_level %d out of [0,%d)", level, a.dzLevels)}
	}
	return a.tDims[level], nil
}

// LevelDimensions returns z_dimensions[level].
func (a *Adapter) LevelDimensions(level int) (Dimensions, error) {
	if level < 0 || level >= a.dzLevels {
		return Dimensions{}, &OutOfRangeError{Detail: fmt.Sprintf("dz_level %d out of [0,%d)", level, a.dzLevels)}
	}
	return a.zDims[level], nil
}

// TileRequest is what the caller passes to Slide.ReadTile to resolve one
// DeepZoom tile, plus the final scale to resize to if l_size != z_size.
type TileRequest struct {
	X, Y        int
	SlideLevel  int
	Width       int
	Height      int
	FinalScaleW int
	FinalScaleH int
}

// GetTile implements spec §4.6's get_tile algorithm steps 1-9.
func (a *Adapter) GetTile(dzLevel, col, row int) (TileRequest, error) {
	if dzLevel < 0 || dzLevel >= a.dzLevels {
		return TileRequest{}, &OutOfRangeError{Detail: fmt.Sprintf("dz_level %d out of [0,%d)", dzLevel, a.dzLevels)}
	}
	t := a.tDims[dzLevel]
	if col < 0 || col >= t.W {
		return TileRequest{}, &OutOfRangeError{Detail: fmt.Sprintf("col %d out of [0,%d)", col, t.W)}
	}
	if row < 0 || row >= t.H {
		return TileRequest{}, &OutOfRangeError{Detail: fmt.Sprintf("row %d out of [0,%d)", row, t.H)}
	}

	overlapTLx, overlapTLy := 0, 0
	if col != 0 {
		overlapTLx = a.overlap
	}
	if row != 0 {
		overlapTLy = a.overlap
	}
	overlapBRx, overlapBRy := a.overlap, a.overlap
	if col == t.W-1 {
		overlapBRx = 0
	}
	if row == t.H-1 {
		overlapBRy = 0
	}

	z := a.zDims[dzLevel]
	zSizeX := min(a.tileEdge, z.W-a.tileEdge*col) + overlapTLx + overlapBRx
	zSizeY := min(a.tileEdge, z.H-a.tileEdge*row) + overlapTLy + overlapBRy

	zLocX := a.tileEdge * col
	zLocY := a.tileEdge * row

	lLocX := float64(zLocX-overlapTLx) * a.lZDown[dzLevel]
	lLocY := float64(zLocY-overlapTLy) * a.lZDown[dzLevel]

	slideLevel := a.slideFromD[dzLevel]
	l0LocX := int(math.Round(lLocX*a.l0LDown[slideLevel])) + a.l0Offset.W
	l0LocY := int(math.Round(lLocY*a.l0LDown[slideLevel])) + a.l0Offset.H

	lSizeX := int(math.Ceil(a.lZDown[dzLevel] * float64(zSizeX)))
	lSizeY := int(math.Ceil(a.lZDown[dzLevel] * float64(zSizeY)))

	levelDims := a.lDims[slideLevel]
	remainingX := levelDims.W - int(lLocX)
	remainingY := levelDims.H - int(lLocY)
	lSizeX = clampPositive(min(lSizeX, remainingX))
	lSizeY = clampPositive(min(lSizeY, remainingY))

	return TileRequest{
		X:           l0LocX,
		Y:           l0LocY,
		SlideLevel:  slideLevel,
		Width:       lSizeX,
		Height:      lSizeY,
		FinalScaleW: zSizeX,
		FinalScaleH: zSizeY,
	}, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampPositive(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
