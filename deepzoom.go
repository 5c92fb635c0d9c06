package olyslide

import (
	"context"

	"github.com/olympus-oss/olyslide/internal/deepzoom"
	"github.com/olympus-oss/olyslide/internal/tilecache"
)

// DeepZoom wraps internal/deepzoom.Adapter, bound to the Slide that
// produced it, so callers fetch tiles through one object instead of
// threading a Slide and an Adapter through separately.
type DeepZoom struct {
	adapter *deepzoom.Adapter
	slide   *Slide
}

// LevelCount returns dz_levels.
func (d *DeepZoom) LevelCount() int { return d.adapter.LevelCount() }

// LevelDimensions returns z_dimensions[level].
func (d *DeepZoom) LevelDimensions(level int) (deepzoom.Dimensions, error) {
	return d.adapter.LevelDimensions(level)
}

// TileCount returns t_dimensions[level].
func (d *DeepZoom) TileCount(level int) (deepzoom.Dimensions, error) {
	return d.adapter.TileCount(level)
}

// GetTile resolves a DeepZoom tile request against the owning Slide,
// running spec §4.6's get_tile algorithm and then the §4.4 read_tile path,
// returning a pinned handle sized to the native slide tile (the caller must
// resize/crop to FinalScale if it differs from the native tile's bounds,
// per spec §4.6 step 9).
func (d *DeepZoom) GetTile(ctx context.Context, level, col, row, plane int) (*tilecache.PinnedTile, deepzoom.TileRequest, error) {
	req, err := d.adapter.GetTile(level, col, row)
	if err != nil {
		return nil, deepzoom.TileRequest{}, newErr("GetTile", KindOutOfRange, err.Error(), err)
	}

	tileW, tileH := d.slide.nativeTileDimensions(req.SlideLevel)
	if tileW <= 0 || tileH <= 0 {
		return nil, req, newErr("GetTile", KindInconsistentPyramid, "native tile dimensions unavailable", nil)
	}
	// req.X/req.Y are level-0 pixel coordinates (spec §4.6 step 6); the
	// native tile grid is addressed in slide_level pixel space, so the
	// l0_offset shift must be undone and the slide level's downsample divided out
	// before dividing by the tile edge, or every level above 0 overindexes
	// the tile grid by its downsample factor.
	offset := d.adapter.L0Offset()
	downsample := d.slide.LevelDownsample(req.SlideLevel)
	slideX := (float64(req.X) - float64(offset.W)) / downsample
	slideY := (float64(req.Y) - float64(offset.H)) / downsample
	nativeCol := int(slideX) / tileW
	nativeRow := int(slideY) / tileH

	pt, err := d.slide.ReadTile(ctx, req.SlideLevel, nativeCol, nativeRow, plane)
	if err != nil {
		return nil, req, err
	}
	return pt, req, nil
}
