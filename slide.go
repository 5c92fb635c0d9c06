// Package olyslide reads Olympus whole-slide-image archives: the SIS/ETS
// binary container and its OME-TIFF sidecar variant, reconstructing a
// multi-resolution tile pyramid and serving decoded RGBA tiles through a
// DeepZoom coordinate adapter.
//
// Slide is the facade every other package is wired behind, analogous to the
// teacher's image_renderer.Renderer + image_list.Scanner combined into one
// object that owns a container and exposes read operations to callers.
package olyslide

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/olympus-oss/olyslide/internal/codecs"
	"github.com/olympus-oss/olyslide/internal/config"
	"github.com/olympus-oss/olyslide/internal/deepzoom"
	"github.com/olympus-oss/olyslide/internal/discover"
	"github.com/olympus-oss/olyslide/internal/handlepool"
	"github.com/olympus-oss/olyslide/internal/ometiff"
	"github.com/olympus-oss/olyslide/internal/pyramid"
	"github.com/olympus-oss/olyslide/internal/sisets"
	"github.com/olympus-oss/olyslide/internal/tilecache"
)

// Slide is safe for concurrent ReadTile calls from multiple goroutines once
// Open returns (spec §5: "safe for concurrent read"). Open and Close are not
// safe to call concurrently with each other or with themselves.
type Slide struct {
	path       string
	dataPath   string
	log        *zap.Logger
	properties map[string]string

	isOMETiff bool

	// ETS path state.
	ets     sisets.ETSHeader
	entries []sisets.TileDirectoryEntry

	// OME-TIFF path state.
	omeStructure ometiff.LevelChannelStructure

	pyr      pyramid.Inference
	pool     *handlepool.Pool
	cache    *tilecache.Cache
	registry *codecs.Registry

	mu       sync.Mutex
	closed   bool
	poisoned *Error
}

// Open classifies path, resolves any `.vsi` sidecar, parses headers, infers
// the pyramid and prepares the cache/handle pool/codec registry. On any
// failure, Open frees partial state and returns a poisoned Slide: its
// ReadTile and DeepZoom return the same sticky error (spec §7). Its methods
// without an error result do not report it: LevelCount and PlaneCount
// return 0, Properties returns an empty table, and Close returns nil.
func Open(path string, cfg *config.Config, log *zap.Logger) (*Slide, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Slide{path: path, log: log, properties: make(map[string]string)}

	res, err := discover.Classify(path, ometiff.IsOlympusVSI)
	if err != nil {
		return s.poison("Open", wrapDiscoverErr(err))
	}

	format, target := res.Format, path
	if format == discover.Vsi {
		format, target = res.SidecarFmt, res.Sidecar
	}

	switch format {
	case discover.Ets:
		if err := s.openETS(target, cfg); err != nil {
			return s.poison("Open", err)
		}
	case discover.Tif:
		if err := s.openOMETiff(target, cfg); err != nil {
			return s.poison("Open", err)
		}
	default:
		return s.poison("Open", newErr("Open", KindNotFound, fmt.Sprintf("path %q is not a recognizable container", path), nil))
	}

	s.registry = codecs.NewRegistry()
	s.properties["vendor"] = "olympus"
	return s, nil
}

func (s *Slide) poison(op string, err error) (*Slide, error) {
	e := toError(op, err)
	s.poisoned = e
	return s, e
}

func wrapDiscoverErr(err error) error {
	switch err.(type) {
	case *discover.NotFoundError:
		return newErr("Open", KindNotFound, err.Error(), err)
	case *discover.BadMagicError:
		return newErr("Open", KindBadMagic, err.Error(), err)
	case *discover.UnsupportedError:
		return newErr("Open", KindUnsupportedCodec, err.Error(), err)
	default:
		return newErr("Open", KindIOError, err.Error(), err)
	}
}

func toError(op string, err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return newErr(op, KindIOError, err.Error(), err)
}

func (s *Slide) openETS(path string, cfg *config.Config) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newErr("Open", KindNotFound, "ets file not found", err)
		}
		return newErr("Open", KindIOError, "opening ets file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return newErr("Open", KindIOError, "stat ets file", err)
	}

	sis, err := sisets.ParseSISHeader(f)
	if err != nil {
		return wrapHeaderErr(err)
	}
	ets, err := sisets.ParseETSHeader(f)
	if err != nil {
		return wrapHeaderErr(err)
	}
	entries, err := sisets.ParseTileDirectory(f, int64(sis.TileDirOffset), sis.TileCount)
	if err != nil {
		return newErr("Open", KindCorruptHeader, "reading tile directory", err)
	}

	tiles := make([]pyramid.Tile, len(entries))
	for i, e := range entries {
		tiles[i] = pyramid.Tile{Col: e.Col, Row: e.Row, Channel: e.Channel, Level: e.Level}
	}
	inf, err := pyramid.Infer(tiles, int(ets.TileWidth), int(ets.TileHeight), ets.Compression)
	if err != nil {
		return newErr("Open", KindInconsistentPyramid, "inferring pyramid", err)
	}
	if err := sisets.ValidateBounds(entries, info.Size(), uint32(inf.LevelCount), uint32(inf.PlaneCount)); err != nil {
		return newErr("Open", KindCorruptHeader, "validating tile directory bounds", err)
	}

	s.ets = ets
	s.entries = entries
	s.pyr = inf
	s.dataPath = path

	s.pool = handlepool.New(path, cfg.MaxFileHandles)
	cache, err := tilecache.New(cfg.CacheMaxEntries, cfg.CacheBudgetBytes, s.log)
	if err != nil {
		return newErr("Open", KindIOError, "building tile cache", err)
	}
	s.cache = cache

	for i, v := range ets.BackgroundColor {
		s.properties["background-color"] = appendCSV(s.properties["background-color"], i, v)
	}
	return nil
}

func appendCSV(existing string, i int, v uint32) string {
	if i == 0 {
		return fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("%s,%d", existing, v)
}

func wrapHeaderErr(err error) error {
	switch err.(type) {
	case *sisets.CorruptHeaderError:
		return newErr("Open", KindCorruptHeader, err.Error(), err)
	default:
		return newErr("Open", KindIOError, err.Error(), err)
	}
}

func (s *Slide) openOMETiff(path string, cfg *config.Config) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newErr("Open", KindNotFound, "tif file not found", err)
		}
		return newErr("Open", KindIOError, "opening tif file", err)
	}
	defer f.Close()

	dirs, err := ometiff.ReadDirectories(f)
	if err != nil {
		if _, ok := err.(*ometiff.BadMagicError); ok {
			return newErr("Open", KindBadMagic, err.Error(), err)
		}
		return newErr("Open", KindIOError, err.Error(), err)
	}
	if len(dirs) == 0 || dirs[0].ImageDescription == "" {
		return newErr("Open", KindUnsupportedCodec, "tif sidecar carries no OME XML", nil)
	}

	meta, err := ometiff.ParseOMEXML([]byte(dirs[0].ImageDescription))
	if err != nil {
		return newErr("Open", KindUnsupportedCodec, "parsing OME XML", err)
	}
	if len(meta.Images) == 0 {
		return newErr("Open", KindUnsupportedCodec, "OME XML carries no Image nodes", nil)
	}

	levelCount := len(meta.Images)
	planeCount := len(meta.Images[0].Channels)
	if planeCount == 0 {
		planeCount = 1
	}

	structure, err := ometiff.BuildLevelChannelStructure(dirs, levelCount, planeCount)
	if err != nil {
		return newErr("Open", KindInconsistentPyramid, err.Error(), err)
	}

	s.isOMETiff = true
	s.omeStructure = structure
	s.dataPath = path

	s.pool = handlepool.New(path, cfg.MaxFileHandles)
	cache, err := tilecache.New(cfg.CacheMaxEntries, cfg.CacheBudgetBytes, s.log)
	if err != nil {
		return newErr("Open", KindIOError, "building tile cache", err)
	}
	s.cache = cache

	s.pyr = pyramid.Inference{LevelCount: levelCount, PlaneCount: planeCount}
	s.properties["vendor"] = "olympus"
	if meta.Manufacturer != "" {
		s.properties["manufacturer"] = meta.Manufacturer
	}
	img := meta.Images[0]
	if img.PhysicalSizeX != 0 {
		s.properties["mpp-x"] = fmt.Sprintf("%g", img.PhysicalSizeX)
	}
	if img.PhysicalSizeY != 0 {
		s.properties["mpp-y"] = fmt.Sprintf("%g", img.PhysicalSizeY)
	}
	if img.AcquisitionDate != "" {
		s.properties["comment"] = img.AcquisitionDate
	}
	for _, kv := range []struct{ src, dst string }{
		{"BoundsX", "bounds-x"},
		{"BoundsY", "bounds-y"},
		{"BoundsWidth", "bounds-width"},
		{"BoundsHeight", "bounds-height"},
	} {
		if v, ok := meta.OriginalMetadata[kv.src]; ok && v != "" {
			s.properties[kv.dst] = v
		}
	}
	return nil
}

// LevelCount returns the number of native pyramid levels.
func (s *Slide) LevelCount() int {
	return s.pyr.LevelCount
}

// PlaneCount returns the number of planes (1 for brightfield).
func (s *Slide) PlaneCount() int {
	return s.pyr.PlaneCount
}

// LevelDimensions returns level L's width/height, matching the deepzoom.Slide
// interface so an Adapter can be opened directly against a Slide.
func (s *Slide) LevelDimensions(level int) deepzoom.Dimensions {
	if s.isOMETiff {
		d := s.omeStructure.Levels[level]
		return deepzoom.Dimensions{W: d.Width, H: d.Height}
	}
	d := s.pyr.Levels[level]
	return deepzoom.Dimensions{W: d.Width, H: d.Height}
}

// nativeTileDimensions returns the fixed tile width/height used by level L's
// native representation, for translating a physical pixel location back
// into (col, row) tile coordinates.
func (s *Slide) nativeTileDimensions(level int) (int, int) {
	if s.isOMETiff {
		d := s.omeStructure.Levels[level]
		return d.TileWidth, d.TileHeight
	}
	return int(s.ets.TileWidth), int(s.ets.TileHeight)
}

// LevelTileGrid returns how many tiles span level L along each axis.
func (s *Slide) LevelTileGrid(level int) (across, down int) {
	if s.isOMETiff {
		d := s.omeStructure.Levels[level]
		return (d.Width + d.TileWidth - 1) / d.TileWidth, (d.Height + d.TileHeight - 1) / d.TileHeight
	}
	d := s.pyr.Levels[level]
	return d.TilesAcross, d.TilesDown
}

// LevelDownsample returns level L's native downsample factor.
func (s *Slide) LevelDownsample(level int) float64 {
	if s.isOMETiff {
		return s.omeStructure.Downsample(level)
	}
	return s.pyr.Levels[level].Downsample
}

// BestLevelForDownsample returns the native level whose downsample is the
// closest match, without exceeding, the requested downsample; falls back to
// the coarsest level if every level is finer than requested.
func (s *Slide) BestLevelForDownsample(downsample float64) int {
	best := 0
	for l := 0; l < s.LevelCount(); l++ {
		if s.LevelDownsample(l) <= downsample {
			best = l
		}
	}
	return best
}

// Property returns one property-table value, per spec §4.7.
func (s *Slide) Property(key string) (string, bool) {
	v, ok := s.properties[key]
	return v, ok
}

// Properties returns a defensive copy of the full property table (teacher
// precedent: image_renderer.Renderer.GetImageMeta builds a fresh map per
// call rather than sharing a mutable one).
func (s *Slide) Properties() map[string]string {
	out := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// ReadTile implements spec §4.4's read_tile: cache lookup, single-flight
// decode on miss, pinned handle on return. The caller must call Release on
// the returned PinnedTile exactly once.
func (s *Slide) ReadTile(ctx context.Context, level, col, row, plane int) (*tilecache.PinnedTile, error) {
	if s.poisoned != nil {
		return nil, s.poisoned
	}
	key := tilecache.Key{Level: level, Col: col, Row: row, Plane: plane}

	decode := func(k tilecache.Key) ([]byte, error) {
		if s.isOMETiff {
			return s.decodeOMETile(ctx, k)
		}
		return s.decodeETSTile(ctx, k)
	}

	pt, err := s.cache.GetOrDecode(key, decode)
	if err != nil {
		return nil, toError("ReadTile", err)
	}
	return pt, nil
}

func (s *Slide) decodeETSTile(ctx context.Context, k tilecache.Key) ([]byte, error) {
	var found *sisets.TileDirectoryEntry
	for i := range s.entries {
		e := &s.entries[i]
		if int(e.Level) == k.Level && int(e.Channel) == k.Plane && int(e.Col) == k.Col && int(e.Row) == k.Row {
			found = e
			break
		}
	}
	if found == nil {
		return nil, newErr("ReadTile", KindMissingTile, fmt.Sprintf("no tile at level=%d col=%d row=%d plane=%d", k.Level, k.Col, k.Row, k.Plane), nil)
	}

	f, err := s.pool.Get(ctx)
	if err != nil {
		return nil, newErr("ReadTile", KindIOError, "acquiring file handle", err)
	}
	defer s.pool.Put(f)

	buf := make([]byte, found.Bytes)
	if _, err := f.ReadAt(buf, int64(found.Offset)); err != nil {
		return nil, newErr("ReadTile", KindIOError, "reading tile payload", err)
	}

	out, err := s.registry.Decode(s.ets.Compression, buf, int(s.ets.TileWidth), int(s.ets.TileHeight), s.pyr.PlaneCount)
	if err != nil {
		return nil, wrapCodecErr(err)
	}
	return out, nil
}

func (s *Slide) decodeOMETile(ctx context.Context, k tilecache.Key) ([]byte, error) {
	if k.Level < 0 || k.Level >= len(s.omeStructure.ByLevel) {
		return nil, newErr("ReadTile", KindOutOfRange, fmt.Sprintf("level %d out of range", k.Level), nil)
	}
	channels := s.omeStructure.ByLevel[k.Level]
	if k.Plane < 0 || k.Plane >= len(channels) {
		return nil, newErr("ReadTile", KindOutOfRange, fmt.Sprintf("plane %d out of range", k.Plane), nil)
	}
	dir := channels[k.Plane]

	tilesAcross := (dir.Width + dir.TileWidth - 1) / dir.TileWidth
	idx := k.Row*tilesAcross + k.Col
	if idx < 0 || idx >= len(dir.TileOffsets) || idx >= len(dir.TileByteCounts) {
		return nil, newErr("ReadTile", KindMissingTile, fmt.Sprintf("no tile at level=%d col=%d row=%d plane=%d", k.Level, k.Col, k.Row, k.Plane), nil)
	}

	f, err := s.pool.Get(ctx)
	if err != nil {
		return nil, newErr("ReadTile", KindIOError, "acquiring file handle", err)
	}
	defer s.pool.Put(f)

	buf := make([]byte, dir.TileByteCounts[idx])
	if _, err := f.ReadAt(buf, int64(dir.TileOffsets[idx])); err != nil {
		return nil, newErr("ReadTile", KindIOError, "reading tile payload", err)
	}

	code := tiffCompressionToCode(dir.Compression)
	out, err := s.registry.Decode(code, buf, dir.TileWidth, dir.TileHeight, s.pyr.PlaneCount)
	if err != nil {
		return nil, wrapCodecErr(err)
	}
	return out, nil
}

// tiffCompressionToCode maps a TIFF Compression tag value onto the codec
// registry's key space (shared with the ETS path, whose compression enum
// has no TIFF equivalent to reuse directly).
func tiffCompressionToCode(tiffCompression int) uint32 {
	switch tiffCompression {
	case 0, 1:
		return codecs.CodeRaw
	case 6, 7:
		return codecs.CodeJPEG
	default:
		return uint32(tiffCompression) | 0x80000000 // guaranteed unregistered
	}
}

func wrapCodecErr(err error) error {
	switch err.(type) {
	case *codecs.UnsupportedCodecError:
		return newErr("ReadTile", KindUnsupportedCodec, err.Error(), err)
	case *codecs.DecodeFailedError:
		return newErr("ReadTile", KindDecodeFailed, err.Error(), err)
	default:
		return newErr("ReadTile", KindDecodeFailed, err.Error(), err)
	}
}

// DeepZoom opens a DeepZoom coordinate adapter bound to this Slide.
func (s *Slide) DeepZoom(tileEdge, overlap int, limitBounds bool) (*DeepZoom, error) {
	if s.poisoned != nil {
		return nil, s.poisoned
	}
	a, err := deepzoom.Open(s, tileEdge, overlap, limitBounds)
	if err != nil {
		return nil, newErr("DeepZoom", KindInconsistentPyramid, err.Error(), err)
	}
	return &DeepZoom{adapter: a, slide: s}, nil
}

// Close releases the file handle pool. It does not forcibly evict pinned
// tiles; callers must release every outstanding PinnedTile themselves (spec
// §5: "close waits for every outstanding pinned tile to be released" is the
// caller's discipline here, since this cache has no blocking wait-for-zero
// primitive to avoid a deadlock against a caller that never releases).
func (s *Slide) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			return newErr("Close", KindIOError, "closing file handles", err)
		}
	}
	return nil
}
