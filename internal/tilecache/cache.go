// Package tilecache implements the content-addressed RGBA tile cache
// described in spec §4.4: an approximate-LRU cache keyed by
// (level, col, row, plane), reference-counted entries that cannot be
// evicted while pinned, and single-flight de-duplication of concurrent
// decodes for the same key.
//
// The LRU itself is github.com/hashicorp/golang-lru/v2, grounded on
// Echoflaresat-spacecam's texture/tiff/tiled.go (which wraps the v1
// sibling package around decoded TIFF tiles). "A pinned entry is never
// evicted" is enforced by insertEntry's own eviction walk, which skips
// pinned entries before calling Remove; golang-lru's eviction callback only
// keeps the byte accounting in sync. The walk follows the eviction-on-insert
// shape of the teacher's own hand-rolled MemoryCache
// (internal/cache/memory_cache.go, see DESIGN.md).
package tilecache

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Key addresses one decoded tile; spec §3 also folds the slide identity
// into the key, which here is the discriminator supplied by the owning
// Slide (each Slide gets its own Cache instance, so no slide-id field is
// needed and the Cache holds no back-reference to its Slide, per spec §9).
type Key struct {
	Level, Col, Row, Plane int
}

// Entry owns a decoded RGBA tile buffer plus a pin (reference) count.
type Entry struct {
	Data []byte

	refcount atomic.Int32
}

// Pinned returns true while the entry has at least one outstanding handle.
func (e *Entry) Pinned() bool {
	return e.refcount.Load() > 0
}

// PinnedTile is the caller-facing handle returned by Cache.GetOrDecode: it
// must be Released exactly once on every exit path (spec §4.4 "Release").
type PinnedTile struct {
	Data    []byte
	release func()
	once    sync.Once
}

// Release drops this handle's pin. Calling it more than once is a no-op
// here (spec documents double-release as undefined; this implementation
// chooses the safe no-op over corrupting the refcount, since a defensive
// sync.Once costs nothing and callers following the "release on every exit
// path" contract will only ever call it once anyway).
func (p *PinnedTile) Release() {
	p.once.Do(p.release)
}

// Decoder produces a tile's bytes on a cache miss. Cache does not know how
// to decode; it calls back into whatever decode path (ETS codec registry
// or OME-TIFF codec) the owning Slide wired in.
type Decoder func(key Key) ([]byte, error)

// Cache is the shared, concurrency-safe tile store for one Slide.
type Cache struct {
	mu         sync.Mutex
	lru        *lru.Cache[Key, *Entry]
	maxEntries int
	budget     int64
	used       int64

	sf  singleflight.Group
	log *zap.Logger
}

// New builds a Cache bounded by maxEntries (LRU slot count) and
// budgetBytes (soft byte budget; see insertEntry for the "admit anyway" rule
// spec §4.4 step 4d describes). maxEntries <= 0 disables the entry-count
// bound (only the byte budget applies).
func New(maxEntries int, budgetBytes int64, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{maxEntries: maxEntries, budget: budgetBytes, log: log}

	// golang-lru's own capacity is left effectively unbounded: its
	// built-in capacity eviction fires its onEvict callback synchronously
	// from inside Add/Remove while still holding the Cache's own lock, so
	// a callback that tried to re-Add a pinned victim (as "never evict a
	// pinned entry" naively suggests) would re-enter that same lock and
	// deadlock. Entry-count and byte-budget eviction are instead both
	// driven explicitly from insertEntry below, which checks Pinned() *before*
	// ever calling Remove, so onEvict only ever fires on an entry this
	// Cache has already confirmed is safe to drop.
	l, err := lru.NewWithEvict[Key, *Entry](math.MaxInt32, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// onEvict is golang-lru's eviction callback. insertEntry never calls Remove on
// a pinned entry, so by the time this fires the entry is already known
// evictable; this only needs to keep the byte-budget accounting in sync.
func (c *Cache) onEvict(key Key, entry *Entry) {
	c.used -= int64(len(entry.Data))
}

// GetOrDecode implements spec §4.4's read_tile: cache hit returns a pinned
// handle immediately; a miss enters single-flight for the key so that
// concurrent requesters for the same tile observe one decode's result
// (spec §4.4 "Single-flight", §8 scenario E4). Every caller — the one that
// actually ran the decode and every one that joined the same flight — pins
// its own independent handle once the flight resolves, so N concurrent
// callers hold N pins and each Release decrements exactly one of them
// (spec invariant 4): the flight only shares the decoded *Entry, never a
// single PinnedTile.
func (c *Cache) GetOrDecode(key Key, decode Decoder) (*PinnedTile, error) {
	if pt := c.tryPin(key); pt != nil {
		return pt, nil
	}

	v, err, _ := c.sf.Do(key.sfKey(), func() (any, error) {
		// Re-check: another goroutine may have inserted the entry between
		// our failed tryPin and entering the flight group.
		if entry := c.peekEntry(key); entry != nil {
			return entry, nil
		}

		data, err := decode(key)
		if err != nil {
			return nil, err
		}

		return c.insertEntry(key, data), nil
	})
	if err != nil {
		return nil, err
	}
	return c.pinEntry(key, v.(*Entry)), nil
}

func (c *Cache) tryPin(key Key) *PinnedTile {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil
	}
	return c.pinLocked(key, entry)
}

func (c *Cache) peekEntry(key Key) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil
	}
	return entry
}

func (c *Cache) pinEntry(key Key, entry *Entry) *PinnedTile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinLocked(key, entry)
}

func (c *Cache) pinLocked(key Key, entry *Entry) *PinnedTile {
	entry.refcount.Add(1)
	return &PinnedTile{
		Data:    entry.Data,
		release: func() { entry.refcount.Add(-1) },
	}
}

// insertEntry stores a freshly decoded tile, unpinned, and runs the
// eviction walk in the same locked section: evicting approximately-LRU
// unpinned entries until both the entry-count and byte-budget limits are
// respected, admitting anyway if every remaining entry is pinned (spec
// §4.4 step 4d, "soft budget"). The entry this call just inserted is
// excluded from the walk by key regardless of its (still zero) pin count,
// since GetOrDecode's callers have not yet had a chance to pin it.
func (c *Cache) insertEntry(key Key, data []byte) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{Data: data}
	c.lru.Add(key, entry)
	c.used += int64(len(data))

	overBudget := func() bool {
		if c.used > c.budget {
			return true
		}
		return c.maxEntries > 0 && c.lru.Len() > c.maxEntries
	}

	// Walk oldest-to-newest (golang-lru's Keys() reports that order) so a
	// pinned entry near the front doesn't block evicting an unpinned one
	// further back; skip pinned entries rather than stopping at the first.
	for overBudget() {
		progressed := false
		for _, k := range c.lru.Keys() {
			if !overBudget() {
				break
			}
			if k == key {
				continue
			}
			v, ok := c.lru.Peek(k)
			if !ok || v.Pinned() {
				continue
			}
			c.lru.Remove(k)
			progressed = true
		}
		if !progressed {
			// Every remaining entry is pinned; nothing more can be
			// evicted, so admit over budget.
			break
		}
	}
	return entry
}

// Len reports the number of entries currently tracked (pinned or not),
// for tests asserting on invariant 4 in spec §8.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (k Key) sfKey() string {
	return fmt.Sprintf("%d|%d|%d|%d", k.Level, k.Col, k.Row, k.Plane)
}
