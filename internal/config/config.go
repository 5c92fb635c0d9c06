package config

import (
	"os"
	"strconv"
)

// Config holds the knobs the Slide facade and cmd/olyslide-dump need: cache
// sizing, file-handle pool limits, log level and default DeepZoom params.
type Config struct {
	LogLevel string

	// CacheMaxEntries bounds the tile LRU by entry count.
	CacheMaxEntries int
	// CacheBudgetBytes is the soft byte budget honored by the tile cache;
	// see internal/tilecache for the "admit anyway" overflow behavior.
	CacheBudgetBytes int64

	// MaxFileHandles bounds the per-container read-handle pool.
	MaxFileHandles int

	// WarmupWorkers is the worker count cmd/olyslide-dump's -warm-levels
	// pass uses when -warm-workers is 0. WarmupLevels is loaded but read by
	// neither the CLI (its -warm-levels flag defaults to 0) nor the library.
	WarmupLevels  int
	WarmupWorkers int

	// DeepZoomTileEdge / DeepZoomOverlap are the DeepZoom adapter parameters
	// cmd/olyslide-dump uses for -dz-level; it has no flags for them.
	DeepZoomTileEdge int
	DeepZoomOverlap  int
}

// Load reads OLYSLIDE_* environment variables, falling back to the defaults
// spec.md calls "typical" (tile edge 254, overlap 1).
func Load() *Config {
	return &Config{
		LogLevel:         getEnv("OLYSLIDE_LOG_LEVEL", "info"),
		CacheMaxEntries:  getEnvInt("OLYSLIDE_CACHE_MAX_ENTRIES", 512),
		CacheBudgetBytes: getEnvInt64("OLYSLIDE_CACHE_BUDGET_BYTES", 512*1024*1024),
		MaxFileHandles:   getEnvInt("OLYSLIDE_MAX_FILE_HANDLES", 8),
		WarmupLevels:     getEnvInt("OLYSLIDE_WARMUP_LEVELS", 0),
		WarmupWorkers:    getEnvInt("OLYSLIDE_WARMUP_WORKERS", 1),
		DeepZoomTileEdge: getEnvInt("OLYSLIDE_DZ_TILE_EDGE", 254),
		DeepZoomOverlap:  getEnvInt("OLYSLIDE_DZ_OVERLAP", 1),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
