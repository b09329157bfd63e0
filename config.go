package biginbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/morisy/big-inbox/source"
	"github.com/morisy/big-inbox/store"
	"github.com/morisy/big-inbox/store/sqlite"
)

// Config carries loader settings sourced from the environment.
type Config struct {
	// BaseURL is the root of the published collection (static host).
	BaseURL string `env:"BIGINBOX_BASE_URL"`

	// CollectionID namespaces persistent cache records.
	CollectionID string `env:"BIGINBOX_COLLECTION_ID"`

	// ManifestPath is relative to BaseURL.
	ManifestPath string `env:"BIGINBOX_MANIFEST_PATH" envDefault:"chunks/manifest.json"`

	// CachePath is the SQLite file of the persistent tier. Empty disables
	// the tier (memory-only).
	CachePath string `env:"BIGINBOX_CACHE_PATH"`

	CacheTTL       time.Duration `env:"BIGINBOX_CACHE_TTL" envDefault:"168h"`
	LoadTimeout    time.Duration `env:"BIGINBOX_LOAD_TIMEOUT" envDefault:"30s"`
	PrefetchRadius int           `env:"BIGINBOX_PREFETCH_RADIUS" envDefault:"1"`
	MemoryChunks   int           `env:"BIGINBOX_MEMORY_CHUNKS" envDefault:"0"`
}

// ParseEnv loads Config from environment variables.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// NewLoader builds a Loader from the config. A persistent tier that fails to
// open is logged and skipped: the loader degrades to memory-only operation
// rather than failing construction.
func (c Config) NewLoader(logger *Logger, opts ...Option) (*Loader, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("BIGINBOX_BASE_URL is required")
	}
	if c.CollectionID == "" {
		return nil, fmt.Errorf("BIGINBOX_COLLECTION_ID is required")
	}
	if logger == nil {
		logger = NewLogger(nil)
	}

	all := []Option{
		WithLogger(logger),
		WithManifestPath(c.ManifestPath),
		WithLoadTimeout(c.LoadTimeout),
		WithPrefetchRadius(c.PrefetchRadius),
		WithMemoryChunkCapacity(c.MemoryChunks),
	}

	if c.CachePath != "" {
		st, err := sqlite.Open(c.CachePath,
			sqlite.WithTTL(c.CacheTTL),
			sqlite.WithLogger(logger.Logger),
		)
		switch {
		case errors.Is(err, store.ErrUnavailable):
			logger.Warn("persistent cache unavailable, running memory-only", "path", c.CachePath, "error", err)
		case err != nil:
			logger.Warn("persistent cache open failed, running memory-only", "path", c.CachePath, "error", err)
		default:
			all = append(all, WithPersistentTier(st))
		}
	}

	all = append(all, opts...)
	return New(c.CollectionID, source.NewHTTPSource(c.BaseURL, nil), all...), nil
}
