package biginbox

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/morisy/big-inbox/codec"
	"github.com/morisy/big-inbox/store"
)

type options struct {
	codec          codec.Codec
	logger         *Logger
	metrics        MetricsCollector
	tier           store.Tier
	manifestPath   string
	loadTimeout    time.Duration
	prefetchRadius int
	limiter        *rate.Limiter
	memoryChunks   int
}

// Option configures Loader construction.
type Option func(*options)

// WithCodec configures the codec used for decoding manifests and chunks and
// for persistent-tier records.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger sets the structured logger. Defaults to a text logger on
// stderr.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsCollector sets the metrics sink. Defaults to
// NoopMetricsCollector.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithPersistentTier attaches a durable cache tier (e.g. sqlite.Store).
// Without one the loader runs memory-only. Tier read and write failures are
// absorbed at the tier boundary; they never surface to loader callers.
func WithPersistentTier(t store.Tier) Option {
	return func(o *options) { o.tier = t }
}

// WithManifestPath overrides the manifest location relative to the source
// root (default manifest.FileName).
func WithManifestPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.manifestPath = path
		}
	}
}

// WithLoadTimeout bounds how long a LoadChunk caller waits on another
// caller's in-flight fetch before failing with ErrChunkLoadTimeout
// (default DefaultLoadTimeout). The in-flight fetch itself is never
// cancelled by a waiter giving up.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.loadTimeout = d
		}
	}
}

// WithPrefetchRadius sets how many neighbors PrefetchAdjacent warms on each
// side by default (default DefaultPrefetchRadius).
func WithPrefetchRadius(radius int) Option {
	return func(o *options) {
		if radius > 0 {
			o.prefetchRadius = radius
		}
	}
}

// WithPrefetchLimiter rate-limits background prefetches. Prefetches that
// exceed the limit are skipped, not queued: they are opportunistic and must
// never contend with demand loads.
func WithPrefetchLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithMemoryChunkCapacity bounds the number of chunks resident in the memory
// tier; least-recently-used chunks (and their item entries) are evicted past
// the bound. 0 (the default) means unbounded, matching the behavior of small
// and medium collections where the full set fits comfortably in memory.
func WithMemoryChunkCapacity(n int) Option {
	return func(o *options) { o.memoryChunks = n }
}
