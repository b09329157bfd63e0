// Package biginbox loads bulk content of a large published document
// collection on demand, in fixed-size chunks, cached across three tiers:
// process memory, a durable local store, and the network source the
// collection was published to.
//
// The metadata index that maps item ids to chunk ids is built offline and
// queried elsewhere; callers pass the (itemID, chunkID) pairs it produces to
// GetItem. The loader guarantees at most one network fetch per chunk at any
// instant, process-wide: concurrent callers coalesce onto the in-flight
// fetch and all observe its result.
package biginbox

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/morisy/big-inbox/codec"
	"github.com/morisy/big-inbox/internal/memcache"
	"github.com/morisy/big-inbox/manifest"
	"github.com/morisy/big-inbox/source"
	"github.com/morisy/big-inbox/store"
)

// ItemContent is an opaque structured payload (body, preview, attachments).
// The loader never interprets it.
type ItemContent = json.RawMessage

// Chunk maps item ids to their content. A chunk is loaded atomically as one
// unit and never partially cached.
type Chunk map[string]ItemContent

// NoHint marks an item lookup without a chunk hint. Hintless lookups can
// only discover content in memory-resident chunks.
const NoHint = -1

const (
	// DefaultLoadTimeout is the ceiling a caller waits on another
	// caller's in-flight fetch for the same chunk.
	DefaultLoadTimeout = 30 * time.Second

	// DefaultPrefetchRadius is how many neighbors PrefetchAdjacent warms
	// on each side.
	DefaultPrefetchRadius = 1
)

// CacheStats is a snapshot of loader cache state.
type CacheStats struct {
	MemoryEntries int
	ChunksLoaded  int
	ItemsCached   int
	TotalChunks   int

	// Store is nil when the loader runs memory-only.
	Store *store.Stats
}

// Loader is the chunk orchestrator. Construct with New; safe for concurrent
// use.
type Loader struct {
	collectionID   string
	src            source.Source
	codec          codec.Codec
	logger         *Logger
	metrics        MetricsCollector
	tier           store.Tier
	manifestPath   string
	loadTimeout    time.Duration
	prefetchRadius int
	limiter        *rate.Limiter

	mem   *memcache.Cache
	group singleflight.Group

	mu  sync.RWMutex
	man *manifest.Manifest

	prefetchWG sync.WaitGroup
}

// New creates a Loader for one published collection. src locates the
// collection's manifest and chunk resources; collectionID namespaces its
// records in the persistent tier.
func New(collectionID string, src source.Source, opts ...Option) *Loader {
	o := options{
		codec:          codec.Default,
		metrics:        NoopMetricsCollector{},
		manifestPath:   manifest.FileName,
		loadTimeout:    DefaultLoadTimeout,
		prefetchRadius: DefaultPrefetchRadius,
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 4),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NewLogger(nil)
	}

	return &Loader{
		collectionID:   collectionID,
		src:            src,
		codec:          o.codec,
		logger:         o.logger.WithCollection(collectionID),
		metrics:        o.metrics,
		tier:           o.tier,
		manifestPath:   o.manifestPath,
		loadTimeout:    o.loadTimeout,
		prefetchRadius: o.prefetchRadius,
		limiter:        o.limiter,
		mem:            memcache.New(o.memoryChunks),
	}
}

// Initialize fetches and parses the collection manifest. It is idempotent:
// calling it again re-fetches and replaces the manifest without merging
// prior state. On success it opportunistically warms chunk 0, the chunk the
// UI shows first.
func (l *Loader) Initialize(ctx context.Context) error {
	body, err := l.src.Fetch(ctx, l.manifestPath)
	if err != nil {
		return &manifestError{path: l.manifestPath, cause: err}
	}

	man, err := manifest.Parse(l.codec, body)
	if err != nil {
		return &manifestError{path: l.manifestPath, cause: err}
	}

	l.mu.Lock()
	l.man = man
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "manifest loaded",
		"total_items", man.TotalItems,
		"chunks", man.NumChunks(),
	)

	l.recordBookkeeping(ctx, man)

	if man.NumChunks() > 0 {
		l.Prefetch(ctx, 0)
	}
	return nil
}

// manifestError wraps fetch/parse failures so that
// errors.Is(err, ErrManifestUnavailable) holds.
type manifestError struct {
	path  string
	cause error
}

func (e *manifestError) Error() string {
	return ErrManifestUnavailable.Error() + " (" + e.path + "): " + e.cause.Error()
}

func (e *manifestError) Unwrap() []error { return []error{ErrManifestUnavailable, e.cause} }

// recordBookkeeping writes a best-effort record of the manifest fetch to the
// metadata record space, when the tier provides one.
func (l *Loader) recordBookkeeping(ctx context.Context, man *manifest.Manifest) {
	ms, ok := l.tier.(store.MetadataStore)
	if !ok || l.tier == nil {
		return
	}

	value, err := l.codec.Marshal(struct {
		TotalItems int       `json:"total_items"`
		Chunks     int       `json:"chunks"`
		FetchedAt  time.Time `json:"fetched_at"`
	}{man.TotalItems, man.NumChunks(), time.Now()})
	if err != nil {
		return
	}
	if err := ms.PutMeta(ctx, "collection_"+l.collectionID, value); err != nil {
		l.logger.DebugContext(ctx, "bookkeeping write failed", "error", err)
	}
}

// Manifest returns the current manifest, or nil before Initialize.
func (l *Loader) Manifest() *manifest.Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.man
}

// GetItem resolves one item's content. chunkHint is the chunk id the
// external metadata index recorded for the item, or NoHint.
//
// Resolution order: memory-tier item hit; hinted chunk load plus lookup
// (an id absent after a successful load is a soft-miss, returned as
// ok=false with no error, since a stale hint is recoverable); without a
// hint, discovery over memory-resident chunks only. Content that has never
// been loaded cannot be discovered without a hint.
func (l *Loader) GetItem(ctx context.Context, itemID string, chunkHint int) (ItemContent, bool, error) {
	if content, ok := l.mem.GetItem(itemID); ok {
		l.metrics.RecordItemLookup(true)
		return content, true, nil
	}

	if chunkHint == NoHint {
		// Every resident chunk was exploded into item entries on load,
		// so the miss above already scanned everything discoverable.
		l.metrics.RecordItemLookup(false)
		l.logger.DebugContext(ctx, "item not resident and no chunk hint", "item", itemID)
		return nil, false, nil
	}

	chunk, err := l.LoadChunk(ctx, chunkHint)
	if err != nil {
		return nil, false, err
	}

	content, ok := chunk[itemID]
	l.metrics.RecordItemLookup(ok)
	if !ok {
		l.logger.LogSoftMiss(ctx, itemID, chunkHint)
		return nil, false, nil
	}
	return content, true, nil
}

// LoadChunk returns the chunk's full content, consulting tiers in priority
// order: memory, persistent store, network. Concurrent overlapping calls for
// the same chunk coalesce onto a single fetch and observe the identical
// result or identical failure; different chunk ids load independently.
func (l *Loader) LoadChunk(ctx context.Context, chunkID int) (Chunk, error) {
	desc, err := l.descriptor(chunkID)
	if err != nil {
		return nil, err
	}

	if chunk, ok := l.mem.GetChunk(chunkID); ok {
		l.metrics.RecordChunkLoad(TierMemory, 0, nil)
		return chunk, nil
	}

	start := time.Now()

	// The fill runs on a detached context: a waiter giving up must not
	// cancel the fetch other callers (and the cache) benefit from.
	fillCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(strconv.Itoa(chunkID), func() (any, error) {
		return l.fillChunk(fillCtx, chunkID, desc)
	})

	timeout := time.NewTimer(l.loadTimeout)
	defer timeout.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			l.metrics.RecordChunkLoad("", time.Since(start), res.Err)
			l.logger.LogChunkLoad(ctx, chunkID, "", time.Since(start), res.Err)
			return nil, res.Err
		}
		fill := res.Val.(chunkFill)
		l.metrics.RecordChunkLoad(fill.tier, time.Since(start), nil)
		l.logger.LogChunkLoad(ctx, chunkID, fill.tier, time.Since(start), nil)
		return fill.chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, ErrChunkLoadTimeout
	}
}

func (l *Loader) descriptor(chunkID int) (manifest.ChunkDescriptor, error) {
	l.mu.RLock()
	man := l.man
	l.mu.RUnlock()

	if man == nil {
		return manifest.ChunkDescriptor{}, ErrNotInitialized
	}
	if !man.Contains(chunkID) {
		return manifest.ChunkDescriptor{}, &ErrChunkNotInManifest{ChunkID: chunkID, NumChunks: man.NumChunks()}
	}
	return man.Chunks[chunkID], nil
}

type chunkFill struct {
	chunk Chunk
	tier  string
}

// fillChunk is the single in-flight load for a chunk: persistent tier first,
// then the network source, populating the memory tier (chunk and per-item
// entries) and writing through to the persistent tier on a network load.
// Tier read/write failures are absorbed here; only fetch failures escape.
func (l *Loader) fillChunk(ctx context.Context, chunkID int, desc manifest.ChunkDescriptor) (any, error) {
	// A caller may have raced us past its memory check.
	if chunk, ok := l.mem.GetChunk(chunkID); ok {
		return chunkFill{chunk: chunk, tier: TierMemory}, nil
	}

	if l.tier != nil {
		data, ok, err := l.tier.Get(ctx, l.collectionID, chunkID)
		if err != nil {
			l.logger.DebugContext(ctx, "persistent cache read failed", "chunk", chunkID, "error", err)
		} else if ok {
			var chunk Chunk
			if err := l.codec.Unmarshal(data, &chunk); err == nil {
				l.mem.PutChunk(chunkID, chunk)
				return chunkFill{chunk: chunk, tier: TierPersistent}, nil
			}
			// Undecodable record: drop it and fall through to the
			// network.
			_ = l.tier.Delete(ctx, l.collectionID, chunkID)
		}
	}

	body, err := l.src.Fetch(ctx, desc.Path)
	if err != nil {
		return nil, &ErrChunkFetchFailed{ChunkID: chunkID, Path: desc.Path, cause: err}
	}

	var chunk Chunk
	if err := l.codec.Unmarshal(body, &chunk); err != nil {
		return nil, &ErrChunkFetchFailed{ChunkID: chunkID, Path: desc.Path, cause: err}
	}

	l.mem.PutChunk(chunkID, chunk)

	if l.tier != nil {
		err := l.tier.Put(ctx, l.collectionID, chunkID, body)
		l.metrics.RecordStoreWrite(err)
		l.logger.LogStoreWrite(ctx, chunkID, err)
	}

	return chunkFill{chunk: chunk, tier: TierNetwork}, nil
}

// ClearMemoryCache drops all memory-tier entries. The persistent tier is
// untouched.
func (l *Loader) ClearMemoryCache() {
	l.mem.Clear()
}

// Stats returns a snapshot of cache state across tiers.
func (l *Loader) Stats() CacheStats {
	chunks, items := l.mem.Stats()

	stats := CacheStats{
		MemoryEntries: chunks + items,
		ChunksLoaded:  chunks,
		ItemsCached:   items,
	}

	if man := l.Manifest(); man != nil {
		stats.TotalChunks = man.NumChunks()
	}
	if l.tier != nil {
		st := l.tier.Stats()
		stats.Store = &st
	}
	return stats
}

// Close waits for outstanding prefetches and closes the persistent tier.
func (l *Loader) Close() error {
	l.prefetchWG.Wait()
	if l.tier != nil {
		return l.tier.Close()
	}
	return nil
}
