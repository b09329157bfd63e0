package biginbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/morisy/big-inbox/codec"
	"github.com/morisy/big-inbox/manifest"
	"github.com/morisy/big-inbox/source"
	"github.com/morisy/big-inbox/store"
)

// countingSource wraps a Source and counts fetches per path. An armed block
// channel stalls every Fetch until it is closed.
type countingSource struct {
	inner source.Source

	mu      sync.Mutex
	block   chan struct{}
	fetches map[string]int
}

func newCountingSource(inner source.Source) *countingSource {
	return &countingSource{inner: inner, fetches: make(map[string]int)}
}

func (s *countingSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	s.fetches[path]++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	return s.inner.Fetch(ctx, path)
}

func (s *countingSource) setBlock(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = ch
}

func (s *countingSource) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[path]
}

func (s *countingSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.fetches {
		n += c
	}
	return n
}

func (s *countingSource) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = make(map[string]int)
}

func chunkPath(chunkID int) string {
	return fmt.Sprintf("chunks/chunk_%d.json", chunkID)
}

// newFixtureSource builds an in-memory collection with numChunks chunks,
// each holding items "doc_<chunk>_<n>" for n in [0, itemsPerChunk).
func newFixtureSource(t *testing.T, numChunks, itemsPerChunk int) *countingSource {
	t.Helper()

	src := source.NewMemorySource()

	man := manifest.Manifest{TotalItems: numChunks * itemsPerChunk}
	for i := 0; i < numChunks; i++ {
		man.Chunks = append(man.Chunks, manifest.ChunkDescriptor{
			ChunkID:   i,
			Path:      chunkPath(i),
			ItemCount: itemsPerChunk,
		})

		chunk := make(map[string]json.RawMessage, itemsPerChunk)
		for n := 0; n < itemsPerChunk; n++ {
			id := fmt.Sprintf("doc_%d_%d", i, n)
			chunk[id] = json.RawMessage(fmt.Sprintf(`{"subject":"item %s"}`, id))
		}
		src.Put(chunkPath(i), codec.MustMarshal(nil, chunk))
	}
	src.Put(manifest.FileName, codec.MustMarshal(nil, man))

	return newCountingSource(src)
}

// noPrefetch disables opportunistic warming so fetch counts stay exact.
func noPrefetch() Option {
	return WithPrefetchLimiter(rate.NewLimiter(0, 0))
}

func newTestLoader(t *testing.T, src source.Source, opts ...Option) *Loader {
	t.Helper()

	opts = append([]Option{WithLogger(NoopLogger())}, opts...)
	l := New("testcol", src, opts...)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadsManifest", func(t *testing.T) {
		src := newFixtureSource(t, 3, 4)
		l := newTestLoader(t, src, noPrefetch())

		require.NoError(t, l.Initialize(ctx))

		man := l.Manifest()
		require.NotNil(t, man)
		assert.Equal(t, 12, man.TotalItems)
		assert.Equal(t, 3, man.NumChunks())
	})

	t.Run("PrefetchesChunkZero", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src)

		require.NoError(t, l.Initialize(ctx))
		l.prefetchWG.Wait()

		assert.Equal(t, 1, src.count(chunkPath(0)))
		assert.True(t, l.mem.HasChunk(0))
	})

	t.Run("ManifestMissing", func(t *testing.T) {
		l := newTestLoader(t, newCountingSource(source.NewMemorySource()))

		err := l.Initialize(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifestUnavailable))
	})

	t.Run("ManifestMalformed", func(t *testing.T) {
		src := source.NewMemorySource()
		src.Put(manifest.FileName, []byte(`{"chunks": [`))
		l := newTestLoader(t, src)

		err := l.Initialize(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifestUnavailable))
	})

	t.Run("ReinitializeReplaces", func(t *testing.T) {
		mem := source.NewMemorySource()
		mem.Put(manifest.FileName, []byte(`{"total_emails": 5, "chunks": [{"chunk_id":0,"path":"c0.json"}]}`))
		l := newTestLoader(t, mem, noPrefetch())

		require.NoError(t, l.Initialize(ctx))
		require.Equal(t, 5, l.Manifest().TotalItems)

		mem.Put(manifest.FileName, []byte(`{"total_emails": 9, "chunks": [{"chunk_id":0,"path":"c0.json"}]}`))
		require.NoError(t, l.Initialize(ctx))
		assert.Equal(t, 9, l.Manifest().TotalItems)
	})

	t.Run("RecordsBookkeeping", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		tier := newMetaTier()
		l := newTestLoader(t, src, noPrefetch(), WithPersistentTier(tier))

		require.NoError(t, l.Initialize(ctx))

		value, ok, err := tier.GetMeta(ctx, "collection_testcol")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Contains(t, string(value), `"chunks":2`)
	})
}

func TestLoadChunk(t *testing.T) {
	ctx := context.Background()

	t.Run("NotInitialized", func(t *testing.T) {
		src := newFixtureSource(t, 1, 1)
		l := newTestLoader(t, src, noPrefetch())

		_, err := l.LoadChunk(ctx, 0)
		assert.True(t, errors.Is(err, ErrNotInitialized))
	})

	t.Run("NotInManifest", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		_, err := l.LoadChunk(ctx, 5)
		var notIn *ErrChunkNotInManifest
		require.True(t, errors.As(err, &notIn))
		assert.Equal(t, 5, notIn.ChunkID)
		assert.Equal(t, 2, notIn.NumChunks)

		_, err = l.LoadChunk(ctx, -1)
		assert.True(t, errors.As(err, &notIn))
	})

	t.Run("LoadsAndExplodesItems", func(t *testing.T) {
		src := newFixtureSource(t, 2, 3)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		chunk, err := l.LoadChunk(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, chunk, 3)

		content, ok := l.mem.GetItem("doc_1_0")
		require.True(t, ok)
		assert.Contains(t, string(content), "doc_1_0")
	})

	t.Run("IdempotentNoRefetch", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		_, err := l.LoadChunk(ctx, 1)
		require.NoError(t, err)
		_, err = l.LoadChunk(ctx, 1)
		require.NoError(t, err)

		assert.Equal(t, 1, src.count(chunkPath(1)))
	})

	t.Run("ConcurrentCallsCoalesce", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		src.reset()
		release := make(chan struct{})
		src.setBlock(release)

		const callers = 16
		results := make([]Chunk, callers)
		errs := make([]error, callers)

		var started, done sync.WaitGroup
		started.Add(callers)
		done.Add(callers)
		for i := 0; i < callers; i++ {
			go func(i int) {
				defer done.Done()
				started.Done()
				results[i], errs[i] = l.LoadChunk(ctx, 1)
			}(i)
		}

		started.Wait()
		time.Sleep(20 * time.Millisecond) // let callers reach the wait
		close(release)
		done.Wait()

		assert.Equal(t, 1, src.count(chunkPath(1)))
		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Len(t, results[i], 2)
		}
	})

	t.Run("FetchFailureClearsMarker", func(t *testing.T) {
		mem := source.NewMemorySource()
		mem.Put(manifest.FileName, []byte(`{"total_emails": 2, "chunks": [{"chunk_id":0,"path":"c0.json"}]}`))
		src := newCountingSource(mem)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		// c0.json is absent: the fetch 404s.
		_, err := l.LoadChunk(ctx, 0)
		var fetchErr *ErrChunkFetchFailed
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, 0, fetchErr.ChunkID)
		assert.True(t, errors.Is(err, source.ErrNotFound))

		// Publish the chunk; a retry must start a fresh fetch, not hit a
		// stale in-flight marker.
		mem.Put("c0.json", []byte(`{"doc_5":{"subject":"found"}}`))
		chunk, err := l.LoadChunk(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, chunk, 1)
		assert.Equal(t, 2, src.count("c0.json"))
	})

	t.Run("MalformedBody", func(t *testing.T) {
		mem := source.NewMemorySource()
		mem.Put(manifest.FileName, []byte(`{"total_emails": 1, "chunks": [{"chunk_id":0,"path":"c0.json"}]}`))
		mem.Put("c0.json", []byte(`[1,2,3]`))
		l := newTestLoader(t, mem, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		_, err := l.LoadChunk(ctx, 0)
		var fetchErr *ErrChunkFetchFailed
		assert.True(t, errors.As(err, &fetchErr))
	})

	t.Run("WaiterTimesOutFetchContinues", func(t *testing.T) {
		src := newFixtureSource(t, 1, 1)
		l := newTestLoader(t, src, noPrefetch(), WithLoadTimeout(30*time.Millisecond))
		require.NoError(t, l.Initialize(ctx))

		release := make(chan struct{})
		src.setBlock(release)
		_, err := l.LoadChunk(ctx, 0)
		assert.True(t, errors.Is(err, ErrChunkLoadTimeout))

		// Release the fetch: it completes and populates the cache for
		// later callers.
		close(release)
		require.Eventually(t, func() bool { return l.mem.HasChunk(0) }, time.Second, 5*time.Millisecond)

		src.setBlock(nil)
		chunk, err := l.LoadChunk(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, chunk, 1)
	})
}

func TestGetItem(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownWithoutHint", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		content, ok, err := l.GetItem(ctx, "doc_1_0", NoHint)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, content)
		assert.Equal(t, 0, src.count(chunkPath(1)))
	})

	t.Run("HintedLoad", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		content, ok, err := l.GetItem(ctx, "doc_1_1", 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Contains(t, string(content), "doc_1_1")
	})

	t.Run("MemoryHitAfterLoad", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		_, _, err := l.GetItem(ctx, "doc_0_0", 0)
		require.NoError(t, err)

		// Discovery now works without a hint, and without a fetch.
		src.reset()
		content, ok, err := l.GetItem(ctx, "doc_0_1", NoHint)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotNil(t, content)
		assert.Equal(t, 0, src.total())
	})

	t.Run("StaleHintSoftMiss", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		metrics := &BasicMetricsCollector{}
		l := newTestLoader(t, src, noPrefetch(), WithMetricsCollector(metrics))
		require.NoError(t, l.Initialize(ctx))

		content, ok, err := l.GetItem(ctx, "doc_1_0", 0)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, content)
		assert.Equal(t, int64(1), metrics.ItemMisses.Load())
	})

	t.Run("BadHintPropagates", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		_, _, err := l.GetItem(ctx, "doc_0_0", 9)
		var notIn *ErrChunkNotInManifest
		assert.True(t, errors.As(err, &notIn))
	})
}

// TestScenario reproduces the canonical two-chunk collection walkthrough.
func TestScenario(t *testing.T) {
	ctx := context.Background()

	mem := source.NewMemorySource()
	mem.Put(manifest.FileName, []byte(`{
		"total_emails": 1200,
		"chunks": [
			{"chunk_id": 0, "path": "c0.json"},
			{"chunk_id": 1, "path": "c1.json"}
		]
	}`))
	mem.Put("c0.json", []byte(`{"doc_5": {"subject": "hello", "body": "world"}}`))
	mem.Put("c1.json", []byte(`{"doc_900": {"subject": "later"}}`))

	l := newTestLoader(t, mem, noPrefetch())
	require.NoError(t, l.Initialize(ctx))

	content, ok, err := l.GetItem(ctx, "doc_5", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"subject": "hello", "body": "world"}`, string(content))

	stats := l.Stats()
	assert.Equal(t, 1, stats.ChunksLoaded)
	assert.Equal(t, 1, stats.ItemsCached)
	assert.Equal(t, 2, stats.MemoryEntries)
	assert.Equal(t, 2, stats.TotalChunks)
}

func TestTieredComposition(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteThroughAndReload", func(t *testing.T) {
		src := newFixtureSource(t, 2, 2)
		tier := store.NewMemoryTier(0)
		l := newTestLoader(t, src, noPrefetch(), WithPersistentTier(tier))
		require.NoError(t, l.Initialize(ctx))

		_, err := l.LoadChunk(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 1, src.count(chunkPath(1)))
		assert.Equal(t, 1, tier.Stats().ChunksStored)

		// After a navigation-style memory wipe the persistent tier
		// serves the chunk; no second fetch.
		l.ClearMemoryCache()
		chunk, err := l.LoadChunk(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, chunk, 2)
		assert.Equal(t, 1, src.count(chunkPath(1)))
	})

	t.Run("UndecodableRecordFallsBack", func(t *testing.T) {
		src := newFixtureSource(t, 1, 2)
		tier := store.NewMemoryTier(0)
		require.NoError(t, tier.Put(ctx, "testcol", 0, []byte("not json")))

		l := newTestLoader(t, src, noPrefetch(), WithPersistentTier(tier))
		require.NoError(t, l.Initialize(ctx))

		chunk, err := l.LoadChunk(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, chunk, 2)
		assert.Equal(t, 1, src.count(chunkPath(0)))
	})

	t.Run("WriteFailureNeverFailsRead", func(t *testing.T) {
		src := newFixtureSource(t, 1, 2)
		l := newTestLoader(t, src, noPrefetch(), WithPersistentTier(brokenTier{}))
		require.NoError(t, l.Initialize(ctx))

		chunk, err := l.LoadChunk(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, chunk, 2)
	})

	t.Run("MemoryOnlyStats", func(t *testing.T) {
		src := newFixtureSource(t, 1, 1)
		l := newTestLoader(t, src, noPrefetch())
		require.NoError(t, l.Initialize(ctx))

		stats := l.Stats()
		assert.Nil(t, stats.Store)
	})
}

func TestClearMemoryCache(t *testing.T) {
	ctx := context.Background()

	src := newFixtureSource(t, 2, 2)
	tier := store.NewMemoryTier(0)
	l := newTestLoader(t, src, noPrefetch(), WithPersistentTier(tier))
	require.NoError(t, l.Initialize(ctx))

	_, err := l.LoadChunk(ctx, 0)
	require.NoError(t, err)

	l.ClearMemoryCache()

	stats := l.Stats()
	assert.Equal(t, 0, stats.MemoryEntries)
	// The persistent tier is untouched.
	assert.Equal(t, 1, tier.Stats().ChunksStored)
}

// brokenTier fails every operation; the loader must absorb all of it.
type brokenTier struct{}

func (brokenTier) Get(context.Context, string, int) ([]byte, bool, error) {
	return nil, false, store.ErrReadFailed
}
func (brokenTier) Put(context.Context, string, int, []byte) error { return store.ErrWriteFailed }
func (brokenTier) Delete(context.Context, string, int) error      { return store.ErrWriteFailed }
func (brokenTier) SweepExpired(context.Context) (int, error)      { return 0, store.ErrWriteFailed }
func (brokenTier) Stats() store.Stats                             { return store.Stats{} }
func (brokenTier) Close() error                                   { return nil }

// metaTier is a MemoryTier that also records metadata, mirroring the sqlite
// store's two record spaces.
type metaTier struct {
	*store.MemoryTier
	mu   sync.Mutex
	meta map[string][]byte
}

func newMetaTier() *metaTier {
	return &metaTier{MemoryTier: store.NewMemoryTier(0), meta: make(map[string][]byte)}
}

func (t *metaTier) PutMeta(_ context.Context, id string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta[id] = value
	return nil
}

func (t *metaTier) GetMeta(_ context.Context, id string) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.meta[id]
	return v, ok, nil
}
