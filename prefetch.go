package biginbox

import (
	"context"
)

// Prefetch warms a chunk in the background. Best-effort: failures are
// swallowed and logged, never surfaced, so prefetching cannot fail the
// critical path. Chunks already resident, ids outside the manifest, and
// requests over the prefetch rate limit are skipped.
func (l *Loader) Prefetch(ctx context.Context, chunkID int) {
	if _, err := l.descriptor(chunkID); err != nil {
		l.logger.LogPrefetch(ctx, chunkID, err)
		return
	}
	if l.mem.HasChunk(chunkID) {
		return
	}
	if l.limiter != nil && !l.limiter.Allow() {
		l.logger.DebugContext(ctx, "prefetch rate limited", "chunk", chunkID)
		return
	}

	// Detached so a short-lived caller context doesn't abort the warm-up.
	bgCtx := context.WithoutCancel(ctx)

	l.prefetchWG.Add(1)
	go func() {
		defer l.prefetchWG.Done()
		_, err := l.LoadChunk(bgCtx, chunkID)
		l.metrics.RecordPrefetch(err)
		l.logger.LogPrefetch(bgCtx, chunkID, err)
	}()
}

// PrefetchAdjacent warms the neighbors of currentChunkID out to radius on
// each side, clamped to the manifest range and skipping currentChunkID
// itself. radius <= 0 uses the configured default. Fire-and-forget.
func (l *Loader) PrefetchAdjacent(ctx context.Context, currentChunkID, radius int) {
	man := l.Manifest()
	if man == nil {
		return
	}
	if radius <= 0 {
		radius = l.prefetchRadius
	}

	for offset := 1; offset <= radius; offset++ {
		for _, id := range [2]int{currentChunkID - offset, currentChunkID + offset} {
			if id == currentChunkID || !man.Contains(id) {
				continue
			}
			l.Prefetch(ctx, id)
		}
	}
}
