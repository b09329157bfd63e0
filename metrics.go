package biginbox

import (
	"sync/atomic"
	"time"
)

// Tier labels reported to the MetricsCollector.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
	TierNetwork    = "network"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordChunkLoad is called after each chunk load attempt. tier names
	// the tier that served the chunk (empty on failure), duration is the
	// total time taken, err is nil if successful.
	RecordChunkLoad(tier string, duration time.Duration, err error)

	// RecordItemLookup is called after each item lookup. hit is false for
	// soft-misses.
	RecordItemLookup(hit bool)

	// RecordPrefetch is called after each prefetch attempt.
	RecordPrefetch(err error)

	// RecordStoreWrite is called after each write-through to the
	// persistent tier.
	RecordStoreWrite(err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordChunkLoad(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordItemLookup(bool)                        {}
func (NoopMetricsCollector) RecordPrefetch(error)                         {}
func (NoopMetricsCollector) RecordStoreWrite(error)                       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ChunkLoads       atomic.Int64
	ChunkLoadErrors  atomic.Int64
	ChunkLoadNanos   atomic.Int64
	MemoryHits       atomic.Int64
	PersistentHits   atomic.Int64
	NetworkLoads     atomic.Int64
	ItemHits         atomic.Int64
	ItemMisses       atomic.Int64
	Prefetches       atomic.Int64
	PrefetchErrors   atomic.Int64
	StoreWrites      atomic.Int64
	StoreWriteErrors atomic.Int64
}

func (m *BasicMetricsCollector) RecordChunkLoad(tier string, duration time.Duration, err error) {
	m.ChunkLoads.Add(1)
	m.ChunkLoadNanos.Add(int64(duration))
	if err != nil {
		m.ChunkLoadErrors.Add(1)
		return
	}
	switch tier {
	case TierMemory:
		m.MemoryHits.Add(1)
	case TierPersistent:
		m.PersistentHits.Add(1)
	case TierNetwork:
		m.NetworkLoads.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordItemLookup(hit bool) {
	if hit {
		m.ItemHits.Add(1)
	} else {
		m.ItemMisses.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordPrefetch(err error) {
	m.Prefetches.Add(1)
	if err != nil {
		m.PrefetchErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordStoreWrite(err error) {
	m.StoreWrites.Add(1)
	if err != nil {
		m.StoreWriteErrors.Add(1)
	}
}
