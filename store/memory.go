package store

import (
	"context"
	"sync"
	"time"
)

// MemoryTier is an in-memory Tier implementation. It honors the same TTL
// contract as the durable tiers and is primarily useful in tests and as a
// process-lifetime stand-in when no durable store is wanted.
type MemoryTier struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	data      []byte
	timestamp time.Time
}

// NewMemoryTier creates a MemoryTier. If ttl <= 0, DefaultTTL is used.
func NewMemoryTier(ttl time.Duration) *MemoryTier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTier{
		ttl:     ttl,
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (t *MemoryTier) SetClock(now func() time.Time) { t.now = now }

func (t *MemoryTier) Get(_ context.Context, collectionID string, chunkID int) ([]byte, bool, error) {
	key := RecordKey(collectionID, chunkID)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		return nil, false, nil
	}
	if t.now().Sub(rec.timestamp) > t.ttl {
		delete(t.records, key)
		return nil, false, nil
	}
	return rec.data, true, nil
}

func (t *MemoryTier) Put(_ context.Context, collectionID string, chunkID int, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[RecordKey(collectionID, chunkID)] = memoryRecord{data: copied, timestamp: t.now()}
	return nil
}

func (t *MemoryTier) Delete(_ context.Context, collectionID string, chunkID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, RecordKey(collectionID, chunkID))
	return nil
}

func (t *MemoryTier) SweepExpired(_ context.Context) (int, error) {
	cutoff := t.now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, rec := range t.records {
		if rec.timestamp.Before(cutoff) {
			delete(t.records, key)
			removed++
		}
	}
	return removed, nil
}

func (t *MemoryTier) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		ChunksStored: len(t.records),
		ExpiryDays:   int(t.ttl / (24 * time.Hour)),
	}
}

func (t *MemoryTier) Close() error { return nil }

var _ Tier = (*MemoryTier)(nil)
