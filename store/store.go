// Package store defines the persistent cache tier used by the chunk loader.
//
// A Tier is a durable, cross-session key→value store for chunk payloads with
// per-record timestamps and TTL eviction. The loader treats every tier
// failure as a cache miss: a broken or missing tier degrades the system to
// memory-only operation, it never fails a read.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default retention parameters. SweepExpired removes records older than the
// TTL; reads additionally delete expired records lazily, so retention is
// bounded even when the sweeper never runs between reads.
const (
	DefaultTTL           = 7 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

var (
	// ErrUnavailable is returned when the underlying store cannot be
	// opened (quota exhaustion, permissions, corrupt file). Non-fatal to
	// the system: callers degrade to memory-only operation.
	ErrUnavailable = errors.New("persistent store unavailable")

	// ErrWriteFailed wraps I/O errors on Put/Delete. Best-effort callers
	// log and continue.
	ErrWriteFailed = errors.New("persistent store write failed")

	// ErrReadFailed wraps I/O errors on Get. Callers treat it as a miss.
	ErrReadFailed = errors.New("persistent store read failed")
)

// Tier is one durable layer of the cache hierarchy.
// Implementations must be safe for concurrent use.
type Tier interface {
	// Get returns the stored chunk payload, or ok=false on miss.
	// Records older than the TTL are deleted and reported as misses.
	Get(ctx context.Context, collectionID string, chunkID int) (data []byte, ok bool, err error)

	// Put upserts the chunk payload and stamps the current time.
	Put(ctx context.Context, collectionID string, chunkID int, data []byte) error

	// Delete removes a single record. Deleting an absent record is not an
	// error.
	Delete(ctx context.Context, collectionID string, chunkID int) error

	// SweepExpired removes every record older than the TTL and returns
	// how many were removed.
	SweepExpired(ctx context.Context) (int, error)

	// Stats returns current tier statistics.
	Stats() Stats

	// Close releases underlying resources.
	Close() error
}

// MetadataStore is an optional interface for tiers that also provide the
// metadata record space, reserved for cross-session bookkeeping.
type MetadataStore interface {
	PutMeta(ctx context.Context, id string, value []byte) error
	GetMeta(ctx context.Context, id string) (value []byte, ok bool, err error)
}

// Stats describes the state of a tier.
type Stats struct {
	ChunksStored int
	ExpiryDays   int
}

// RecordKey builds the primary key of a chunk record. The format is part of
// the on-disk schema contract and must stay stable across versions.
func RecordKey(collectionID string, chunkID int) string {
	return fmt.Sprintf("%s_chunk_%d", collectionID, chunkID)
}
