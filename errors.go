package biginbox

import (
	"errors"
	"fmt"
)

var (
	// ErrManifestUnavailable is returned by Initialize when the manifest
	// cannot be fetched or is not well-formed. Fatal to initialization.
	ErrManifestUnavailable = errors.New("manifest unavailable")

	// ErrNotInitialized is returned by operations that require a manifest
	// before Initialize has succeeded.
	ErrNotInitialized = errors.New("loader not initialized")

	// ErrChunkLoadTimeout is returned to a caller that waited out the load
	// ceiling while another caller's fetch for the same chunk was still in
	// flight. The fetch itself keeps running and may populate the cache
	// for later callers.
	ErrChunkLoadTimeout = errors.New("chunk load timed out")
)

// ErrChunkNotInManifest indicates a chunk id outside the manifest's
// descriptor sequence.
type ErrChunkNotInManifest struct {
	ChunkID   int
	NumChunks int
}

func (e *ErrChunkNotInManifest) Error() string {
	return fmt.Sprintf("chunk %d not in manifest (collection has %d chunks)", e.ChunkID, e.NumChunks)
}

// ErrChunkFetchFailed indicates a failed network fetch or a malformed chunk
// body. Fatal to that LoadChunk call only; a later retry starts a fresh
// fetch.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrChunkFetchFailed struct {
	ChunkID int
	Path    string
	cause   error
}

func (e *ErrChunkFetchFailed) Error() string {
	return fmt.Sprintf("fetch chunk %d (%s): %v", e.ChunkID, e.Path, e.cause)
}

func (e *ErrChunkFetchFailed) Unwrap() error { return e.cause }
