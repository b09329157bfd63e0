// Package manifest describes how a published collection is partitioned into
// fetchable content chunks.
//
// The manifest is a single JSON document produced by the archive build
// pipeline and placed at a stable path next to the chunk files. It is
// immutable once fetched; the index into Chunks is the canonical chunk id.
package manifest

import (
	"fmt"

	"github.com/morisy/big-inbox/codec"
)

// FileName is the conventional path of the manifest relative to the
// collection root.
const FileName = "chunks/manifest.json"

// Manifest is the static descriptor of a chunked collection.
type Manifest struct {
	// TotalItems is the number of items across all chunks. The JSON field
	// name is inherited from the archive build pipeline.
	TotalItems int `json:"total_emails"`

	// Chunks is ordered; the slice index is the canonical chunk id
	// (0-based, contiguous).
	Chunks []ChunkDescriptor `json:"chunks"`
}

// ChunkDescriptor locates one chunk resource.
type ChunkDescriptor struct {
	ChunkID int `json:"chunk_id"`

	// Path is relative to the collection root. It may denote a compressed
	// resource (e.g. ".json.gz"); decompression is the transport's concern.
	Path string `json:"path"`

	ItemCount int `json:"item_count,omitempty"`
}

// Parse decodes and validates a manifest payload.
func Parse(c codec.Codec, data []byte) (*Manifest, error) {
	if c == nil {
		c = codec.Default
	}

	var m Manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks structural invariants: chunk ids contiguous from 0 and
// every descriptor carrying a path.
func (m *Manifest) Validate() error {
	for i, d := range m.Chunks {
		if d.ChunkID != i {
			return fmt.Errorf("manifest chunk at index %d has id %d (ids must be 0-based and contiguous)", i, d.ChunkID)
		}
		if d.Path == "" {
			return fmt.Errorf("manifest chunk %d has no path", i)
		}
	}
	if m.TotalItems < 0 {
		return fmt.Errorf("manifest total item count is negative: %d", m.TotalItems)
	}
	return nil
}

// Contains reports whether chunkID is within the descriptor sequence.
func (m *Manifest) Contains(chunkID int) bool {
	return chunkID >= 0 && chunkID < len(m.Chunks)
}

// NumChunks returns the number of chunks in the collection.
func (m *Manifest) NumChunks() int { return len(m.Chunks) }
