// Package source abstracts where published collection resources (the
// manifest and the chunk files) are fetched from.
//
// The publishing pipeline places the files on a static host; HTTPSource is
// the common case. The s3 subpackage reads the same layout straight from an
// object-storage bucket, and MemorySource serves fixtures in tests.
package source

import (
	"context"
	"os"
)

// ErrNotFound is returned when a resource does not exist at the source.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Source fetches immutable resources by path relative to the collection
// root. Implementations must be safe for concurrent use.
type Source interface {
	// Fetch retrieves the full resource body. Compressed resources are
	// returned decompressed; see Decompress.
	Fetch(ctx context.Context, path string) ([]byte, error)
}
