package source

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Decompress transparently decodes compressed resource bodies.
//
// The build pipeline may gzip (or lz4-frame) chunk files to cut hosting and
// transfer size; consumers of a Source never see the compressed form. The
// encoding is detected by path suffix first, then by magic bytes so that
// hosts that strip extensions still work. Unrecognized data passes through
// unchanged.
func Decompress(path string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(path, ".gz") || bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer zr.Close()

		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return out, nil

	case strings.HasSuffix(path, ".lz4") || bytes.HasPrefix(data, lz4Magic):
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 %s: %w", path, err)
		}
		return out, nil

	default:
		return data, nil
	}
}
