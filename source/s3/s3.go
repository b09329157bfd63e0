// Package s3 provides a source.Source backed by an S3 (or S3-compatible)
// bucket, for collections published to object storage instead of a static
// web host.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/morisy/big-inbox/source"
)

// Source implements source.Source for S3.
type Source struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

// NewSource creates a new S3 source.
// rootPrefix is prepended to all keys (e.g. "collections/abc123/").
func NewSource(client *s3.Client, bucket, rootPrefix string) *Source {
	return &Source{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     rootPrefix,
	}
}

func (s *Source) key(name string) string {
	return path.Join(s.prefix, name)
}

// Fetch downloads the object at name relative to the root prefix.
func (s *Source) Fetch(ctx context.Context, name string) ([]byte, error) {
	key := s.key(name)

	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, source.ErrNotFound)
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, source.ErrNotFound)
		}
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, err)
	}

	return source.Decompress(name, buf.Bytes())
}
