package media

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
)

// S3Storage signs read URLs for submitted media kept in one bucket.
type S3Storage struct {
	client *minio.Client
	bucket string

	ensureOnce sync.Once
	ensureErr  error
}

func NewS3Storage(client *minio.Client, bucket string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: strings.TrimSpace(bucket),
	}
}

// EnsureBucket creates the media bucket on first use. The result is
// remembered for the life of the process.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if s.client == nil || s.bucket == "" {
		return fmt.Errorf("s3 storage is not configured")
	}

	s.ensureOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil || exists {
			s.ensureErr = err
			return
		}
		s.ensureErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	})
	if s.ensureErr != nil {
		return fmt.Errorf("ensure media bucket %q: %w", s.bucket, s.ensureErr)
	}
	return nil
}

func (s *S3Storage) PresignGet(ctx context.Context, key string, opts PresignOptions) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("s3 storage is not configured")
	}
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultPresignTTL
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, opts.TTL, presignParams(opts))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", s.bucket, key, err)
	}
	return presigned.String(), nil
}

// presignParams asks the store to serve documents under their original name.
func presignParams(opts PresignOptions) url.Values {
	params := url.Values{}
	if name := strings.TrimSpace(opts.FileName); name != "" {
		params.Set("response-content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	return params
}
