package bucket

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
)

const removeBatchLimit = 1000

// MinIOStore adapts minio.Client to the ObjectStore interface.
type MinIOStore struct {
	client *minio.Client
}

// NewMinIOStore constructs an adapter.
func NewMinIOStore(client *minio.Client) *MinIOStore {
	return &MinIOStore{client: client}
}

// EnsureBucket creates the physical bucket if it does not already exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context, name, region string) error {
	exists, err := s.client.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", name, err)
	}
	return nil
}

// RemoveBucket deletes the physical bucket. The bucket must be empty.
func (s *MinIOStore) RemoveBucket(ctx context.Context, name string) error {
	if err := s.client.RemoveBucket(ctx, name); err != nil {
		return fmt.Errorf("remove bucket %q: %w", name, err)
	}
	return nil
}

// ListObjects streams the bucket contents. The stream ends early when ctx is
// cancelled; a non-nil Err on an item terminates the stream.
func (s *MinIOStore) ListObjects(ctx context.Context, name, prefix string, recursive bool) <-chan ObjectInfo {
	out := make(chan ObjectInfo)

	go func() {
		defer close(out)
		for obj := range s.client.ListObjects(ctx, name, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
			info := ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         obj.ETag,
				LastModified: obj.LastModified,
				Err:          obj.Err,
			}
			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
			if info.Err != nil {
				return
			}
		}
	}()

	return out
}

// RemoveObjects deletes up to removeBatchLimit keys from the bucket.
func (s *MinIOStore) RemoveObjects(ctx context.Context, name string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > removeBatchLimit {
		return fmt.Errorf("remove objects: batch of %d exceeds limit %d", len(keys), removeBatchLimit)
	}

	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	for rmErr := range s.client.RemoveObjects(ctx, name, objectsCh, minio.RemoveObjectsOptions{}) {
		if rmErr.Err != nil {
			return fmt.Errorf("remove object %q: %w", rmErr.ObjectName, rmErr.Err)
		}
	}
	return nil
}

// SetBucketPolicy applies or clears the public-read policy.
func (s *MinIOStore) SetBucketPolicy(ctx context.Context, name string, public bool) error {
	policy := ""
	if public {
		policy = fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"AWS": ["*"]},
      "Action": ["s3:GetObject"],
      "Resource": ["arn:aws:s3:::%s/*"]
    }
  ]
}`, name)
	}
	if err := s.client.SetBucketPolicy(ctx, name, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

// SetBucketVersioning enables or suspends object versioning.
func (s *MinIOStore) SetBucketVersioning(ctx context.Context, name string, enabled bool) error {
	var err error
	if enabled {
		err = s.client.EnableVersioning(ctx, name)
	} else {
		err = s.client.SuspendVersioning(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("set bucket versioning: %w", err)
	}
	return nil
}

// PresignedGetObject returns a time-limited download URL.
func (s *MinIOStore) PresignedGetObject(ctx context.Context, name, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, name, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

// PresignedPutObject returns a time-limited upload URL.
func (s *MinIOStore) PresignedPutObject(ctx context.Context, name, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, name, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return u.String(), nil
}

// GetObject opens an object for reading. Used during rename migration.
func (s *MinIOStore) GetObject(ctx context.Context, name, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	return obj, nil
}

// PutObject streams an object into the bucket.
func (s *MinIOStore) PutObject(ctx context.Context, name, key string, reader io.Reader, size int64) error {
	if _, err := s.client.PutObject(ctx, name, key, reader, size, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}
