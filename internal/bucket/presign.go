package bucket

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// PresignObject issues a time-limited URL for one object. Recently issued
// URLs are served from the TTL cache so repeated requests for the same object
// within the window do not hit the backend again.
func (s *Service) PresignObject(ctx context.Context, ownerID, bucketID uuid.UUID, key, method string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("object key required")
	}

	b, err := s.repo.Get(ctx, ownerID, bucketID)
	if err != nil {
		return "", err
	}
	if b.Status == StatusSuspended {
		return "", ErrBucketSuspended
	}

	method = strings.ToUpper(method)
	cacheKey := fmt.Sprintf("presign:%s:%s/%s", method, b.ID, key)
	if url, ok := s.cache.Get(cacheKey); ok {
		return url, nil
	}

	var url string
	switch method {
	case http.MethodGet, "":
		url, err = s.store.PresignedGetObject(ctx, b.PhysicalName, key, s.presignTTL)
	case http.MethodPut:
		url, err = s.store.PresignedPutObject(ctx, b.PhysicalName, key, s.presignTTL)
	default:
		return "", fmt.Errorf("unsupported presign method %q", method)
	}
	if err != nil {
		return "", err
	}

	s.cache.Set(cacheKey, url)
	return url, nil
}
