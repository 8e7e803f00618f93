package bucket

import (
	"context"

	"go.uber.org/zap"
)

// NeedsUsageRefresh reports whether the bucket's usage snapshot is missing or
// older than the freshness window.
func (s *Service) NeedsUsageRefresh(b Bucket) bool {
	if b.UsageSyncedAt == nil {
		return true
	}
	return s.now().Sub(*b.UsageSyncedAt) > s.freshness
}

// SyncUsage recomputes used bytes and object count from the external listing
// and persists the snapshot. Any failure is logged and the stale bucket is
// returned unchanged: callers prefer old numbers over a blocked request.
func (s *Service) SyncUsage(ctx context.Context, b Bucket) Bucket {
	backoffKey := "usage-unavailable:" + b.ID.String()
	if _, down := s.cache.Get(backoffKey); down {
		return b
	}

	var usedBytes, objectCount int64
	for info := range s.store.ListObjects(ctx, b.PhysicalName, "", true) {
		if info.Err != nil {
			s.log.Warn("usage sync failed, keeping stale snapshot",
				zap.String("bucket", b.Name), zap.Error(info.Err))
			s.cache.Set(backoffKey, "1")
			return b
		}
		usedBytes += info.Size
		objectCount++
	}

	syncedAt := s.now()
	if err := s.repo.UpdateUsage(ctx, b.ID, usedBytes, objectCount, syncedAt); err != nil {
		s.log.Warn("usage snapshot persist failed",
			zap.String("bucket", b.Name), zap.Error(err))
		return b
	}

	b.UsedBytes = usedBytes
	b.ObjectCount = objectCount
	b.UsageSyncedAt = &syncedAt
	return b
}
