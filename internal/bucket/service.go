package bucket

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ardabaev/cloudhost/internal/cache"
	"github.com/ardabaev/cloudhost/internal/config"
	"github.com/ardabaev/cloudhost/internal/ledger"
	"github.com/ardabaev/cloudhost/internal/metrics"
	"github.com/ardabaev/cloudhost/internal/notify"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type registry interface {
	CreatePaid(ctx context.Context, b Bucket, price decimal.Decimal) (Bucket, error)
	Get(ctx context.Context, ownerID, bucketID uuid.UUID) (Bucket, error)
	GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error)
	Delete(ctx context.Context, ownerID, bucketID uuid.UUID) error
	UpdateSettings(ctx context.Context, b Bucket) (Bucket, error)
	UpdateUsage(ctx context.Context, bucketID uuid.UUID, usedBytes, objectCount int64, syncedAt time.Time) error
	CreateKey(ctx context.Context, key AccessKey) (AccessKey, error)
	ListKeys(ctx context.Context, ownerID, bucketID uuid.UUID) ([]AccessKey, error)
	DeleteKey(ctx context.Context, ownerID, bucketID, keyID uuid.UUID) error
}

type balanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

type notifier interface {
	Notify(n notify.Notification)
}

// ObjectStore is the contract the lifecycle engine requires from the external
// bucket/object backend.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, name, region string) error
	RemoveBucket(ctx context.Context, name string) error
	ListObjects(ctx context.Context, name, prefix string, recursive bool) <-chan ObjectInfo
	RemoveObjects(ctx context.Context, name string, keys []string) error
	SetBucketPolicy(ctx context.Context, name string, public bool) error
	SetBucketVersioning(ctx context.Context, name string, enabled bool) error
	PresignedGetObject(ctx context.Context, name, key string, ttl time.Duration) (string, error)
	PresignedPutObject(ctx context.Context, name, key string, ttl time.Duration) (string, error)
	GetObject(ctx context.Context, name, key string) (io.ReadCloser, error)
	PutObject(ctx context.Context, name, key string, reader io.Reader, size int64) error
}

// Service is the bucket lifecycle engine. Creation, settings changes, rename
// and deletion keep the external bucket and the paid registry row in step:
// the ledger debit and registry write commit together, and external resources
// are rolled back when the transaction fails.
type Service struct {
	repo          registry
	ledger        balanceReader
	store         ObjectStore
	events        notifier
	plans         map[string]config.Plan
	cache         *cache.TTLStore
	log           *zap.Logger
	defaultRegion string
	cycle         time.Duration
	freshness     time.Duration
	presignTTL    time.Duration
	now           func() time.Time
}

// NewService constructs the lifecycle engine.
func NewService(repo registry, balances balanceReader, store ObjectStore, events notifier,
	plans map[string]config.Plan, ttlCache *cache.TTLStore, billing config.BillingConfig,
	defaultRegion string, log *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		ledger:        balances,
		store:         store,
		events:        events,
		plans:         plans,
		cache:         ttlCache,
		log:           log,
		defaultRegion: defaultRegion,
		cycle:         billing.Cycle,
		freshness:     billing.UsageFreshness,
		presignTTL:    billing.PresignTTL,
		now:           time.Now,
	}
}

// Create provisions the external bucket, debits the first month's fee and
// registers the bucket, all or nothing. If the paid registration fails after
// the external bucket was created, the external bucket is torn down so no
// unpaid resource survives.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (Bucket, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := ValidateName(input.Name); err != nil {
		return Bucket{}, err
	}

	plan, ok := s.plans[input.Plan]
	if !ok {
		return Bucket{}, ErrUnknownPlan
	}

	// Optimistic pre-check; the authoritative re-check happens under the
	// account row lock inside CreatePaid.
	balance, err := s.ledger.Balance(ctx, ownerID)
	if err != nil {
		return Bucket{}, err
	}
	if balance.LessThan(plan.MonthlyPrice) {
		return Bucket{}, ledger.ErrInsufficientFunds
	}

	region := input.Region
	if region == "" {
		region = s.defaultRegion
	}
	storageClass := input.StorageClass
	if storageClass == "" {
		storageClass = "standard"
	}

	physical := PhysicalName(ownerID, input.Name)
	if err := s.store.EnsureBucket(ctx, physical, region); err != nil {
		metrics.ObserveLifecycle("create", "store_error")
		return Bucket{}, fmt.Errorf("provision bucket: %w", err)
	}

	now := s.now()
	next := now.Add(s.cycle)
	b := Bucket{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Name:          input.Name,
		PhysicalName:  physical,
		Plan:          plan.Code,
		QuotaGB:       plan.QuotaGB,
		Region:        region,
		StorageClass:  storageClass,
		Public:        input.Public,
		Versioning:    input.Versioning,
		MonthlyPrice:  plan.MonthlyPrice,
		Status:        StatusActive,
		AutoRenew:     true,
		LastBilledAt:  &now,
		NextBillingAt: &next,
	}

	created, err := s.repo.CreatePaid(ctx, b, plan.MonthlyPrice)
	if err != nil {
		s.cleanupExternal(context.WithoutCancel(ctx), physical)
		metrics.ObserveLifecycle("create", "rolled_back")
		return Bucket{}, err
	}

	s.applySettings(ctx, created.PhysicalName, created.Public, created.Versioning)

	s.events.Notify(notify.Notification{
		UserID:  ownerID,
		Type:    notify.TypeBucketCreated,
		Title:   "Bucket created",
		Message: fmt.Sprintf("Bucket %q is ready. Next payment on %s.", created.Name, next.Format("2006-01-02")),
		Color:   "green",
	})
	metrics.ObserveLifecycle("create", "ok")
	return created, nil
}

// UpdateSettings applies policy, versioning, auto-renew and name changes.
// External changes run before the registry write so a failed adapter call
// leaves the stored settings untouched.
func (s *Service) UpdateSettings(ctx context.Context, ownerID, bucketID uuid.UUID, input UpdateInput) (Bucket, error) {
	b, err := s.repo.Get(ctx, ownerID, bucketID)
	if err != nil {
		return Bucket{}, err
	}

	renamed := false
	if input.Name != nil && *input.Name != b.Name {
		newName := strings.TrimSpace(*input.Name)
		if err := ValidateName(newName); err != nil {
			return Bucket{}, err
		}
		// The new name must be free before any object moves: a conflict
		// discovered after migration would leave the registry row pointing
		// at a deleted physical bucket.
		if _, err := s.repo.GetByName(ctx, ownerID, newName); err == nil {
			return Bucket{}, ErrBucketNameExists
		} else if err != ErrBucketNotFound {
			return Bucket{}, err
		}
		newPhysical := PhysicalName(ownerID, newName)
		if err := s.migrateObjects(ctx, b, newPhysical); err != nil {
			metrics.ObserveLifecycle("rename", "error")
			return Bucket{}, err
		}
		b.Name = newName
		b.PhysicalName = newPhysical
		renamed = true
	}

	if input.Public != nil && *input.Public != b.Public {
		if err := s.store.SetBucketPolicy(ctx, b.PhysicalName, *input.Public); err != nil {
			return Bucket{}, fmt.Errorf("apply bucket policy: %w", err)
		}
		b.Public = *input.Public
	}
	if input.Versioning != nil && *input.Versioning != b.Versioning {
		if err := s.store.SetBucketVersioning(ctx, b.PhysicalName, *input.Versioning); err != nil {
			return Bucket{}, fmt.Errorf("apply bucket versioning: %w", err)
		}
		b.Versioning = *input.Versioning
	}
	if renamed {
		// settings do not travel with the physical bucket; reapply on the
		// new name, best effort
		s.applySettings(ctx, b.PhysicalName, b.Public, b.Versioning)
	}

	if input.StorageClass != nil {
		b.StorageClass = *input.StorageClass
	}
	if input.AutoRenew != nil {
		b.AutoRenew = *input.AutoRenew
		if b.AutoRenew && b.NextBillingAt == nil {
			next := s.now().Add(s.cycle)
			b.NextBillingAt = &next
		}
	}

	updated, err := s.repo.UpdateSettings(ctx, b)
	if err != nil {
		return Bucket{}, err
	}
	metrics.ObserveLifecycle("update", "ok")
	return updated, nil
}

// Delete removes the external bucket and the registry row. A bucket that
// still holds objects is only deleted when force is set. No refund is issued
// for unused paid time.
func (s *Service) Delete(ctx context.Context, ownerID, bucketID uuid.UUID, force bool) error {
	b, err := s.repo.Get(ctx, ownerID, bucketID)
	if err != nil {
		return err
	}

	keys, err := s.collectKeys(ctx, b.PhysicalName)
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	if len(keys) > 0 && !force {
		return ErrBucketNotEmpty
	}

	for start := 0; start < len(keys); start += removeBatchLimit {
		end := start + removeBatchLimit
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.store.RemoveObjects(ctx, b.PhysicalName, keys[start:end]); err != nil {
			metrics.ObserveLifecycle("delete", "store_error")
			return fmt.Errorf("empty bucket: %w", err)
		}
	}

	if err := s.store.RemoveBucket(ctx, b.PhysicalName); err != nil {
		metrics.ObserveLifecycle("delete", "store_error")
		return fmt.Errorf("remove bucket: %w", err)
	}

	if err := s.repo.Delete(ctx, ownerID, bucketID); err != nil {
		return err
	}

	s.events.Notify(notify.Notification{
		UserID:  ownerID,
		Type:    notify.TypeBucketDeleted,
		Title:   "Bucket deleted",
		Message: fmt.Sprintf("Bucket %q and its access keys were removed.", b.Name),
		Color:   "gray",
	})
	metrics.ObserveLifecycle("delete", "ok")
	return nil
}

// Get returns the bucket, refreshing its usage snapshot when stale.
func (s *Service) Get(ctx context.Context, ownerID, bucketID uuid.UUID) (Bucket, error) {
	b, err := s.repo.Get(ctx, ownerID, bucketID)
	if err != nil {
		return Bucket{}, err
	}
	if s.NeedsUsageRefresh(b) {
		b = s.SyncUsage(ctx, b)
	}
	return b, nil
}

// List returns the user's buckets, refreshing stale usage snapshots.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error) {
	buckets, err := s.repo.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i, b := range buckets {
		if s.NeedsUsageRefresh(b) {
			buckets[i] = s.SyncUsage(ctx, b)
		}
	}
	return buckets, nil
}

// ListObjects returns up to limit objects from the bucket. The listing stream
// is abandoned as soon as the limit is reached.
func (s *Service) ListObjects(ctx context.Context, ownerID, bucketID uuid.UUID, prefix string, limit int) ([]ObjectInfo, error) {
	b, err := s.repo.Get(ctx, ownerID, bucketID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make([]ObjectInfo, 0, limit)
	for info := range s.store.ListObjects(ctx, b.PhysicalName, prefix, true) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		objects = append(objects, info)
		if len(objects) >= limit {
			break
		}
	}
	return objects, nil
}

// migrateObjects copies every object to the new physical bucket, removes the
// sources and drops the old bucket. The copy is not transactional: a crash
// mid-migration can leave objects present under both names, so every step is
// logged for reconciliation.
func (s *Service) migrateObjects(ctx context.Context, b Bucket, newPhysical string) error {
	if err := s.store.EnsureBucket(ctx, newPhysical, b.Region); err != nil {
		return fmt.Errorf("provision renamed bucket: %w", err)
	}

	keys, err := s.collectKeys(ctx, b.PhysicalName)
	if err != nil {
		return fmt.Errorf("list objects for migration: %w", err)
	}

	for _, key := range keys {
		if err := s.copyObject(ctx, b.PhysicalName, newPhysical, key); err != nil {
			return fmt.Errorf("migrate object %q: %w", key, err)
		}
		s.log.Info("migrated object",
			zap.String("bucket", b.Name),
			zap.String("from", b.PhysicalName),
			zap.String("to", newPhysical),
			zap.String("key", key))
	}

	for start := 0; start < len(keys); start += removeBatchLimit {
		end := start + removeBatchLimit
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.store.RemoveObjects(ctx, b.PhysicalName, keys[start:end]); err != nil {
			return fmt.Errorf("remove migrated objects: %w", err)
		}
	}

	if err := s.store.RemoveBucket(ctx, b.PhysicalName); err != nil {
		return fmt.Errorf("remove old bucket: %w", err)
	}
	return nil
}

func (s *Service) copyObject(ctx context.Context, from, to, key string) error {
	reader, err := s.store.GetObject(ctx, from, key)
	if err != nil {
		return err
	}
	defer reader.Close()
	// size -1 streams without a known length
	return s.store.PutObject(ctx, to, key, reader, -1)
}

// collectKeys drains the full listing of the physical bucket.
func (s *Service) collectKeys(ctx context.Context, physical string) ([]string, error) {
	var keys []string
	for info := range s.store.ListObjects(ctx, physical, "", true) {
		if info.Err != nil {
			return nil, info.Err
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// cleanupExternal tears down the physical bucket after a failed registration.
// Best effort: failures are logged, the original registration error wins.
func (s *Service) cleanupExternal(ctx context.Context, physical string) {
	keys, err := s.collectKeys(ctx, physical)
	if err != nil {
		s.log.Error("rollback: list objects failed", zap.String("physical", physical), zap.Error(err))
		return
	}
	for start := 0; start < len(keys); start += removeBatchLimit {
		end := start + removeBatchLimit
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.store.RemoveObjects(ctx, physical, keys[start:end]); err != nil {
			s.log.Error("rollback: remove objects failed", zap.String("physical", physical), zap.Error(err))
			return
		}
	}
	if err := s.store.RemoveBucket(ctx, physical); err != nil {
		s.log.Error("rollback: remove bucket failed", zap.String("physical", physical), zap.Error(err))
	}
}

// applySettings pushes policy and versioning to the external bucket, best
// effort: the bucket stays usable with defaults when the backend refuses.
func (s *Service) applySettings(ctx context.Context, physical string, public, versioning bool) {
	if err := s.store.SetBucketPolicy(ctx, physical, public); err != nil {
		s.log.Warn("apply bucket policy failed", zap.String("physical", physical), zap.Error(err))
	}
	if err := s.store.SetBucketVersioning(ctx, physical, versioning); err != nil {
		s.log.Warn("apply bucket versioning failed", zap.String("physical", physical), zap.Error(err))
	}
}
