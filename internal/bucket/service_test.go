package bucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ardabaev/cloudhost/internal/cache"
	"github.com/ardabaev/cloudhost/internal/config"
	"github.com/ardabaev/cloudhost/internal/ledger"
	"github.com/ardabaev/cloudhost/internal/notify"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

func testPlans() map[string]config.Plan {
	return map[string]config.Plan{
		"start": {Code: "start", MonthlyPrice: decimal.NewFromInt(199), QuotaGB: 50},
		"pro":   {Code: "pro", MonthlyPrice: decimal.NewFromInt(499), QuotaGB: 250},
	}
}

func testBilling() config.BillingConfig {
	return config.BillingConfig{
		Cycle:          30 * 24 * time.Hour,
		GracePeriod:    24 * time.Hour,
		UsageFreshness: 5 * time.Minute,
		PresignTTL:     15 * time.Minute,
	}
}

type testEnv struct {
	balances *fakeLedger
	repo     *fakeRegistry
	store    *fakeObjectStore
	events   *fakeNotifier
	service  *Service
}

func newTestEnv() *testEnv {
	balances := newFakeLedger()
	repo := newFakeRegistry(balances)
	store := newFakeObjectStore()
	events := &fakeNotifier{}

	service := NewService(repo, balances, store, events, testPlans(),
		cache.New(64, time.Minute), testBilling(), "ru-central", zap.NewNop())
	service.now = func() time.Time { return testNow }

	return &testEnv{balances: balances, repo: repo, store: store, events: events, service: service}
}

func TestCreateBucketDebitsAndRegisters(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)

	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "backups", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if got := env.balances.balances[owner]; !got.Equal(decimal.NewFromInt(301)) {
		t.Fatalf("expected balance 301 after debit, got %s", got)
	}
	if created.Status != StatusActive {
		t.Fatalf("expected status active, got %s", created.Status)
	}
	if !created.AutoRenew {
		t.Fatalf("expected auto renew enabled")
	}
	if created.NextBillingAt == nil || !created.NextBillingAt.Equal(testNow.Add(30*24*time.Hour)) {
		t.Fatalf("expected next billing in 30 days, got %v", created.NextBillingAt)
	}
	if !created.MonthlyPrice.Equal(decimal.NewFromInt(199)) {
		t.Fatalf("expected frozen price 199, got %s", created.MonthlyPrice)
	}
	if !env.store.bucketExists(created.PhysicalName) {
		t.Fatalf("expected physical bucket %q to exist", created.PhysicalName)
	}
	if env.events.lastType() != notify.TypeBucketCreated {
		t.Fatalf("expected bucket created notification, got %q", env.events.lastType())
	}
}

func TestCreateBucketInsufficientFundsLeavesNothingBehind(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(50)

	_, err := env.service.Create(context.Background(), owner, CreateInput{Name: "backups", Plan: "start"})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if env.store.bucketCount() != 0 {
		t.Fatalf("expected no external buckets, got %d", env.store.bucketCount())
	}
	if len(env.repo.buckets) != 0 {
		t.Fatalf("expected no registry rows, got %d", len(env.repo.buckets))
	}
}

func TestCreateBucketRollsBackExternalOnTransactionFailure(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)
	env.repo.failCreate = errors.New("registry unavailable")

	_, err := env.service.Create(context.Background(), owner, CreateInput{Name: "backups", Plan: "start"})
	if err == nil || !errors.Is(err, env.repo.failCreate) {
		t.Fatalf("expected registry error to propagate, got %v", err)
	}

	if env.store.bucketCount() != 0 {
		t.Fatalf("expected external bucket rolled back, %d remain", env.store.bucketCount())
	}
	if got := env.balances.balances[owner]; !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance untouched, got %s", got)
	}
}

func TestCreateBucketPolicyFailureIsNonFatal(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)
	env.store.failPolicy = errors.New("policy api down")

	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "backups", Plan: "start", Public: true})
	if err != nil {
		t.Fatalf("expected create to succeed despite policy failure, got %v", err)
	}
	if !env.store.bucketExists(created.PhysicalName) {
		t.Fatalf("expected physical bucket to exist")
	}
	if env.events.lastType() != notify.TypeBucketCreated {
		t.Fatalf("expected creation notification even with policy failure")
	}
}

func TestCreateBucketRejectsUnknownPlanAndBadName(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(5000)

	if _, err := env.service.Create(context.Background(), owner, CreateInput{Name: "backups", Plan: "platinum"}); err != ErrUnknownPlan {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
	if _, err := env.service.Create(context.Background(), owner, CreateInput{Name: "Bad_Name!", Plan: "start"}); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if env.store.bucketCount() != 0 {
		t.Fatalf("expected no external buckets after rejected creates")
	}
}

func TestDeleteBucketRequiresForceWhenNotEmpty(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)

	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "media", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	env.store.putBytes(created.PhysicalName, "photo.jpg", []byte("jpeg"))

	if err := env.service.Delete(context.Background(), owner, created.ID, false); err != ErrBucketNotEmpty {
		t.Fatalf("expected ErrBucketNotEmpty, got %v", err)
	}

	if err := env.service.Delete(context.Background(), owner, created.ID, true); err != nil {
		t.Fatalf("forced delete returned error: %v", err)
	}
	if env.store.bucketExists(created.PhysicalName) {
		t.Fatalf("expected physical bucket removed")
	}
	if _, err := env.repo.Get(context.Background(), owner, created.ID); err != ErrBucketNotFound {
		t.Fatalf("expected registry row removed, got %v", err)
	}
	if env.events.lastType() != notify.TypeBucketDeleted {
		t.Fatalf("expected deletion notification, got %q", env.events.lastType())
	}
}

func TestDeleteBucketRemovesAccessKeys(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)

	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "media", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := env.service.CreateKey(context.Background(), owner, created.ID, nil); err != nil {
		t.Fatalf("CreateKey returned error: %v", err)
	}

	if err := env.service.Delete(context.Background(), owner, created.ID, false); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if env.repo.keyCount(created.ID) != 0 {
		t.Fatalf("expected access keys removed with bucket")
	}
}

func TestRenameMigratesObjectsToNewPhysicalBucket(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)

	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "old-name", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	env.store.putBytes(created.PhysicalName, "a.txt", []byte("alpha"))
	env.store.putBytes(created.PhysicalName, "b.txt", []byte("beta"))
	env.store.putBytes(created.PhysicalName, "c.txt", []byte("gamma"))

	newName := "new-name"
	updated, err := env.service.UpdateSettings(context.Background(), owner, created.ID, UpdateInput{Name: &newName})
	if err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}

	if updated.Name != newName {
		t.Fatalf("expected renamed bucket, got %q", updated.Name)
	}
	wantPhysical := PhysicalName(owner, newName)
	if updated.PhysicalName != wantPhysical {
		t.Fatalf("expected physical name %q, got %q", wantPhysical, updated.PhysicalName)
	}
	if env.store.bucketExists(created.PhysicalName) {
		t.Fatalf("expected old physical bucket removed")
	}
	for key, want := range map[string]string{"a.txt": "alpha", "b.txt": "beta", "c.txt": "gamma"} {
		got, ok := env.store.getBytes(wantPhysical, key)
		if !ok || string(got) != want {
			t.Fatalf("expected object %q migrated with content %q, got %q (present=%v)", key, want, got, ok)
		}
	}
}

func TestRenameToExistingNameRefusedBeforeMigration(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)

	alpha, err := env.service.Create(context.Background(), owner, CreateInput{Name: "alpha", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	beta, err := env.service.Create(context.Background(), owner, CreateInput{Name: "beta", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	env.store.putBytes(alpha.PhysicalName, "data.bin", []byte("payload"))

	taken := "beta"
	_, err = env.service.UpdateSettings(context.Background(), owner, alpha.ID, UpdateInput{Name: &taken})
	if err != ErrBucketNameExists {
		t.Fatalf("expected ErrBucketNameExists, got %v", err)
	}

	// the conflict was detected before any object moved
	if !env.store.bucketExists(alpha.PhysicalName) {
		t.Fatalf("expected alpha's physical bucket to survive the refused rename")
	}
	if data, ok := env.store.getBytes(alpha.PhysicalName, "data.bin"); !ok || string(data) != "payload" {
		t.Fatalf("expected alpha's object untouched, got %q (present=%v)", data, ok)
	}
	if _, ok := env.store.getBytes(beta.PhysicalName, "data.bin"); ok {
		t.Fatalf("expected no object copied into beta's physical bucket")
	}
	stored, err := env.repo.Get(context.Background(), owner, alpha.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Name != "alpha" || stored.PhysicalName != alpha.PhysicalName {
		t.Fatalf("expected registry row unchanged, got %q/%q", stored.Name, stored.PhysicalName)
	}
}

func TestEnablingAutoRenewAssignsBillingDate(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)

	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "backups", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// emulate a bucket whose billing was switched off
	stored := env.repo.buckets[created.ID]
	stored.AutoRenew = false
	stored.NextBillingAt = nil
	env.repo.buckets[created.ID] = stored

	on := true
	updated, err := env.service.UpdateSettings(context.Background(), owner, created.ID, UpdateInput{AutoRenew: &on})
	if err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}
	if !updated.AutoRenew {
		t.Fatalf("expected auto renew enabled")
	}
	if updated.NextBillingAt == nil || !updated.NextBillingAt.Equal(testNow.Add(30*24*time.Hour)) {
		t.Fatalf("expected next billing assigned, got %v", updated.NextBillingAt)
	}
}

func TestListObjectsStopsAtLimit(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.balances.balances[owner] = decimal.NewFromInt(500)

	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "logs", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	for i := 0; i < 25; i++ {
		env.store.putBytes(created.PhysicalName, fmt.Sprintf("log-%02d", i), []byte("x"))
	}

	objects, err := env.service.ListObjects(context.Background(), owner, created.ID, "", 10)
	if err != nil {
		t.Fatalf("ListObjects returned error: %v", err)
	}
	if len(objects) != 10 {
		t.Fatalf("expected 10 objects, got %d", len(objects))
	}
}

// --- fakes ----

type fakeLedger struct {
	balances map[uuid.UUID]decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[uuid.UUID]decimal.Decimal)}
}

func (f *fakeLedger) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return f.balances[accountID], nil
}

type fakeRegistry struct {
	ledger     *fakeLedger
	buckets    map[uuid.UUID]Bucket
	keys       map[uuid.UUID][]AccessKey
	failCreate error
}

func newFakeRegistry(balances *fakeLedger) *fakeRegistry {
	return &fakeRegistry{
		ledger:  balances,
		buckets: make(map[uuid.UUID]Bucket),
		keys:    make(map[uuid.UUID][]AccessKey),
	}
}

func (f *fakeRegistry) CreatePaid(ctx context.Context, b Bucket, price decimal.Decimal) (Bucket, error) {
	if f.failCreate != nil {
		return Bucket{}, f.failCreate
	}
	for _, existing := range f.buckets {
		if existing.OwnerID == b.OwnerID && existing.Name == b.Name {
			return Bucket{}, ErrBucketNameExists
		}
	}
	balance := f.ledger.balances[b.OwnerID]
	if balance.LessThan(price) {
		return Bucket{}, ledger.ErrInsufficientFunds
	}
	f.ledger.balances[b.OwnerID] = balance.Sub(price)
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	f.buckets[b.ID] = b
	return b, nil
}

func (f *fakeRegistry) GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error) {
	for _, b := range f.buckets {
		if b.OwnerID == ownerID && b.Name == name {
			return b, nil
		}
	}
	return Bucket{}, ErrBucketNotFound
}

func (f *fakeRegistry) Get(ctx context.Context, ownerID, bucketID uuid.UUID) (Bucket, error) {
	b, ok := f.buckets[bucketID]
	if !ok || b.OwnerID != ownerID {
		return Bucket{}, ErrBucketNotFound
	}
	return b, nil
}

func (f *fakeRegistry) List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error) {
	var buckets []Bucket
	for _, b := range f.buckets {
		if b.OwnerID == ownerID {
			buckets = append(buckets, b)
		}
	}
	return buckets, nil
}

func (f *fakeRegistry) Delete(ctx context.Context, ownerID, bucketID uuid.UUID) error {
	b, ok := f.buckets[bucketID]
	if !ok || b.OwnerID != ownerID {
		return ErrBucketNotFound
	}
	delete(f.buckets, bucketID)
	delete(f.keys, bucketID)
	return nil
}

func (f *fakeRegistry) UpdateSettings(ctx context.Context, b Bucket) (Bucket, error) {
	stored, ok := f.buckets[b.ID]
	if !ok || stored.OwnerID != b.OwnerID {
		return Bucket{}, ErrBucketNotFound
	}
	b.UpdatedAt = time.Now()
	f.buckets[b.ID] = b
	return b, nil
}

func (f *fakeRegistry) UpdateUsage(ctx context.Context, bucketID uuid.UUID, usedBytes, objectCount int64, syncedAt time.Time) error {
	b, ok := f.buckets[bucketID]
	if !ok {
		return ErrBucketNotFound
	}
	b.UsedBytes = usedBytes
	b.ObjectCount = objectCount
	b.UsageSyncedAt = &syncedAt
	f.buckets[bucketID] = b
	return nil
}

func (f *fakeRegistry) CreateKey(ctx context.Context, key AccessKey) (AccessKey, error) {
	key.CreatedAt = time.Now()
	f.keys[key.BucketID] = append(f.keys[key.BucketID], key)
	return key, nil
}

func (f *fakeRegistry) ListKeys(ctx context.Context, ownerID, bucketID uuid.UUID) ([]AccessKey, error) {
	var keys []AccessKey
	for _, key := range f.keys[bucketID] {
		key.SecretKey = ""
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *fakeRegistry) DeleteKey(ctx context.Context, ownerID, bucketID, keyID uuid.UUID) error {
	keys := f.keys[bucketID]
	for i, key := range keys {
		if key.ID == keyID {
			f.keys[bucketID] = append(keys[:i], keys[i+1:]...)
			return nil
		}
	}
	return ErrKeyNotFound
}

func (f *fakeRegistry) keyCount(bucketID uuid.UUID) int {
	return len(f.keys[bucketID])
}

type fakeObjectStore struct {
	mu         sync.Mutex
	buckets    map[string]map[string][]byte
	policies   map[string]bool
	versioning map[string]bool
	failList   error
	failPolicy error
	failEnsure error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		buckets:    make(map[string]map[string][]byte),
		policies:   make(map[string]bool),
		versioning: make(map[string]bool),
	}
}

func (f *fakeObjectStore) bucketExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[name]
	return ok
}

func (f *fakeObjectStore) bucketCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}

func (f *fakeObjectStore) putBytes(name, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[name] == nil {
		f.buckets[name] = make(map[string][]byte)
	}
	f.buckets[name][key] = data
}

func (f *fakeObjectStore) getBytes(name, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.buckets[name][key]
	return data, ok
}

func (f *fakeObjectStore) EnsureBucket(ctx context.Context, name, region string) error {
	if f.failEnsure != nil {
		return f.failEnsure
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[name] == nil {
		f.buckets[name] = make(map[string][]byte)
	}
	return nil
}

func (f *fakeObjectStore) RemoveBucket(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buckets[name]) > 0 {
		return errors.New("bucket not empty")
	}
	delete(f.buckets, name)
	return nil
}

func (f *fakeObjectStore) ListObjects(ctx context.Context, name, prefix string, recursive bool) <-chan ObjectInfo {
	out := make(chan ObjectInfo)
	go func() {
		defer close(out)
		if f.failList != nil {
			out <- ObjectInfo{Err: f.failList}
			return
		}
		f.mu.Lock()
		var keys []string
		for key := range f.buckets[name] {
			keys = append(keys, key)
		}
		sizes := make(map[string]int64, len(keys))
		for key, data := range f.buckets[name] {
			sizes[key] = int64(len(data))
		}
		f.mu.Unlock()
		sort.Strings(keys)

		for _, key := range keys {
			select {
			case out <- ObjectInfo{Key: key, Size: sizes[key], LastModified: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (f *fakeObjectStore) RemoveObjects(ctx context.Context, name string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.buckets[name], key)
	}
	return nil
}

func (f *fakeObjectStore) SetBucketPolicy(ctx context.Context, name string, public bool) error {
	if f.failPolicy != nil {
		return f.failPolicy
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[name] = public
	return nil
}

func (f *fakeObjectStore) SetBucketVersioning(ctx context.Context, name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versioning[name] = enabled
	return nil
}

func (f *fakeObjectStore) PresignedGetObject(ctx context.Context, name, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://store.local/%s/%s?sig=get-%d", name, key, time.Now().UnixNano()), nil
}

func (f *fakeObjectStore) PresignedPutObject(ctx context.Context, name, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://store.local/%s/%s?sig=put-%d", name, key, time.Now().UnixNano()), nil
}

func (f *fakeObjectStore) GetObject(ctx context.Context, name, key string) (io.ReadCloser, error) {
	data, ok := f.getBytes(name, key)
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) PutObject(ctx context.Context, name, key string, reader io.Reader, size int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.putBytes(name, key, data)
	return nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Notify(n notify.Notification) {
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) lastType() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Type
}
