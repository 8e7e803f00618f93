package bucket

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestBucket(t *testing.T, env *testEnv, owner uuid.UUID) Bucket {
	t.Helper()
	env.balances.balances[owner] = decimal.NewFromInt(500)
	created, err := env.service.Create(context.Background(), owner, CreateInput{Name: "media", Plan: "start"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return created
}

func TestCreateKeyReturnsSecretExactlyOnce(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	b := newTestBucket(t, env, owner)

	key, err := env.service.CreateKey(context.Background(), owner, b.ID, nil)
	if err != nil {
		t.Fatalf("CreateKey returned error: %v", err)
	}
	if !strings.HasPrefix(key.AccessKey, "CH") || len(key.AccessKey) != 22 {
		t.Fatalf("unexpected access key format %q", key.AccessKey)
	}
	if key.SecretKey == "" {
		t.Fatalf("expected secret in the create response")
	}

	keys, err := env.service.ListKeys(context.Background(), owner, b.ID)
	if err != nil {
		t.Fatalf("ListKeys returned error: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].SecretKey != "" {
		t.Fatalf("expected listing to hide the secret")
	}
}

func TestCreateKeyRejectedForSuspendedBucket(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	b := newTestBucket(t, env, owner)

	stored := env.repo.buckets[b.ID]
	stored.Status = StatusSuspended
	env.repo.buckets[b.ID] = stored

	if _, err := env.service.CreateKey(context.Background(), owner, b.ID, nil); err != ErrBucketSuspended {
		t.Fatalf("expected ErrBucketSuspended, got %v", err)
	}
}

func TestDeleteKey(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	b := newTestBucket(t, env, owner)

	key, err := env.service.CreateKey(context.Background(), owner, b.ID, nil)
	if err != nil {
		t.Fatalf("CreateKey returned error: %v", err)
	}

	if err := env.service.DeleteKey(context.Background(), owner, b.ID, key.ID); err != nil {
		t.Fatalf("DeleteKey returned error: %v", err)
	}
	if err := env.service.DeleteKey(context.Background(), owner, b.ID, key.ID); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound on second delete, got %v", err)
	}
}

func TestPresignObjectCachesURL(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	b := newTestBucket(t, env, owner)

	first, err := env.service.PresignObject(context.Background(), owner, b.ID, "report.pdf", "GET")
	if err != nil {
		t.Fatalf("PresignObject returned error: %v", err)
	}
	second, err := env.service.PresignObject(context.Background(), owner, b.ID, "report.pdf", "GET")
	if err != nil {
		t.Fatalf("PresignObject returned error: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached URL on repeat request")
	}

	put, err := env.service.PresignObject(context.Background(), owner, b.ID, "report.pdf", "PUT")
	if err != nil {
		t.Fatalf("PresignObject returned error: %v", err)
	}
	if put == first {
		t.Fatalf("expected distinct URL per method")
	}
}

func TestPresignObjectRejectedForSuspendedBucket(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	b := newTestBucket(t, env, owner)

	stored := env.repo.buckets[b.ID]
	stored.Status = StatusSuspended
	env.repo.buckets[b.ID] = stored

	if _, err := env.service.PresignObject(context.Background(), owner, b.ID, "report.pdf", "GET"); err != ErrBucketSuspended {
		t.Fatalf("expected ErrBucketSuspended, got %v", err)
	}
}
