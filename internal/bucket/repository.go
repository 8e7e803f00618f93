package bucket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardabaev/cloudhost/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const repositoryTimeout = 5 * time.Second

const bucketColumns = `
id, owner_id, name, physical_name, plan, quota_gb, region, storage_class,
is_public, versioning, monthly_price, status, auto_renew,
last_billed_at, next_billing_at, used_bytes, object_count, usage_synced_at,
created_at, updated_at`

// Repository allows access to bucket registry persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a bucket repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (Bucket, error) {
	var b Bucket
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Name, &b.PhysicalName, &b.Plan, &b.QuotaGB, &b.Region, &b.StorageClass,
		&b.Public, &b.Versioning, &b.MonthlyPrice, &b.Status, &b.AutoRenew,
		&b.LastBilledAt, &b.NextBillingAt, &b.UsedBytes, &b.ObjectCount, &b.UsageSyncedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

// CreatePaid inserts the bucket and debits the first month's fee as one
// transaction. The balance is re-checked under the row lock inside
// ledger.ApplyEntry, so a concurrent spend cannot slip between the caller's
// pre-check and the debit.
func (r *Repository) CreatePaid(ctx context.Context, b Bucket, price decimal.Decimal) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Bucket{}, fmt.Errorf("begin create bucket: %w", err)
	}
	defer tx.Rollback(ctx)

	description := fmt.Sprintf("monthly fee for bucket %q (%s plan)", b.Name, b.Plan)
	if _, err := ledger.ApplyEntry(ctx, tx, b.OwnerID, price.Neg(), ledger.EntryWithdrawal, description); err != nil {
		return Bucket{}, err
	}

	query := `
INSERT INTO buckets (id, owner_id, name, physical_name, plan, quota_gb, region, storage_class,
                     is_public, versioning, monthly_price, status, auto_renew,
                     last_billed_at, next_billing_at, used_bytes, object_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0, 0)
RETURNING ` + bucketColumns + `;`

	row := tx.QueryRow(ctx, query,
		b.ID, b.OwnerID, b.Name, b.PhysicalName, b.Plan, b.QuotaGB, b.Region, b.StorageClass,
		b.Public, b.Versioning, b.MonthlyPrice, b.Status, b.AutoRenew,
		b.LastBilledAt, b.NextBillingAt,
	)
	created, err := scanBucket(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Bucket{}, ErrBucketNameExists
		}
		return Bucket{}, fmt.Errorf("create bucket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Bucket{}, fmt.Errorf("commit create bucket: %w", err)
	}
	return created, nil
}

// Get fetches a single bucket ensuring ownership.
func (r *Repository) Get(ctx context.Context, ownerID, bucketID uuid.UUID) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE id = $1 AND owner_id = $2;`
	b, err := scanBucket(r.pool.QueryRow(ctx, query, bucketID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrBucketNotFound
		}
		return Bucket{}, fmt.Errorf("get bucket: %w", err)
	}
	return b, nil
}

// GetByName fetches a bucket by its owner-scoped logical name.
func (r *Repository) GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE owner_id = $1 AND name = $2;`
	b, err := scanBucket(r.pool.QueryRow(ctx, query, ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrBucketNotFound
		}
		return Bucket{}, fmt.Errorf("get bucket by name: %w", err)
	}
	return b, nil
}

// List returns all buckets owned by the user.
func (r *Repository) List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE owner_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

// Delete removes the bucket row and its access keys.
func (r *Repository) Delete(ctx context.Context, ownerID, bucketID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete bucket: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM access_keys WHERE bucket_id = $1;`, bucketID); err != nil {
		return fmt.Errorf("delete access keys: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM buckets WHERE id = $1 AND owner_id = $2;`, bucketID, ownerID)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete bucket: %w", err)
	}
	return nil
}

// UpdateSettings persists the mutable settings fields.
func (r *Repository) UpdateSettings(ctx context.Context, b Bucket) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE buckets
SET name = $3, physical_name = $4, storage_class = $5, is_public = $6,
    versioning = $7, auto_renew = $8, next_billing_at = $9, updated_at = NOW()
WHERE id = $1 AND owner_id = $2
RETURNING ` + bucketColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		b.ID, b.OwnerID, b.Name, b.PhysicalName, b.StorageClass, b.Public,
		b.Versioning, b.AutoRenew, b.NextBillingAt,
	)
	updated, err := scanBucket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrBucketNotFound
		}
		if isUniqueViolation(err) {
			return Bucket{}, ErrBucketNameExists
		}
		return Bucket{}, fmt.Errorf("update bucket settings: %w", err)
	}
	return updated, nil
}

// UpdateUsage persists a fresh usage snapshot.
func (r *Repository) UpdateUsage(ctx context.Context, bucketID uuid.UUID, usedBytes, objectCount int64, syncedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE buckets
SET used_bytes = $2, object_count = $3, usage_synced_at = $4, updated_at = NOW()
WHERE id = $1;`

	if _, err := r.pool.Exec(ctx, query, bucketID, usedBytes, objectCount, syncedAt); err != nil {
		return fmt.Errorf("update usage: %w", err)
	}
	return nil
}

// ListDue returns buckets eligible for a recurring charge.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + bucketColumns + `
FROM buckets
WHERE auto_renew = TRUE
  AND status IN ('active', 'grace')
  AND next_billing_at IS NOT NULL
  AND next_billing_at <= $1;`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list due buckets: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due buckets: %w", err)
	}
	return buckets, nil
}

// Charge debits one monthly fee and advances the billing period as a single
// transaction. The bucket row lock serializes concurrent sweeps; the locked
// row is then re-verified to still be due, so a bucket the owner opted out
// of (or that another sweep already charged) is skipped with ErrChargeNotDue
// and no debit. The account row lock inside ledger.ApplyEntry re-checks the
// balance before the debit. Returns ledger.ErrInsufficientFunds without any
// debit when the balance no longer covers the price.
func (r *Repository) Charge(ctx context.Context, bucketID uuid.UUID, now time.Time, cycle time.Duration) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Bucket{}, fmt.Errorf("begin charge: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE id = $1 FOR UPDATE;`
	b, err := scanBucket(tx.QueryRow(ctx, query, bucketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrBucketNotFound
		}
		return Bucket{}, fmt.Errorf("lock bucket: %w", err)
	}

	if !b.AutoRenew || (b.Status != StatusActive && b.Status != StatusGrace) ||
		b.NextBillingAt == nil || b.NextBillingAt.After(now) {
		return Bucket{}, ErrChargeNotDue
	}

	description := fmt.Sprintf("monthly fee for bucket %q (%s plan)", b.Name, b.Plan)
	if _, err := ledger.ApplyEntry(ctx, tx, b.OwnerID, b.MonthlyPrice.Neg(), ledger.EntryWithdrawal, description); err != nil {
		return Bucket{}, err
	}

	next := now.Add(cycle)
	updateQuery := `
UPDATE buckets
SET status = 'active', last_billed_at = $2, next_billing_at = $3, updated_at = NOW()
WHERE id = $1
RETURNING ` + bucketColumns + `;`

	charged, err := scanBucket(tx.QueryRow(ctx, updateQuery, bucketID, now, next))
	if err != nil {
		return Bucket{}, fmt.Errorf("advance billing period: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Bucket{}, fmt.Errorf("commit charge: %w", err)
	}
	return charged, nil
}

// MarkGrace opens the single retry window after a missed charge.
func (r *Repository) MarkGrace(ctx context.Context, bucketID uuid.UUID, retryAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE buckets
SET status = 'grace', next_billing_at = $2, updated_at = NOW()
WHERE id = $1;`

	if _, err := r.pool.Exec(ctx, query, bucketID, retryAt); err != nil {
		return fmt.Errorf("mark bucket grace: %w", err)
	}
	return nil
}

// MarkSuspended parks the bucket outside the billing loop.
func (r *Repository) MarkSuspended(ctx context.Context, bucketID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE buckets
SET status = 'suspended', auto_renew = FALSE, next_billing_at = NULL, updated_at = NOW()
WHERE id = $1;`

	if _, err := r.pool.Exec(ctx, query, bucketID); err != nil {
		return fmt.Errorf("mark bucket suspended: %w", err)
	}
	return nil
}

// CreateKey stores a new access key pair for the bucket.
func (r *Repository) CreateKey(ctx context.Context, key AccessKey) (AccessKey, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO access_keys (id, bucket_id, access_key, secret_key, label)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;`

	if err := r.pool.QueryRow(ctx, query, key.ID, key.BucketID, key.AccessKey, key.SecretKey, key.Label).Scan(&key.CreatedAt); err != nil {
		return AccessKey{}, fmt.Errorf("create access key: %w", err)
	}
	return key, nil
}

// ListKeys returns the bucket's access keys without secrets.
func (r *Repository) ListKeys(ctx context.Context, ownerID, bucketID uuid.UUID) ([]AccessKey, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT k.id, k.bucket_id, k.access_key, k.label, k.created_at, k.last_used_at
FROM access_keys k
JOIN buckets b ON b.id = k.bucket_id
WHERE k.bucket_id = $1 AND b.owner_id = $2
ORDER BY k.created_at DESC;`

	rows, err := r.pool.Query(ctx, query, bucketID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list access keys: %w", err)
	}
	defer rows.Close()

	var keys []AccessKey
	for rows.Next() {
		var key AccessKey
		if err := rows.Scan(&key.ID, &key.BucketID, &key.AccessKey, &key.Label, &key.CreatedAt, &key.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan access key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access keys: %w", err)
	}
	return keys, nil
}

// DeleteKey removes an access key, scoped to the owner's bucket.
func (r *Repository) DeleteKey(ctx context.Context, ownerID, bucketID, keyID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
DELETE FROM access_keys k
USING buckets b
WHERE k.id = $1 AND k.bucket_id = $2 AND b.id = k.bucket_id AND b.owner_id = $3;`

	tag, err := r.pool.Exec(ctx, query, keyID, bucketID, ownerID)
	if err != nil {
		return fmt.Errorf("delete access key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
