package bucket

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the billing state of a bucket.
type Status string

const (
	// StatusActive means the current period is paid.
	StatusActive Status = "active"
	// StatusGrace means a charge failed and a single retry window is open.
	StatusGrace Status = "grace"
	// StatusSuspended means the retry also failed. Billing stops until the
	// owner intervenes.
	StatusSuspended Status = "suspended"
)

// Bucket is a billed unit of object storage mapped 1:1 to one physical
// bucket in the external store.
type Bucket struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Name          string
	PhysicalName  string
	Plan          string
	QuotaGB       int
	Region        string
	StorageClass  string
	Public        bool
	Versioning    bool
	MonthlyPrice  decimal.Decimal
	Status        Status
	AutoRenew     bool
	LastBilledAt  *time.Time
	NextBillingAt *time.Time
	UsedBytes     int64
	ObjectCount   int64
	UsageSyncedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccessKey is an S3 credential pair scoped to one bucket. The secret is
// returned once on creation and never again.
type AccessKey struct {
	ID         uuid.UUID  `json:"id"`
	BucketID   uuid.UUID  `json:"bucket_id"`
	AccessKey  string     `json:"access_key"`
	SecretKey  string     `json:"secret_key,omitempty"`
	Label      *string    `json:"label,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// ObjectInfo describes one object in the external store. A non-nil Err
// terminates the listing stream it came from.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	Err          error
}

// CreateInput carries bucket creation parameters. Quota and price come from
// the plan catalog; the price is frozen onto the bucket.
type CreateInput struct {
	Name         string
	Plan         string
	Region       string
	StorageClass string
	Public       bool
	Versioning   bool
}

// UpdateInput carries optional settings changes; nil fields are untouched.
type UpdateInput struct {
	Public       *bool
	Versioning   *bool
	AutoRenew    *bool
	StorageClass *string
	Name         *string
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,46}[a-z0-9]$`)

// ValidateName enforces S3-compatible logical bucket names.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}
	if strings.Contains(name, "--") {
		return ErrInvalidName
	}
	return nil
}

// PhysicalName derives the external bucket name from the owner and logical
// name. The derivation is deterministic so the same (owner, name) pair always
// maps to the same external resource.
func PhysicalName(ownerID uuid.UUID, name string) string {
	owner := strings.ReplaceAll(ownerID.String(), "-", "")[:8]
	return fmt.Sprintf("ch-%s-%s", owner, name)
}
