package notify

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a message shown to the user in the control panel.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Color     string    `json:"color"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Well-known notification types emitted by the storage lifecycle and billing.
const (
	TypeBucketCreated   = "bucket_created"
	TypeBucketDeleted   = "bucket_deleted"
	TypePaymentCharged  = "payment_charged"
	TypePaymentPending  = "payment_pending"
	TypeBucketSuspended = "bucket_suspended"
)
