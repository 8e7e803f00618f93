package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardabaev/cloudhost/internal/bucket"
	"github.com/ardabaev/cloudhost/internal/ledger"
	"github.com/ardabaev/cloudhost/internal/metrics"
	"github.com/ardabaev/cloudhost/internal/notify"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type bucketStore interface {
	ListDue(ctx context.Context, now time.Time) ([]bucket.Bucket, error)
	Charge(ctx context.Context, bucketID uuid.UUID, now time.Time, cycle time.Duration) (bucket.Bucket, error)
	MarkGrace(ctx context.Context, bucketID uuid.UUID, retryAt time.Time) error
	MarkSuspended(ctx context.Context, bucketID uuid.UUID) error
}

type balanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

type notifier interface {
	Notify(n notify.Notification)
}

// Service runs the recurring charge workflow. A due bucket either pays for
// another cycle or walks the grace/suspend state machine: one failed charge
// opens a single retry window, a second failure suspends the bucket.
type Service struct {
	buckets bucketStore
	ledger  balanceReader
	events  notifier
	log     *zap.Logger
	cycle   time.Duration
	grace   time.Duration
	now     func() time.Time
}

// NewService constructs the charge workflow.
func NewService(buckets bucketStore, balances balanceReader, events notifier,
	cycle, grace time.Duration, log *zap.Logger) *Service {
	return &Service{
		buckets: buckets,
		ledger:  balances,
		events:  events,
		log:     log,
		cycle:   cycle,
		grace:   grace,
		now:     time.Now,
	}
}

// Sweep charges every due bucket. One bucket's failure never stops the rest:
// errors are logged and counted, then the sweep moves on.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()
	due, err := s.buckets.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due buckets: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.log.Info("billing sweep started", zap.Int("due", len(due)))
	for _, b := range due {
		if err := s.ChargeBucket(ctx, b); err != nil {
			metrics.ObserveCharge("error")
			s.log.Error("charge attempt failed",
				zap.String("bucket_id", b.ID.String()),
				zap.String("bucket", b.Name),
				zap.Error(err))
		}
	}
	s.log.Info("billing sweep finished", zap.Int("processed", len(due)))
	return nil
}

// ChargeBucket attempts one recurring charge. The outer balance check avoids
// a pointless transaction; the authoritative re-check happens under the
// account row lock inside Charge, so a balance spent between the two checks
// lands on the insufficient-funds path instead of overdrawing.
func (s *Service) ChargeBucket(ctx context.Context, b bucket.Bucket) error {
	if b.Status == bucket.StatusSuspended || !b.AutoRenew {
		metrics.ObserveCharge("skipped")
		return nil
	}

	now := s.now()

	balance, err := s.ledger.Balance(ctx, b.OwnerID)
	if err != nil {
		return err
	}
	if balance.LessThan(b.MonthlyPrice) {
		return s.handleInsufficientFunds(ctx, b, now)
	}

	charged, err := s.buckets.Charge(ctx, b.ID, now, s.cycle)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return s.handleInsufficientFunds(ctx, b, now)
		}
		if errors.Is(err, bucket.ErrChargeNotDue) {
			// the owner opted out or another sweep got here first
			metrics.ObserveCharge("skipped")
			return nil
		}
		return err
	}

	var next time.Time
	if charged.NextBillingAt != nil {
		next = *charged.NextBillingAt
	}
	s.events.Notify(notify.Notification{
		UserID:  b.OwnerID,
		Type:    notify.TypePaymentCharged,
		Title:   "Payment charged",
		Message: fmt.Sprintf("Monthly fee for bucket %q charged. Next payment on %s.", b.Name, next.Format("2006-01-02")),
		Color:   "green",
	})
	metrics.ObserveCharge("charged")
	return nil
}

// handleInsufficientFunds advances the failure state machine. Exactly one
// grace period is granted: active buckets get a retry window, grace buckets
// are suspended, suspended buckets are left alone.
func (s *Service) handleInsufficientFunds(ctx context.Context, b bucket.Bucket, now time.Time) error {
	switch b.Status {
	case bucket.StatusSuspended:
		metrics.ObserveCharge("skipped")
		return nil

	case bucket.StatusGrace:
		if err := s.buckets.MarkSuspended(ctx, b.ID); err != nil {
			return err
		}
		s.events.Notify(notify.Notification{
			UserID:  b.OwnerID,
			Type:    notify.TypeBucketSuspended,
			Title:   "Bucket suspended",
			Message: fmt.Sprintf("Bucket %q was suspended after a missed payment. Top up your balance and re-enable auto-renew to resume.", b.Name),
			Color:   "red",
		})
		metrics.ObserveCharge("suspended")
		s.log.Warn("bucket suspended",
			zap.String("bucket_id", b.ID.String()),
			zap.String("bucket", b.Name))
		return nil

	default:
		retryAt := now.Add(s.grace)
		if err := s.buckets.MarkGrace(ctx, b.ID, retryAt); err != nil {
			return err
		}
		s.events.Notify(notify.Notification{
			UserID:  b.OwnerID,
			Type:    notify.TypePaymentPending,
			Title:   "Payment pending",
			Message: fmt.Sprintf("Not enough funds to renew bucket %q. We will retry on %s; after that the bucket is suspended.", b.Name, retryAt.Format("2006-01-02 15:04")),
			Color:   "yellow",
		})
		metrics.ObserveCharge("grace")
		return nil
	}
}
