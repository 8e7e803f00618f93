package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

// Repository persists notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a notification repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new notification.
func (r *Repository) Insert(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO notifications (id, user_id, type, title, message, color)
VALUES ($1, $2, $3, $4, $5, $6);`

	if _, err := r.pool.Exec(ctx, query, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Color); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// List returns the user's notifications, newest first.
func (r *Repository) List(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
SELECT id, user_id, type, title, message, color, read, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Color, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead flags a notification as read, scoped to the owner.
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2;`,
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
