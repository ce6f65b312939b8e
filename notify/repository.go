package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotificationNotFound is returned when no notification row matches.
var ErrNotificationNotFound = errors.New("notify: notification not found")

// PGRepository is the Postgres-backed notification store.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertParams enumerates the fields of a new notification.
type InsertParams struct {
	UserID        string
	Type          string
	Title         string
	Message       string
	ReferenceID   string
	ReferenceType string
}

// InsertTx writes a notification row inside the dispatcher's transaction.
func (r *PGRepository) InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) error {
	if params.UserID == "" {
		return fmt.Errorf("notify: user id required")
	}

	var refID, refType any
	if params.ReferenceID != "" {
		refID = params.ReferenceID
	}
	if params.ReferenceType != "" {
		refType = params.ReferenceType
	}

	const q = `
INSERT INTO notifications (user_id, type, title, message, reference_id, reference_type)
VALUES ($1, $2, $3, $4, $5::uuid, $6)
`
	if _, err := tx.Exec(ctx, q, params.UserID, params.Type, params.Title, params.Message, refID, refType); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// ListForUser returns the newest notifications for a user.
func (r *PGRepository) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const q = `
SELECT id::text, user_id::text, type, title, message, reference_id::text, reference_type, read_at, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
			&n.ReferenceID, &n.ReferenceType, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return out, nil
}

// MarkRead stamps a notification as read, once.
func (r *PGRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE notifications
SET read_at = COALESCE(read_at, now())
WHERE id = $1 AND user_id = $2
`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
