package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gapt-edu/gapt/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Append inserts a notification.
func (r *PGRepository) Append(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO notifications (id, user_id, message, kind, created_at, read)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)`, n.ID, n.UserID, n.Message, string(n.Kind), n.CreatedAt, n.Read)
	return shared.StorageError("append notification", err)
}

// ListFor returns own and broadcast notifications.
func (r *PGRepository) ListFor(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(user_id, ''), message, kind, created_at, read
FROM notifications WHERE user_id IS NULL OR user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, shared.StorageError("list notifications", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		var kind string
		if err := row.Scan(&n.ID, &n.UserID, &n.Message, &kind, &n.CreatedAt, &n.Read); err != nil {
			return Notification{}, err
		}
		n.Kind = Kind(kind)
		return n, nil
	})
	if err != nil {
		return nil, shared.StorageError("scan notifications", err)
	}
	return out, nil
}

// ClearFor deletes the user's own notifications.
func (r *PGRepository) ClearFor(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, shared.StorageError("clear notifications", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)

// Prune deletes notifications created before the cutoff.
func (r *PGRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, before)
	if err != nil {
		return 0, shared.StorageError("prune notifications", err)
	}
	return tag.RowsAffected(), nil
}
