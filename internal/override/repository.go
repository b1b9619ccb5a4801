package override

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gapt-edu/gapt/internal/shared"
)

// PGRepository stores requests in override_requests.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, requester_id, requester_name, department, day, admin_approved, dean_approved, hod_approved, created_at`

// LoadRequests returns every request that still lacks an approval.
func (r *PGRepository) LoadRequests(ctx context.Context) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM override_requests
WHERE NOT (admin_approved AND dean_approved AND hod_approved)
ORDER BY day, created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRequest)
}

// GetRequest loads one request.
func (r *PGRepository) GetRequest(ctx context.Context, requesterID string, day shared.Day) (Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM override_requests WHERE requester_id = $1 AND day = $2`,
		requesterID, day.Time())
	if err != nil {
		return Request{}, err
	}
	req, err := pgx.CollectExactlyOneRow(rows, scanRequest)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrRequestNotFound
	}
	return req, err
}

// UpsertRequest inserts req or ORs its flags into the stored row. Identity
// columns of an existing row are kept.
func (r *PGRepository) UpsertRequest(ctx context.Context, req Request) (Request, error) {
	rows, err := r.pool.Query(ctx, `INSERT INTO override_requests (`+requestColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (requester_id, day) DO UPDATE SET
	admin_approved = override_requests.admin_approved OR EXCLUDED.admin_approved,
	dean_approved = override_requests.dean_approved OR EXCLUDED.dean_approved,
	hod_approved = override_requests.hod_approved OR EXCLUDED.hod_approved
RETURNING `+requestColumns,
		req.ID, req.RequesterID, req.RequesterName, req.Department, req.Day.Time(),
		req.AdminApproved, req.DeanApproved, req.HODApproved, req.CreatedAt)
	if err != nil {
		return Request{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanRequest)
}

func scanRequest(row pgx.CollectableRow) (Request, error) {
	var (
		req Request
		day time.Time
	)
	err := row.Scan(&req.ID, &req.RequesterID, &req.RequesterName, &req.Department, &day,
		&req.AdminApproved, &req.DeanApproved, &req.HODApproved, &req.CreatedAt)
	if err != nil {
		return Request{}, err
	}
	req.Day = shared.DayOf(day)
	return req, nil
}

var _ Repository = (*PGRepository)(nil)
