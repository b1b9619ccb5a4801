package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, name, password_hash, role, grade, department, COALESCE(mentor_id, ''), is_active, created_at, updated_at`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, email)
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PGRepository) findOne(ctx context.Context, query string, arg string) (*User, error) {
	var (
		u        User
		rawRole  string
		rawGrade string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &rawRole, &rawGrade,
		&u.Department, &u.MentorID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if err := decodeRole(&u, rawRole, rawGrade); err != nil {
		return nil, err
	}
	return &u, nil
}

// decodeRole accepts either a plain role or a staff grade in the role column.
func decodeRole(u *User, rawRole, rawGrade string) error {
	role, grade, err := access.ParseRole(rawRole)
	if err != nil {
		return fmt.Errorf("auth: user %s: %w", u.ID, err)
	}
	if grade == access.GradeNone && rawGrade != "" {
		if _, g, err := access.ParseRole(rawGrade); err == nil {
			grade = g
		}
	}
	u.Role = role
	u.Grade = grade
	return nil
}

var _ Repository = (*PGRepository)(nil)
