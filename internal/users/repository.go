package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const memberColumns = `id, email, name, role, grade, department, COALESCE(mentor_id, ''), is_active, created_at`

// ListMembers returns all members. Rows with unknown roles are skipped.
func (r *Repository) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+memberColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if errors.Is(err, access.ErrUnknownRole) {
			continue
		}
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

// GetMember returns one member.
func (r *Repository) GetMember(ctx context.Context, id string) (Member, error) {
	m, err := scanMember(r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, shared.ErrNotFound
	}
	return m, err
}

// SetActive updates the member's status.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetMentor links the member to mentorID.
func (r *Repository) SetMentor(ctx context.Context, id, mentorID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET mentor_id = $2, updated_at = NOW() WHERE id = $1`, id, mentorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanMember(row pgx.Row) (Member, error) {
	var (
		m        Member
		rawRole  string
		rawGrade string
	)
	if err := row.Scan(&m.ID, &m.Email, &m.Name, &rawRole, &rawGrade, &m.Department, &m.MentorID, &m.IsActive, &m.CreatedAt); err != nil {
		return Member{}, err
	}
	role, grade, err := access.ParseRole(rawRole)
	if err != nil {
		return Member{}, err
	}
	m.Role = role
	m.Grade = grade
	if m.Grade == access.GradeNone && rawGrade != "" {
		if _, g, err := access.ParseRole(rawGrade); err == nil {
			m.Grade = g
		}
	}
	return m, nil
}

var _ RepositoryPort = (*Repository)(nil)
