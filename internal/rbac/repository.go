package rbac

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gapt-edu/gapt/internal/access"
)

// PGRepository stores matrix cells in access_matrix.
type PGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *PGRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGRepository{pool: pool, logger: logger}
}

// LoadMatrix returns every stored cell. Rows naming unknown roles, features or
// levels are skipped and logged.
func (r *PGRepository) LoadMatrix(ctx context.Context) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, feature, level FROM access_matrix ORDER BY role, feature`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var rawRole, rawFeature, rawLevel string
		if err := rows.Scan(&rawRole, &rawFeature, &rawLevel); err != nil {
			return nil, err
		}
		g, err := parseGrant(rawRole, rawFeature, rawLevel)
		if err != nil {
			r.logger.Warn("skip access_matrix row", slog.String("role", rawRole), slog.String("feature", rawFeature), slog.Any("error", err))
			continue
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// SaveMatrixCell upserts one cell.
func (r *PGRepository) SaveMatrixCell(ctx context.Context, g Grant) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO access_matrix (role, feature, level, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (role, feature) DO UPDATE SET level = EXCLUDED.level, updated_at = EXCLUDED.updated_at`,
		g.Role.String(), g.Feature.String(), g.Level.String())
	return err
}

func parseGrant(rawRole, rawFeature, rawLevel string) (Grant, error) {
	role, _, err := access.ParseRole(rawRole)
	if err != nil {
		return Grant{}, err
	}
	feature, err := access.ParseFeature(rawFeature)
	if err != nil {
		return Grant{}, err
	}
	level, err := access.ParseLevel(rawLevel)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Role: role, Feature: feature, Level: level}, nil
}

var _ Repository = (*PGRepository)(nil)
