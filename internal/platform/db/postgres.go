// Package db opens the PostgreSQL pool and applies the embedded schema.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes the pool. Zero values keep the pgxpool defaults.
type Options struct {
	MaxConns       int32
	ConnectTimeout time.Duration
}

// New creates a PostgreSQL connection pool and verifies it answers.
func New(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	pingCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	if logger != nil {
		logger.Info("postgres pool ready",
			slog.String("host", config.ConnConfig.Host),
			slog.String("database", config.ConnConfig.Database),
			slog.Int("max_conns", int(config.MaxConns)),
		)
	}
	return pool, nil
}
