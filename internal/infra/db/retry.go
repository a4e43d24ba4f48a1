package db

import (
	"context"
	"errors"

	"github.com/Alexander-D-Karpov/huddle/internal/retry"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewWithRetry opens the pool, retrying while Postgres comes up. Request-path
// storage failures are never retried; they surface to the caller untouched.
func NewWithRetry(ctx context.Context, cfg retry.Config, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry.WithBackoff(ctx, cfg, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return classify(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return classify(err)
		}
		pool = p
		return nil
	})
	return pool, err
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}
	return err
}
