package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// openRepository connects for the one-shot management commands. The caller
// closes the pool.
func openRepository(ctx context.Context, cfg config.Config) (*pgxpool.Pool, *postgres.Repository, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(connectCtx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, repo, nil
}
