// Package db builds database connection pools for federated sources.
package db

import (
	"context"

	"github.com/exaring/otelpgx"
	"github.com/flanksource/commons/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPgxPool creates a pgx connection pool with OpenTelemetry tracing.
func NewPgxPool(ctx context.Context, connection string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connection)
	if err != nil {
		return nil, err
	}

	config.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithIncludeQueryParameters(),
		otelpgx.WithTrimSQLInSpanName(),
		otelpgx.WithSpanNameFunc(func(stmt string) string {
			maxL := 80
			if len(stmt) < maxL {
				maxL = len(stmt)
			}
			return stmt[:maxL]
		}),
	)

	// prevent deadlocks from concurrent queries
	if config.MaxConns < 20 {
		config.MaxConns = 20
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Infof("Initialized DB: %s/%s", config.ConnConfig.Host, config.ConnConfig.Database)
	return pool, nil
}
