package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/config"
)

// DB wraps the pgx pool shared by the repositories.
type DB struct {
	*pgxpool.Pool
}

// The engine's database load is a handful of scheduled tasks plus the
// mailbox sweep; connections idle most of the time. A short idle timeout
// returns them, lifetime rotation keeps a long-running daemon from pinning
// server-side state.
const (
	defaultMaxConns   = 10
	connLifetime      = time.Hour
	connIdleTimeout   = 5 * time.Minute
	healthCheckPeriod = time.Minute
)

// Connect opens and pings the engine's connection pool.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = defaultMaxConns
	}
	poolConfig.MaxConnLifetime = connLifetime
	poolConfig.MaxConnIdleTime = connIdleTimeout
	poolConfig.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database pool ready",
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolConfig.MaxConns))

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
