package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"catalog-showcase/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// DSN builds a postgres connection string from the configuration
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Schema)
}

// New opens a connection pool and verifies it with a ping
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// SQLDB exposes the pool through database/sql for goose
func SQLDB(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// Health reports basic pool statistics
func Health(ctx context.Context, pool *pgxpool.Pool) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	s := pool.Stat()
	stats["status"] = "up"
	stats["total_conns"] = fmt.Sprintf("%d", s.TotalConns())
	stats["idle_conns"] = fmt.Sprintf("%d", s.IdleConns())
	stats["acquired_conns"] = fmt.Sprintf("%d", s.AcquiredConns())
	return stats
}
