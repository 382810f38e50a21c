package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version int
	name    string
	sql     string
}

// Schema steps, applied in order. Never edit a released step, append a new one.
var migrations = []migration{
	{
		version: 1,
		name:    "write_only_values",
		sql: `
			CREATE TABLE IF NOT EXISTS write_only_values (
				translation_key TEXT PRIMARY KEY,
				label           TEXT NOT NULL,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
}

// PostgresClient owns the pool backing the write-only value store.
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient connects and brings the schema up to date.
func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	// ein Softener braucht keine großen Pools
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &PostgresClient{pool: pool}
	if err := client.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return client, nil
}

func (p *PostgresClient) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	rows, err := p.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range pendingMigrations(applied) {
		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

func pendingMigrations(applied []int) []migration {
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var pending []migration
	for _, m := range migrations {
		if !done[m.version] {
			pending = append(pending, m)
		}
	}
	return pending
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}
