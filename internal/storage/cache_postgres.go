package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PostgresCache keeps write-only values in the write_only_values table.
type PostgresCache struct {
	client *PostgresClient
	logger *zap.Logger
}

// NewPostgresCache expects the schema from NewPostgresClient.
func NewPostgresCache(client *PostgresClient, logger *zap.Logger) *PostgresCache {
	return &PostgresCache{client: client, logger: logger}
}

// GetAll treats query failures as an empty cache.
func (c *PostgresCache) GetAll(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string)

	rows, err := c.client.pool.Query(ctx, `
		SELECT translation_key, label
		FROM write_only_values
	`)
	if err != nil {
		c.logger.Warn("Failed to load write-only values, starting empty", zap.Error(err))
		return values, nil
	}
	defer rows.Close()

	for rows.Next() {
		var key, label string
		if err := rows.Scan(&key, &label); err != nil {
			c.logger.Warn("Skipping unreadable write-only value", zap.Error(err))
			continue
		}
		values[key] = label
	}

	if err := rows.Err(); err != nil {
		c.logger.Warn("Failed to iterate write-only values", zap.Error(err))
	}

	return values, nil
}

func (c *PostgresCache) Put(ctx context.Context, key, label string) error {
	_, err := c.client.pool.Exec(ctx, `
		INSERT INTO write_only_values (translation_key, label, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (translation_key) DO UPDATE
		SET label = EXCLUDED.label, updated_at = NOW()
	`, key, label)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}
