package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileCache(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is empty", func(t *testing.T) {
		c := NewFileCache(filepath.Join(t.TempDir(), "cache.json"), zap.NewNop())

		values, err := c.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("put creates directories and survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "cache.json")
		c := NewFileCache(path, zap.NewNop())

		require.NoError(t, c.Put(ctx, "holiday_mode", "mode_1"))
		require.NoError(t, c.Put(ctx, "sleep_mode_duration", "4"))
		require.NoError(t, c.Put(ctx, "holiday_mode", "off"))

		reopened := NewFileCache(path, zap.NewNop())
		values, err := reopened.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"holiday_mode":        "off",
			"sleep_mode_duration": "4",
		}, values)

		leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("corrupt file is treated as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

		c := NewFileCache(path, zap.NewNop())
		values, err := c.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, values)

		require.NoError(t, c.Put(ctx, "flow_estimation", "on"))
		values, err = c.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"flow_estimation": "on"}, values)
	})
}

func TestPendingMigrations(t *testing.T) {
	all := pendingMigrations(nil)
	require.NotEmpty(t, all)
	assert.Equal(t, "write_only_values", all[0].name)

	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].version, migrations[i-1].version)
	}

	var applied []int
	for _, m := range migrations {
		applied = append(applied, m.version)
	}
	assert.Empty(t, pendingMigrations(applied))
	assert.Len(t, pendingMigrations(applied[:len(applied)-1]), 1)
}
