package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Cache keeps the last written label of registers that cannot be read back.
type Cache interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Put(ctx context.Context, key, label string) error
}

// FileCache stores the cache as one flat JSON object.
// A missing or unreadable file is treated as an empty cache.
type FileCache struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

func NewFileCache(path string, logger *zap.Logger) *FileCache {
	return &FileCache{path: path, logger: logger}
}

func (f *FileCache) Path() string {
	return f.path
}

func (f *FileCache) GetAll(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.load(), nil
}

func (f *FileCache) Put(ctx context.Context, key, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values := f.load()
	values[key] = label

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	return nil
}

func (f *FileCache) load() map[string]string {
	values := make(map[string]string)

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values
	}
	if err != nil {
		f.logger.Warn("Cache file unreadable, starting empty", zap.String("path", f.path), zap.Error(err))
		return values
	}

	if err := json.Unmarshal(data, &values); err != nil {
		f.logger.Warn("Cache file corrupted, starting empty", zap.String("path", f.path), zap.Error(err))
		return make(map[string]string)
	}

	return values
}
