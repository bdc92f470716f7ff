// Package storage provides the key/value store the sync engine persists
// its state into. The engine only ever sees the Store interface; backends
// are selected through config.StateStorage.
package storage

import (
	"context"
	"errors"
	"fmt"

	"offsync/internal/config"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key/value store with read-your-writes consistency
// within a single process. Set must not return before the value is durable.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	GetBatch(ctx context.Context, keys []string) (map[string][]byte, error)
	SetBatch(ctx context.Context, values map[string][]byte) error

	Clear(ctx context.Context) error
	ListKeys(ctx context.Context) ([]string, error)

	Close() error
}

// NewStore opens the backend named by cfg.Type.
func NewStore(cfg config.StateStorage) (Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		return NewSQLiteStore(cfg.FilePath)
	case "mysql":
		return NewMySQLStore(cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state storage type %q", cfg.Type)
	}
}
