// Package storage provides the durable key/value store that survives client restarts.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Store is a string key/value store. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Open returns the store for backend rooted at path. For sqlite, path is the database
// file; for file, the JSON document; memory ignores path.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case BackendSQLite, "":
		return NewSQLiteStore(path)
	case BackendFile:
		return NewFileStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// DefaultPath returns the conventional location of backend's data under dir.
func DefaultPath(dir, backend string) string {
	switch strings.ToLower(backend) {
	case BackendFile:
		return filepath.Join(dir, "state.json")
	default:
		return filepath.Join(dir, "state.db")
	}
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	return nil
}
