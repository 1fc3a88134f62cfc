// Package storage defines the SQL mirror used by the persister: each source
// gets one table of TEXT columns plus a unique row_hash, and inserts are
// idempotent on that hash.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic mirror. Each backend implements
// idempotent inserts in its own dialect (Postgres ON CONFLICT, SQLite OR
// IGNORE, SQL Server NOT EXISTS).
type Repository interface {
	// EnsureTable creates the table if it does not exist. Safe on every run.
	EnsureTable(ctx context.Context, t TableSpec) error

	// InsertRows inserts rows aligned to t.Columns with their row hashes.
	// Rows whose hash already exists are skipped. Returns rows inserted.
	// Callers pass rows with distinct hashes.
	InsertRows(ctx context.Context, t TableSpec, rows [][]string, hashes []string) (int64, error)

	// Close releases connections. Call once.
	Close()
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under kind. Backends call it from init().
//
// Panics if kind is empty, f is nil or kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Kind, err)
	}
	return repo, nil
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
