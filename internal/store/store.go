package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

const (
	BackendSQLite   = "sqlite"
	BackendSnapshot = "snapshot"

	DefaultChunkSize   = 50000
	DefaultBusyTimeout = 5 * time.Second
)

type Options struct {
	// Backend is BackendSQLite, BackendSnapshot, or empty to choose by file extension.
	Backend     string
	ChunkSize   int
	BusyTimeout time.Duration

	// ReadOnly opens the transactional store without migrating it, for
	// readers running next to a writer.
	ReadOnly bool
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:   DefaultChunkSize,
		BusyTimeout: DefaultBusyTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	return o
}

// ResolveBackend returns the backend used for path. An explicit name wins;
// otherwise .db, .sqlite and .sqlite3 files are transactional and anything
// else is a snapshot.
func ResolveBackend(path, name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case BackendSQLite:
		return BackendSQLite, nil
	case BackendSnapshot, "json":
		return BackendSnapshot, nil
	case "", "auto":
	default:
		return "", fmt.Errorf("unknown backend %q", name)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return BackendSQLite, nil
	default:
		return BackendSnapshot, nil
	}
}

// Open returns the backend for path. One path is always served by exactly
// one backend.
func Open(ctx context.Context, path string, opts Options) (cardgraph.Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}

	backend, err := ResolveBackend(path, opts.Backend)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendSQLite:
		return OpenSQLite(ctx, path, opts)
	default:
		return NewSnapshot(path), nil
	}
}
