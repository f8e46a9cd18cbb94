package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/go-sqlite3"

	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// classify maps a backend error to one of the store-level kinds. Errors that
// match no kind are wrapped with the operation and path only.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var se *cardgraph.StoreError
	if errors.As(err, &se) {
		return err
	}

	kind := errorKind(err)
	if kind == nil {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return &cardgraph.StoreError{Kind: kind, Op: op, Path: path, Err: err}
}

func errorKind(err error) error {
	switch {
	case errors.Is(err, sqlite3.BUSY), errors.Is(err, sqlite3.LOCKED):
		return cardgraph.ErrStoreLocked
	case errors.Is(err, sqlite3.CORRUPT), errors.Is(err, sqlite3.NOTADB):
		return cardgraph.ErrStoreCorrupted
	}

	// wrapped or foreign errors only carry the message
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return cardgraph.ErrStoreLocked
	case strings.Contains(msg, "disk image is malformed"), strings.Contains(msg, "file is not a database"):
		return cardgraph.ErrStoreCorrupted
	case strings.Contains(msg, "no such table"):
		return cardgraph.ErrSchemaMissing
	}
	return nil
}

func kindLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, cardgraph.ErrStoreLocked):
		return "locked"
	case errors.Is(err, cardgraph.ErrStoreCorrupted):
		return "corrupted"
	case errors.Is(err, cardgraph.ErrSchemaMissing):
		return "schema_missing"
	default:
		return "other"
	}
}
