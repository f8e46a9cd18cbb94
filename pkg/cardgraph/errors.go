package cardgraph

import (
	"errors"
	"fmt"
)

var (
	ErrStoreLocked           = errors.New("store is locked")
	ErrStoreCorrupted        = errors.New("store is corrupted")
	ErrSchemaMissing         = errors.New("schema missing")
	ErrMalformedRecord       = errors.New("malformed record")
	ErrInvalidTemporalBucket = errors.New("invalid temporal bucket")
	ErrEmptyDeck             = errors.New("deck has no cards")
)

// StoreError is returned by persistence backends for whole-store failures.
type StoreError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	if hint := e.Hint(); hint != "" {
		msg += " (" + hint + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Hint names the likely cause and the remedy for the failure kind.
func (e *StoreError) Hint() string {
	switch e.Kind {
	case ErrStoreLocked:
		return "another process may be writing; retry after it finishes"
	case ErrStoreCorrupted:
		return "restore from a snapshot or rebuild the graph from decks"
	case ErrSchemaMissing:
		return "schema will be re-initialized"
	default:
		return ""
	}
}

// IsRetryable reports whether the operation may succeed if repeated later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreLocked)
}
