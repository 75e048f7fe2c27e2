package state

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

// Backend names accepted by New.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// New creates a RunStore for the configured backend. For json the path
// is a directory holding one file per run; for sqlite it is the
// database file.
func New(backend, path string) (core.RunStore, error) {
	switch backend {
	case BackendJSON:
		return NewJSONStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, core.ErrValidation("UNKNOWN_BACKEND",
			fmt.Sprintf("unknown state backend %q (want json or sqlite)", backend))
	}
}

// Closeable is an optional interface for stores that need cleanup.
type Closeable interface {
	Close() error
}

// Close safely closes a store if it implements Closeable.
func Close(store core.RunStore) error {
	if c, ok := store.(Closeable); ok {
		return c.Close()
	}
	return nil
}
