// Package store holds the reading stores: a retention-bounded in-memory store and
// a durable SQLite store. Both satisfy telemetry.Store.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// ReadingStore is a telemetry.Store that owns resources.
type ReadingStore interface {
	telemetry.Store
	Close() error
}

var (
	_ ReadingStore = (*MemoryStore)(nil)
	_ ReadingStore = (*SQLiteStore)(nil)
)

// Options selects and configures a store implementation.
type Options struct {
	Driver     string
	SQLitePath string

	// Retention, applied by the memory store only.
	MaxHistory int
	MaxAge     time.Duration
}

// Open builds the store selected by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (ReadingStore, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryStore(opts.MaxHistory, opts.MaxAge), nil
	case DriverSQLite:
		return OpenSQLite(ctx, opts.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
