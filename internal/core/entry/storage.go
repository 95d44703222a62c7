package entry

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by backends used before Connect succeeded.
var ErrNotConnected = errors.New("storage not connected")

// Storage defines the contract every backend satisfies.
type Storage interface {
	// Connect establishes connectivity and ensures the schema exists.
	// It is idempotent and returns an error when the backend is unreachable.
	Connect(ctx context.Context) error

	// StoreEntry assigns an id, persists e atomically and, once committed,
	// publishes the stored entry to subscribers. It returns the new id.
	StoreEntry(ctx context.Context, e *Entry) (string, error)

	// GetEntry returns the entry with the given id, or nil when none exists.
	GetEntry(ctx context.Context, id string) (*Entry, error)

	// GetEntries returns one page of entries matching opts.
	GetEntries(ctx context.Context, opts ListOptions) (*Page, error)

	// GetRecentEntries returns up to limit newest entries, optionally of one type.
	GetRecentEntries(ctx context.Context, limit int, t Type) ([]Entry, error)

	// Prune deletes entries older than maxAge and reports how many were removed.
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)

	// Subscribe registers a listener for newly stored entries.
	Subscribe(buffer int) *Subscription

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Reader is the read side of Storage used by the dashboard.
type Reader interface {
	GetEntry(ctx context.Context, id string) (*Entry, error)
	GetEntries(ctx context.Context, opts ListOptions) (*Page, error)
	GetRecentEntries(ctx context.Context, limit int, t Type) ([]Entry, error)
}

// Writer is the write side of Storage used by capture paths.
type Writer interface {
	StoreEntry(ctx context.Context, e *Entry) (string, error)
}
