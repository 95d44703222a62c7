package testutil

import (
	"context"
	"sync"
	"time"

	"3tcapital/telescope/internal/core/entry"
)

// MockStorage is a Func-field implementation of entry.Storage. Unset
// functions fall back to benign defaults; StoreEntry assigns an id and
// publishes like a real backend.
type MockStorage struct {
	ConnectFunc          func(ctx context.Context) error
	StoreEntryFunc       func(ctx context.Context, e *entry.Entry) (string, error)
	GetEntryFunc         func(ctx context.Context, id string) (*entry.Entry, error)
	GetEntriesFunc       func(ctx context.Context, opts entry.ListOptions) (*entry.Page, error)
	GetRecentEntriesFunc func(ctx context.Context, limit int, t entry.Type) ([]entry.Entry, error)
	PruneFunc            func(ctx context.Context, maxAge time.Duration) (int64, error)
	PingFunc             func(ctx context.Context) error

	Events *entry.Broadcaster

	mu     sync.Mutex
	stored []entry.Entry
}

// NewMockStorage returns a mock with its own broadcaster.
func NewMockStorage() *MockStorage {
	return &MockStorage{Events: entry.NewBroadcaster(nil)}
}

func (m *MockStorage) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

func (m *MockStorage) StoreEntry(ctx context.Context, e *entry.Entry) (string, error) {
	if m.StoreEntryFunc != nil {
		return m.StoreEntryFunc(ctx, e)
	}
	if err := entry.Prepare(e, time.Now()); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.stored = append(m.stored, *e)
	m.mu.Unlock()
	if m.Events != nil {
		m.Events.Publish(*e)
	}
	return e.ID, nil
}

func (m *MockStorage) GetEntry(ctx context.Context, id string) (*entry.Entry, error) {
	if m.GetEntryFunc != nil {
		return m.GetEntryFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.stored {
		if m.stored[i].ID == id {
			e := m.stored[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *MockStorage) GetEntries(ctx context.Context, opts entry.ListOptions) (*entry.Page, error) {
	if m.GetEntriesFunc != nil {
		return m.GetEntriesFunc(ctx, opts)
	}
	return entry.NewPage(nil, 0, opts.Normalize()), nil
}

func (m *MockStorage) GetRecentEntries(ctx context.Context, limit int, t entry.Type) ([]entry.Entry, error) {
	if m.GetRecentEntriesFunc != nil {
		return m.GetRecentEntriesFunc(ctx, limit, t)
	}
	return []entry.Entry{}, nil
}

func (m *MockStorage) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if m.PruneFunc != nil {
		return m.PruneFunc(ctx, maxAge)
	}
	return 0, nil
}

func (m *MockStorage) Subscribe(buffer int) *entry.Subscription {
	if m.Events == nil {
		m.Events = entry.NewBroadcaster(nil)
	}
	return m.Events.Subscribe(buffer)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockStorage) Close(context.Context) error { return nil }

// Stored returns a copy of the entries stored through the default StoreEntry.
func (m *MockStorage) Stored() []entry.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entry.Entry(nil), m.stored...)
}

// Ensure MockStorage implements entry.Storage interface.
var _ entry.Storage = (*MockStorage)(nil)

// RecordingSink collects entries handed to a capture path.
type RecordingSink struct {
	mu      sync.Mutex
	entries []*entry.Entry
	Reject  bool
}

// Record stores e and reports acceptance, mirroring recorder.Recorder.
func (s *RecordingSink) Record(e *entry.Entry) bool {
	if s.Reject {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return true
}

// Entries returns a snapshot of the recorded entries.
func (s *RecordingSink) Entries() []*entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*entry.Entry(nil), s.entries...)
}
