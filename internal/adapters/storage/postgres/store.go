// Package postgres stores entries in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/telescope/internal/adapters/storage/relational"
	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/database"
	"3tcapital/telescope/internal/infrastructure/logger"
)

// Store implements entry.Storage on a pgx connection pool.
type Store struct {
	cfg     database.Config
	dialect relational.Dialect
	events  *entry.Broadcaster
	log     *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	pool     *pgxpool.Pool
	owned    bool
	migrated bool
}

// New creates a store that opens its own pool on Connect.
func New(cfg database.Config, log *slog.Logger) *Store {
	log = logger.Component(log, "storage.postgres")
	return &Store{
		cfg:     cfg,
		dialect: relational.Postgres,
		events:  entry.NewBroadcaster(log),
		log:     log,
		now:     time.Now,
		owned:   true,
	}
}

// NewWithPool creates a store on an existing pool. Close leaves the pool open.
func NewWithPool(pool *pgxpool.Pool, log *slog.Logger) *Store {
	s := New(database.Config{}, log)
	s.pool = pool
	s.owned = false
	return s
}

// Connect opens the pool when needed and applies the migrations once.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		pool, err := database.NewPool(ctx, s.cfg)
		if err != nil {
			return fmt.Errorf("connect postgres storage: %w", err)
		}
		s.pool = pool
	}

	if !s.migrated {
		if err := database.RunMigrations(ctx, s.pool, s.log); err != nil {
			return fmt.Errorf("migrate postgres storage: %w", err)
		}
		s.migrated = true
	}
	return nil
}

func (s *Store) conn() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil || !s.migrated {
		return nil, entry.ErrNotConnected
	}
	return s.pool, nil
}

// StoreEntry writes the base and child rows in one transaction and publishes
// the entry after commit.
func (s *Store) StoreEntry(ctx context.Context, e *entry.Entry) (string, error) {
	pool, err := s.conn()
	if err != nil {
		return "", err
	}
	if err := entry.Prepare(e, s.now()); err != nil {
		return "", err
	}

	if err := s.insert(ctx, pool, e); err != nil {
		s.log.Error("Failed to store entry",
			"type", e.Type,
			"request_id", e.RequestID(),
			"error", err,
		)
		e.ID = ""
		return "", err
	}

	s.events.Publish(*e)
	return e.ID, nil
}

func (s *Store) insert(ctx context.Context, pool *pgxpool.Pool, e *entry.Entry) error {
	stmts, err := s.dialect.InsertStatements(e)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
			return fmt.Errorf("insert %s entry: %w", e.Type, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetEntry returns nil, nil when no entry has the given id.
func (s *Store) GetEntry(ctx context.Context, id string) (*entry.Entry, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}
	if !entry.ValidID(id) {
		return nil, nil
	}

	var row relational.Row
	if err := pool.QueryRow(ctx, s.dialect.BaseQuery(), id).Scan(row.BaseDest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}

	t := entry.Type(row.Type)
	query, err := s.dialect.ChildQuery(t)
	if err != nil {
		return nil, err
	}
	if err := pool.QueryRow(ctx, query, id).Scan(row.ChildDest(t)...); err != nil {
		return nil, fmt.Errorf("get %s row of entry %s: %w", t, id, err)
	}

	e, err := row.Entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEntries(ctx context.Context, opts entry.ListOptions) (*entry.Page, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}

	q, err := s.dialect.ListQuery(opts)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := pool.QueryRow(ctx, q.CountSQL, q.CountArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	entries, err := s.list(ctx, pool, q.SQL, q.Args)
	if err != nil {
		return nil, err
	}
	return entry.NewPage(entries, total, q.Normalized), nil
}

func (s *Store) GetRecentEntries(ctx context.Context, limit int, t entry.Type) ([]entry.Entry, error) {
	pool, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = entry.DefaultPerPage
	}

	query, args := s.dialect.RecentQuery(limit, t)
	return s.list(ctx, pool, query, args)
}

func (s *Store) list(ctx context.Context, pool *pgxpool.Pool, query string, args []any) ([]entry.Entry, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []entry.Entry{}
	for rows.Next() {
		var row relational.Row
		if err := rows.Scan(row.JoinedDest()...); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e, err := row.Entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Prune removes entries older than maxAge with their child rows.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	pool, err := s.conn()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var removed int64
	for _, stmt := range s.dialect.PruneStatements(s.now().Add(-maxAge)) {
		tag, err := tx.Exec(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return 0, fmt.Errorf("prune entries: %w", err)
		}
		removed = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return removed, nil
}

func (s *Store) Subscribe(buffer int) *entry.Subscription {
	return s.events.Subscribe(buffer)
}

func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.conn()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close releases the pool when the store opened it.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil && s.owned {
		s.pool.Close()
		s.pool = nil
		s.migrated = false
	}
	return nil
}

// Ensure Store implements entry.Storage interface.
var _ entry.Storage = (*Store)(nil)
