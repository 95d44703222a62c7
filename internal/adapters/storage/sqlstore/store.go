// Package sqlstore stores entries in MySQL or SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"3tcapital/telescope/internal/adapters/storage/relational"
	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/database"
	"3tcapital/telescope/internal/infrastructure/logger"
)

// Store implements entry.Storage on a database/sql handle.
type Store struct {
	cfg     database.SQLConfig
	dialect relational.Dialect
	events  *entry.Broadcaster
	log     *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	db       *sql.DB
	owned    bool
	migrated bool
}

// New creates a store that opens cfg.DSN with cfg.Driver on Connect.
func New(cfg database.SQLConfig, log *slog.Logger) (*Store, error) {
	dialect, err := relational.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if dialect == relational.Postgres {
		return nil, fmt.Errorf("use the postgres store for %q", cfg.Driver)
	}
	cfg.Driver = dialect.Name

	log = logger.Component(log, "storage."+dialect.Name)
	return &Store{
		cfg:     cfg,
		dialect: dialect,
		events:  entry.NewBroadcaster(log),
		log:     log,
		now:     time.Now,
		owned:   true,
	}, nil
}

// NewWithDB creates a store on an open handle. Close leaves db open.
func NewWithDB(db *sql.DB, dialect relational.Dialect, log *slog.Logger) *Store {
	log = logger.Component(log, "storage."+dialect.Name)
	return &Store{
		dialect: dialect,
		events:  entry.NewBroadcaster(log),
		log:     log,
		now:     time.Now,
		db:      db,
	}
}

// Connect opens the handle when needed and applies the migrations once.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		db, err := database.OpenSQL(ctx, s.cfg)
		if err != nil {
			return fmt.Errorf("connect %s storage: %w", s.dialect.Name, err)
		}
		s.db = db
	}

	if !s.migrated {
		if err := database.RunSQLMigrations(ctx, s.db, s.dialect.Name, s.log); err != nil {
			return fmt.Errorf("migrate %s storage: %w", s.dialect.Name, err)
		}
		s.migrated = true
	}
	return nil
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil || !s.migrated {
		return nil, entry.ErrNotConnected
	}
	return s.db, nil
}

func (s *Store) StoreEntry(ctx context.Context, e *entry.Entry) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}
	if err := entry.Prepare(e, s.now()); err != nil {
		return "", err
	}

	if err := s.insert(ctx, db, e); err != nil {
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

func (s *Store) insert(ctx context.Context, db *sql.DB, e *entry.Entry) error {
	stmts, err := s.dialect.InsertStatements(e)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return fmt.Errorf("insert %s entry: %w", e.Type, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*entry.Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if !entry.ValidID(id) {
		return nil, nil
	}

	var row relational.Row
	if err := db.QueryRowContext(ctx, s.dialect.BaseQuery(), id).Scan(row.BaseDest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}

	t := entry.Type(row.Type)
	query, err := s.dialect.ChildQuery(t)
	if err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, query, id).Scan(row.ChildDest(t)...); err != nil {
		return nil, fmt.Errorf("get %s row of entry %s: %w", t, id, err)
	}

	e, err := row.Entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEntries(ctx context.Context, opts entry.ListOptions) (*entry.Page, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	q, err := s.dialect.ListQuery(opts)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := db.QueryRowContext(ctx, q.CountSQL, q.CountArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	entries, err := s.list(ctx, db, q.SQL, q.Args)
	if err != nil {
		return nil, err
	}
	return entry.NewPage(entries, total, q.Normalized), nil
}

func (s *Store) GetRecentEntries(ctx context.Context, limit int, t entry.Type) ([]entry.Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = entry.DefaultPerPage
	}

	query, args := s.dialect.RecentQuery(limit, t)
	return s.list(ctx, db, query, args)
}

func (s *Store) list(ctx context.Context, db *sql.DB, query string, args []any) ([]entry.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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

func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	for _, stmt := range s.dialect.PruneStatements(s.now().Add(-maxAge)) {
		res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return 0, fmt.Errorf("prune entries: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return 0, fmt.Errorf("prune entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return removed, nil
}

func (s *Store) Subscribe(buffer int) *entry.Subscription {
	return s.events.Subscribe(buffer)
}

func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close releases the handle when the store opened it.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || !s.owned {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.migrated = false
	return err
}

// Ensure Store implements entry.Storage interface.
var _ entry.Storage = (*Store)(nil)
