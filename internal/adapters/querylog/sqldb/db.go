// Package sqldb wraps database/sql handles so every statement is recorded.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"3tcapital/telescope/internal/application/querylog"
)

// DB mirrors the context-aware method set of *sql.DB.
type DB struct {
	db     *sql.DB
	logger *querylog.Logger
}

// Wrap decorates db. A nil logger records nothing.
func Wrap(db *sql.DB, logger *querylog.Logger) *DB {
	return &DB{db: db, logger: logger}
}

// Unwrap returns the underlying handle.
func (d *DB) Unwrap() *sql.DB { return d.db }

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := d.db.ExecContext(ctx, query, args...)
	observe(ctx, d.logger, start, time.Since(start), query, args, execResult(res, err), err)
	return res, err
}

// QueryContext records the statement once the rows are drained or closed,
// with the row count and the scanned values as result.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		observe(ctx, d.logger, start, time.Since(start), query, args, "", err)
		return nil, err
	}
	return newRows(rows, newPending(ctx, d.logger, start, query, args)), nil
}

// QueryRowContext records the statement when the row is scanned.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	start := time.Now()
	row := d.db.QueryRowContext(ctx, query, args...)
	return newRow(row, newPending(ctx, d.logger, start, query, args))
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, logger: d.logger}, nil
}

func (d *DB) PingContext(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() error { return d.db.Close() }

// Tx mirrors *sql.Tx.
type Tx struct {
	tx     *sql.Tx
	logger *querylog.Logger
}

// Unwrap returns the underlying transaction.
func (t *Tx) Unwrap() *sql.Tx { return t.tx }

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, query, args...)
	observe(ctx, t.logger, start, time.Since(start), query, args, execResult(res, err), err)
	return res, err
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	start := time.Now()
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		observe(ctx, t.logger, start, time.Since(start), query, args, "", err)
		return nil, err
	}
	return newRows(rows, newPending(ctx, t.logger, start, query, args)), nil
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	start := time.Now()
	row := t.tx.QueryRowContext(ctx, query, args...)
	return newRow(row, newPending(ctx, t.logger, start, query, args))
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func observe(ctx context.Context, l *querylog.Logger, start time.Time, took time.Duration, query string, args []any, result string, err error) {
	if !l.Enabled() {
		return
	}
	l.Observe(ctx, querylog.Observation{
		Method:     querylog.Verb(query),
		Query:      querylog.Statement(query, args),
		Collection: querylog.Collection(query),
		Start:      start,
		Duration:   took,
		Result:     result,
		Err:        err,
	})
}

func execResult(res sql.Result, err error) string {
	if err != nil || res == nil {
		return ""
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d rows affected", n)
}
