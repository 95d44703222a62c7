package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"3tcapital/telescope/internal/application/querylog"
)

// pending is a read statement whose observation waits for its results.
type pending struct {
	ctx    context.Context
	logger *querylog.Logger
	start  time.Time
	took   time.Duration
	query  string
	args   []any

	once  sync.Once
	count int
	size  int
	rows  []json.RawMessage
}

func newPending(ctx context.Context, l *querylog.Logger, start time.Time, query string, args []any) *pending {
	return &pending{ctx: ctx, logger: l, start: start, took: time.Since(start), query: query, args: args}
}

// scanned keeps the destination values of one row until the serialized
// rows reach the result limit. Later rows are only counted.
func (p *pending) scanned(dest []any) {
	p.count++
	if !p.logger.Enabled() || p.size >= p.logger.ResultLimit() {
		return
	}
	b, err := json.Marshal(dest)
	if err != nil {
		return
	}
	p.rows = append(p.rows, b)
	p.size += len(b)
}

func (p *pending) finish(err error) {
	p.once.Do(func() {
		result := ""
		if err == nil {
			result = p.result()
		}
		observe(p.ctx, p.logger, p.start, p.took, p.query, p.args, result, err)
	})
}

func (p *pending) result() string {
	var b strings.Builder
	b.WriteString(`{"rowCount":`)
	b.WriteString(strconv.Itoa(p.count))
	b.WriteString(`,"rows":[`)
	for i, row := range p.rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(row)
	}
	b.WriteString("]}")
	return b.String()
}

// Rows wraps *sql.Rows. The statement is recorded when iteration ends or
// the rows are closed, whichever comes first.
type Rows struct {
	*sql.Rows
	p       *pending
	scanned bool
}

func newRows(rows *sql.Rows, p *pending) *Rows {
	return &Rows{Rows: rows, p: p}
}

func (r *Rows) Next() bool {
	if r.Rows.Next() {
		r.scanned = false
		return true
	}
	r.p.finish(r.Rows.Err())
	return false
}

func (r *Rows) Scan(dest ...any) error {
	if err := r.Rows.Scan(dest...); err != nil {
		return err
	}
	if !r.scanned {
		r.scanned = true
		r.p.scanned(dest)
	}
	return nil
}

func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.p.finish(r.Rows.Err())
	return err
}

// Unwrap returns the underlying rows.
func (r *Rows) Unwrap() *sql.Rows { return r.Rows }

// Row wraps *sql.Row. The statement is recorded on Scan.
type Row struct {
	row *sql.Row
	p   *pending
}

func newRow(row *sql.Row, p *pending) *Row {
	return &Row{row: row, p: p}
}

// Scan copies the row into dest. sql.ErrNoRows is recorded as an empty
// result, not as a failure.
func (r *Row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	switch {
	case err == nil:
		r.p.scanned(dest)
		r.p.finish(nil)
	case errors.Is(err, sql.ErrNoRows):
		r.p.finish(nil)
	default:
		r.p.finish(err)
	}
	return err
}

func (r *Row) Err() error {
	err := r.row.Err()
	if err != nil {
		r.p.finish(err)
	}
	return err
}
