// Package pgxtrace records queries issued through a pgx connection.
package pgxtrace

import (
	"context"
	"time"

	"3tcapital/telescope/internal/application/querylog"

	"github.com/jackc/pgx/v5"
)

type traceKey struct{}

type trace struct {
	sql   string
	args  []any
	start time.Time
}

// Tracer implements pgx.QueryTracer. Install it on the host's pool with
// pgxpool.Config.ConnConfig.Tracer.
type Tracer struct {
	logger *querylog.Logger
	now    func() time.Time
}

// New returns a tracer reporting to logger.
func New(logger *querylog.Logger) *Tracer {
	return &Tracer{logger: logger, now: time.Now}
}

var _ pgx.QueryTracer = (*Tracer)(nil)

func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if !t.logger.Enabled() {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, &trace{sql: data.SQL, args: data.Args, start: t.now()})
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	tr, ok := ctx.Value(traceKey{}).(*trace)
	if !ok {
		return
	}

	t.logger.Observe(ctx, querylog.Observation{
		Method:     querylog.Verb(tr.sql),
		Query:      querylog.Statement(tr.sql, tr.args),
		Collection: querylog.Collection(tr.sql),
		Start:      tr.start,
		Duration:   t.now().Sub(tr.start),
		Result:     data.CommandTag.String(),
		Err:        data.Err,
	})
}
