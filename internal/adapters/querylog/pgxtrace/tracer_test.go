package pgxtrace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"3tcapital/telescope/internal/application/querylog"
	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/testutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTracer_RecordsQuery(t *testing.T) {
	sink := &testutil.RecordingSink{}
	tracer := New(querylog.New(sink, querylog.Config{Watch: true}, testutil.NewNullLogger()))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tracer.now = func() time.Time { return now }

	ctx := ctxutil.WithRequestID(context.Background(), "req-pg")
	ctx = tracer.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{
		SQL:  "SELECT id, name FROM users WHERE id = $1",
		Args: []any{7},
	})
	now = now.Add(15 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	q := entries[0].Data
	if q.Method != "SELECT" || q.Collection != "users" {
		t.Errorf("unexpected method/collection %q/%q", q.Method, q.Collection)
	}
	if q.RequestID != "req-pg" {
		t.Errorf("expected request id req-pg, got %q", q.RequestID)
	}
	if q.Duration != 15 {
		t.Errorf("expected 15ms, got %f", q.Duration)
	}
	if q.Result != "SELECT 1" {
		t.Errorf("unexpected result %q", q.Result)
	}
	if !strings.Contains(q.Query, `"values":[7]`) {
		t.Errorf("unexpected query %s", q.Query)
	}
	if !entries[0].Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp should be the query start, got %v", entries[0].Timestamp)
	}
}

func TestTracer_RecordsError(t *testing.T) {
	sink := &testutil.RecordingSink{}
	tracer := New(querylog.New(sink, querylog.Config{Watch: true}, testutil.NewNullLogger()))

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "INSERT INTO users (id) VALUES ($1)"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("duplicate key")})

	q := sink.Entries()[0].Data
	if q.Result != "error: duplicate key" || q.RequestID != "" {
		t.Errorf("unexpected query entry %+v", q)
	}
}

func TestTracer_Disabled(t *testing.T) {
	sink := &testutil.RecordingSink{}
	tracer := New(querylog.New(sink, querylog.Config{Watch: false}, testutil.NewNullLogger()))

	ctx := context.Background()
	if got := tracer.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"}); got != ctx {
		t.Error("disabled tracer must not decorate the context")
	}
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	if len(sink.Entries()) != 0 {
		t.Error("disabled tracer must not record")
	}
}
