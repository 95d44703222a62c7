package mongomonitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"3tcapital/telescope/internal/application/querylog"
	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/testutil"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
)

func mustRaw(t *testing.T, doc bson.D) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newMonitor(sink *testutil.RecordingSink, ignore ...string) *event.CommandMonitor {
	l := querylog.New(sink, querylog.Config{Watch: true, Ignore: ignore}, testutil.NewNullLogger())
	return New(l).CommandMonitor()
}

func TestMonitor_RecordsFind(t *testing.T) {
	sink := &testutil.RecordingSink{}
	mon := newMonitor(sink)
	ctx := ctxutil.WithRequestID(context.Background(), "req-mongo")

	cmd := mustRaw(t, bson.D{
		{Key: "find", Value: "users"},
		{Key: "filter", Value: bson.D{{Key: "age", Value: 30}}},
		{Key: "lsid", Value: bson.D{{Key: "id", Value: "session"}}},
		{Key: "$db", Value: "app"},
	})
	mon.Started(ctx, &event.CommandStartedEvent{Command: cmd, CommandName: "find", DatabaseName: "app", RequestID: 11})

	reply := mustRaw(t, bson.D{{Key: "ok", Value: 1}})
	mon.Succeeded(context.Background(), &event.CommandSucceededEvent{
		CommandFinishedEvent: event.CommandFinishedEvent{CommandName: "find", RequestID: 11, Duration: 4 * time.Millisecond},
		Reply:                reply,
	})

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	q := entries[0].Data
	if q.Method != "find" || q.Collection != "users" {
		t.Errorf("unexpected method/collection %q/%q", q.Method, q.Collection)
	}
	if q.RequestID != "req-mongo" {
		t.Errorf("request id must come from the started context, got %q", q.RequestID)
	}
	if q.Duration != 4 {
		t.Errorf("expected 4ms, got %f", q.Duration)
	}
	if !strings.Contains(q.Query, `"age":30`) {
		t.Errorf("filter missing from query %s", q.Query)
	}
	if strings.Contains(q.Query, "lsid") || strings.Contains(q.Query, "$db") {
		t.Errorf("session fields leaked into query %s", q.Query)
	}
	if !strings.Contains(q.Result, `"ok"`) {
		t.Errorf("unexpected result %q", q.Result)
	}
}

func TestMonitor_RecordsFailure(t *testing.T) {
	sink := &testutil.RecordingSink{}
	mon := newMonitor(sink)

	cmd := mustRaw(t, bson.D{{Key: "insert", Value: "orders"}})
	mon.Started(context.Background(), &event.CommandStartedEvent{Command: cmd, CommandName: "insert", RequestID: 3})
	mon.Failed(context.Background(), &event.CommandFailedEvent{
		CommandFinishedEvent: event.CommandFinishedEvent{CommandName: "insert", RequestID: 3},
		Failure:              "E11000 duplicate key",
	})

	q := sink.Entries()[0].Data
	if q.Method != "insert" || q.Result != "error: E11000 duplicate key" {
		t.Errorf("unexpected entry %+v", q)
	}
}

func TestMonitor_Skips(t *testing.T) {
	tests := []struct {
		name    string
		command string
		coll    string
	}{
		{"unwatched command", "hello", "users"},
		{"telescope collection", "insert", "telescope_entries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &testutil.RecordingSink{}
			mon := newMonitor(sink, "telescope_entries")

			cmd := mustRaw(t, bson.D{{Key: tt.command, Value: tt.coll}})
			mon.Started(context.Background(), &event.CommandStartedEvent{Command: cmd, CommandName: tt.command, RequestID: 9})
			mon.Succeeded(context.Background(), &event.CommandSucceededEvent{
				CommandFinishedEvent: event.CommandFinishedEvent{CommandName: tt.command, RequestID: 9},
				Reply:                mustRaw(t, bson.D{{Key: "ok", Value: 1}}),
			})

			if len(sink.Entries()) != 0 {
				t.Error("expected command to be skipped")
			}
		})
	}
}

func TestMonitor_UnmatchedFinish(t *testing.T) {
	sink := &testutil.RecordingSink{}
	mon := newMonitor(sink)

	mon.Succeeded(context.Background(), &event.CommandSucceededEvent{
		CommandFinishedEvent: event.CommandFinishedEvent{CommandName: "find", RequestID: 99},
	})
	if len(sink.Entries()) != 0 {
		t.Error("finish without start must be ignored")
	}
}
