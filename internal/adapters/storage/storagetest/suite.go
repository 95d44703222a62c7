// Package storagetest is a conformance suite run against every
// entry.Storage backend.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"3tcapital/telescope/internal/core/entry"
)

// Factory returns a connected, empty store. The suite closes it.
type Factory func(t *testing.T) entry.Storage

// Run executes every conformance case against fresh stores.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s entry.Storage)
	}{
		{"RoundTrip", testRoundTrip},
		{"AssignedID", testAssignedID},
		{"MissingEntry", testMissingEntry},
		{"Pagination", testPagination},
		{"Filters", testFilters},
		{"RequestID", testRequestID},
		{"TimeRange", testTimeRange},
		{"Recent", testRecent},
		{"Prune", testPrune},
		{"Subscribe", testSubscribe},
		{"ConnectIdempotent", testConnectIdempotent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() {
				if err := s.Close(context.Background()); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			})
			tc.fn(t, s)
		})
	}
}

func base() time.Time {
	return time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
}

// Request builds a request entry for tests.
func Request(ts time.Time, method, url string, status int, requestID string) *entry.Entry {
	return entry.NewRequest(ts, entry.Exchange{
		Duration: 12.5,
		Request: entry.Request{
			Method:    method,
			URL:       url,
			Headers:   map[string]string{"accept": "application/json"},
			IP:        "127.0.0.1",
			RequestID: requestID,
		},
		Response: entry.Response{
			StatusCode: status,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       `{"ok":true}`,
		},
	})
}

// Exception builds an exception entry for tests.
func Exception(ts time.Time, class, requestID string) *entry.Entry {
	return entry.NewException(ts, entry.Exception{
		Message:   "boom",
		Class:     class,
		File:      "[PROJECT_ROOT]/handlers/user.go",
		Line:      42,
		Stack:     "main.handler()\n\t[PROJECT_ROOT]/handlers/user.go:42",
		Context:   map[int]string{41: "x := load()", 42: "panic(err)"},
		RequestID: requestID,
	})
}

// Query builds a query entry for tests.
func Query(ts time.Time, method, collection, requestID string) *entry.Entry {
	return entry.NewQuery(ts, entry.Query{
		Method:     method,
		Query:      `{"text":"SELECT 1","values":[]}`,
		Collection: collection,
		Duration:   0.75,
		Result:     "1 rows",
		RequestID:  requestID,
	})
}

func store(t *testing.T, s entry.Storage, e *entry.Entry) string {
	t.Helper()
	id, err := s.StoreEntry(context.Background(), e)
	if err != nil {
		t.Fatalf("StoreEntry(%s) error = %v", e.Type, err)
	}
	if id == "" || id != e.ID {
		t.Fatalf("StoreEntry returned id %q, entry has %q", id, e.ID)
	}
	return id
}

func testRoundTrip(t *testing.T, s entry.Storage) {
	ts := base()

	req := Request(ts, "POST", "/users?page=2", 201, "req-1")
	req.Request.Body = json.RawMessage(`{"name":"ada"}`)
	req.CurlCommand = "curl -X POST 'http://localhost/users?page=2'"
	req.MemoryUsage = &entry.MemoryUsage{Before: 1024, After: 4096, Difference: 3072}

	for _, e := range []*entry.Entry{
		req,
		Exception(ts.Add(time.Second), "*errors.errorString", "req-1"),
		Query(ts.Add(2*time.Second), "SELECT", "users", ""),
	} {
		id := store(t, s, e)
		want := *e

		got, err := s.GetEntry(context.Background(), id)
		if err != nil {
			t.Fatalf("GetEntry(%s) error = %v", e.Type, err)
		}
		if got == nil {
			t.Fatalf("GetEntry(%s) returned nil", e.Type)
		}
		assertEqual(t, got, &want)
	}
}

func testAssignedID(t *testing.T, s entry.Storage) {
	e := Request(base(), "GET", "/", 200, "")
	e.ID = "preset"
	if _, err := s.StoreEntry(context.Background(), e); !errors.Is(err, entry.ErrIDAssigned) {
		t.Errorf("expected ErrIDAssigned, got %v", err)
	}

	reserved := &entry.Entry{Type: entry.TypeLog, Timestamp: base()}
	if _, err := s.StoreEntry(context.Background(), reserved); err == nil {
		t.Error("expected error storing a reserved type")
	}
}

func testMissingEntry(t *testing.T, s entry.Storage) {
	got, err := s.GetEntry(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing entry, got %+v", got)
	}
}

func testPagination(t *testing.T, s entry.Storage) {
	ts := base()
	var ids []string
	for i := 0; i < 25; i++ {
		ids = append(ids, store(t, s, Request(ts.Add(time.Duration(i)*time.Second), "GET", fmt.Sprintf("/items/%d", i), 200, "")))
	}

	var seen []string
	for page := 1; page <= 3; page++ {
		p, err := s.GetEntries(context.Background(), entry.ListOptions{Page: page, PerPage: 10})
		if err != nil {
			t.Fatalf("GetEntries(page %d) error = %v", page, err)
		}
		if p.Pagination.Total != 25 || p.Pagination.TotalPages != 3 || p.Pagination.CurrentPage != page || p.Pagination.PerPage != 10 {
			t.Errorf("page %d: unexpected pagination %+v", page, p.Pagination)
		}
		for _, e := range p.Entries {
			seen = append(seen, e.ID)
		}
	}

	if len(seen) != 25 {
		t.Fatalf("expected 25 entries across pages, got %d", len(seen))
	}
	for i, id := range seen {
		if want := ids[24-i]; id != want {
			t.Fatalf("position %d: got %s, want %s (newest first)", i, id, want)
		}
	}

	asc, err := s.GetEntries(context.Background(), entry.ListOptions{PerPage: 5, Sort: entry.SortAsc})
	if err != nil {
		t.Fatalf("GetEntries(asc) error = %v", err)
	}
	if len(asc.Entries) != 5 || asc.Entries[0].ID != ids[0] {
		t.Errorf("ascending page does not start with the oldest entry")
	}

	empty, err := s.GetEntries(context.Background(), entry.ListOptions{Page: 9, PerPage: 10})
	if err != nil {
		t.Fatalf("GetEntries(page 9) error = %v", err)
	}
	if empty.Entries == nil || len(empty.Entries) != 0 || empty.Pagination.Total != 25 {
		t.Errorf("page past the end: %+v", empty)
	}
}

func testFilters(t *testing.T, s entry.Storage) {
	ts := base()
	notFound := store(t, s, Request(ts, "GET", "/missing", 404, ""))
	store(t, s, Request(ts.Add(time.Second), "POST", "/users", 201, ""))
	store(t, s, Request(ts.Add(2*time.Second), "GET", "/users", 200, ""))
	exc := store(t, s, Exception(ts.Add(3*time.Second), "*fs.PathError", ""))
	store(t, s, Query(ts.Add(4*time.Second), "find", "orders", ""))
	qry := store(t, s, Query(ts.Add(5*time.Second), "SELECT", "users", ""))

	tests := []struct {
		name string
		opts entry.ListOptions
		want []string
	}{
		{"status code", entry.ListOptions{Filters: map[entry.Field]string{entry.FieldStatusCode: "404"}}, []string{notFound}},
		{"exception class", entry.ListOptions{Filters: map[entry.Field]string{entry.FieldExceptionClass: "*fs.PathError"}}, []string{exc}},
		{"query collection and method", entry.ListOptions{Filters: map[entry.Field]string{entry.FieldCollection: "users", entry.FieldQueryMethod: "SELECT"}}, []string{qry}},
		{"type", entry.ListOptions{Types: []entry.Type{entry.TypeException}}, []string{exc}},
		{"type and method", entry.ListOptions{Types: []entry.Type{entry.TypeRequest}, Filters: map[entry.Field]string{entry.FieldMethod: "GET", entry.FieldURL: "/missing"}}, []string{notFound}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.GetEntries(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("GetEntries() error = %v", err)
			}
			assertIDs(t, p, tt.want)
		})
	}

	types, err := s.GetEntries(context.Background(), entry.ListOptions{Types: []entry.Type{entry.TypeRequest, entry.TypeQuery}})
	if err != nil {
		t.Fatalf("GetEntries(types) error = %v", err)
	}
	if types.Pagination.Total != 5 {
		t.Errorf("expected 5 requests and queries, got %d", types.Pagination.Total)
	}

	if _, err := s.GetEntries(context.Background(), entry.ListOptions{Filters: map[entry.Field]string{"request.body": "x"}}); !errors.Is(err, entry.ErrUnsupportedFilter) {
		t.Errorf("expected ErrUnsupportedFilter, got %v", err)
	}
}

func testRequestID(t *testing.T, s entry.Storage) {
	ts := base()
	req := store(t, s, Request(ts, "GET", "/boom", 500, "corr-1"))
	exc := store(t, s, Exception(ts.Add(time.Second), "*errors.errorString", "corr-1"))
	qry := store(t, s, Query(ts.Add(2*time.Second), "SELECT", "users", "corr-1"))
	store(t, s, Request(ts.Add(3*time.Second), "GET", "/ok", 200, "corr-2"))

	p, err := s.GetEntries(context.Background(), entry.ListOptions{RequestID: "corr-1"})
	if err != nil {
		t.Fatalf("GetEntries() error = %v", err)
	}
	assertIDs(t, p, []string{qry, exc, req})
}

func testTimeRange(t *testing.T, s entry.Storage) {
	ts := base()
	store(t, s, Request(ts, "GET", "/a", 200, ""))
	mid := store(t, s, Request(ts.Add(time.Minute), "GET", "/b", 200, ""))
	store(t, s, Request(ts.Add(2*time.Minute), "GET", "/c", 200, ""))

	p, err := s.GetEntries(context.Background(), entry.ListOptions{
		Start: ts.Add(30 * time.Second),
		End:   ts.Add(90 * time.Second),
	})
	if err != nil {
		t.Fatalf("GetEntries() error = %v", err)
	}
	assertIDs(t, p, []string{mid})
}

func testRecent(t *testing.T, s entry.Storage) {
	ts := base()
	store(t, s, Query(ts, "SELECT", "a", ""))
	q2 := store(t, s, Query(ts.Add(time.Second), "SELECT", "b", ""))
	q3 := store(t, s, Query(ts.Add(2*time.Second), "SELECT", "c", ""))
	r := store(t, s, Request(ts.Add(3*time.Second), "GET", "/", 200, ""))

	got, err := s.GetRecentEntries(context.Background(), 2, entry.TypeQuery)
	if err != nil {
		t.Fatalf("GetRecentEntries() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != q3 || got[1].ID != q2 {
		t.Errorf("unexpected recent queries %v", ids(got))
	}

	all, err := s.GetRecentEntries(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("GetRecentEntries(all) error = %v", err)
	}
	if len(all) != 4 || all[0].ID != r {
		t.Errorf("unexpected recent entries %v", ids(all))
	}
}

func testPrune(t *testing.T, s entry.Storage) {
	now := time.Now().UTC()
	old := store(t, s, Request(now.Add(-2*time.Hour), "GET", "/old", 200, ""))
	oldExc := store(t, s, Exception(now.Add(-90*time.Minute), "*errors.errorString", ""))
	fresh := store(t, s, Query(now.Add(-time.Minute), "SELECT", "users", ""))

	n, err := s.Prune(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned entries, got %d", n)
	}

	for _, id := range []string{old, oldExc} {
		if got, err := s.GetEntry(context.Background(), id); err != nil || got != nil {
			t.Errorf("entry %s survived prune: %v, %v", id, got, err)
		}
	}
	if got, err := s.GetEntry(context.Background(), fresh); err != nil || got == nil {
		t.Errorf("fresh entry lost: %v", err)
	}
}

func testSubscribe(t *testing.T, s entry.Storage) {
	sub := s.Subscribe(4)
	defer sub.Close()

	id := store(t, s, Request(base(), "GET", "/", 200, ""))

	select {
	case e := <-sub.C:
		if e.ID != id {
			t.Errorf("event for %s, want %s", e.ID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after store")
	}

	select {
	case e := <-sub.C:
		t.Errorf("unexpected second event %s", e.ID)
	case <-time.After(50 * time.Millisecond):
	}

	bad := Request(base(), "GET", "/", 200, "")
	bad.ID = "preset"
	_, _ = s.StoreEntry(context.Background(), bad)
	select {
	case e := <-sub.C:
		t.Errorf("failed store published %s", e.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConnectIdempotent(t *testing.T, s entry.Storage) {
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func assertIDs(t *testing.T, p *entry.Page, want []string) {
	t.Helper()
	got := ids(p.Entries)
	if len(got) != len(want) || p.Pagination.Total != int64(len(want)) {
		t.Fatalf("got %v (total %d), want %v", got, p.Pagination.Total, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func ids(entries []entry.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// assertEqual compares entries through their JSON form, which is what the
// dashboard consumes. JSON bodies are compared semantically.
func assertEqual(t *testing.T, got, want *entry.Entry) {
	t.Helper()
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	g, w := normalized(t, got), normalized(t, want)
	if g != w {
		t.Errorf("%s round trip mismatch\n got: %s\nwant: %s", want.Type, g, w)
	}
}

func normalized(t *testing.T, e *entry.Entry) string {
	t.Helper()
	c := *e
	c.Timestamp = time.Time{}
	b, err := json.Marshal(&c)
	if err != nil {
		t.Fatal(err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatal(err)
	}
	out, _ := json.Marshal(v)
	return string(out)
}
