package demo

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"3tcapital/telescope/internal/adapters/querylog/sqldb"
	"3tcapital/telescope/internal/application/exception"
	"3tcapital/telescope/internal/application/querylog"
	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/testutil"
)

func setupHandler(t *testing.T) (http.Handler, *testutil.RecordingSink) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sink := &testutil.RecordingSink{}
	log := testutil.NewNullLogger()
	queries := querylog.New(sink, querylog.Config{Watch: true}, log)
	hook := exception.New(sink, exception.Config{Watch: true}, log)

	h := NewHandler(sqldb.Wrap(db, queries), hook, log)
	if err := h.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	r := chi.NewRouter()
	r.Route("/demo", h.Routes)
	return r, sink
}

func countType(entries []*entry.Entry, typ entry.Type) int {
	n := 0
	for _, e := range entries {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestUsers_CreateListGet(t *testing.T) {
	router, sink := setupHandler(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.CreateRequest(http.MethodPost, "/demo/users", map[string]string{
		"name":  "Ada",
		"email": "ADA@example.com",
	}, nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created User
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode created user: %v", err)
	}
	if created.ID == 0 || created.Email != "ada@example.com" {
		t.Fatalf("unexpected user %+v", created)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/demo/users", nil))
	var list struct {
		Users []User `json:"users"`
	}
	testutil.ReadJSONResponse(t, w, &list)
	if len(list.Users) != 1 {
		t.Fatalf("expected one user, got %+v", list.Users)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/demo/users/1", nil))
	var got User
	testutil.ReadJSONResponse(t, w, &got)
	if got != created {
		t.Errorf("GetUser = %+v, want %+v", got, created)
	}

	// migrate + insert + select + select
	if n := countType(sink.Entries(), entry.TypeQuery); n != 4 {
		t.Errorf("expected 4 query entries, got %d", n)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	router, _ := setupHandler(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing email", map[string]string{"name": "Ada"}},
		{"bad email", map[string]string{"name": "Ada", "email": "not-an-email"}},
		{"not json", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, testutil.CreateRequest(http.MethodPost, "/demo/users", tt.body, nil))
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestGetUser_Errors(t *testing.T) {
	router, sink := setupHandler(t)

	tests := []struct {
		path string
		code int
	}{
		{"/demo/users/abc", http.StatusBadRequest},
		{"/demo/users/42", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.code)
		}
	}

	if n := countType(sink.Entries(), entry.TypeException); n != 0 {
		t.Errorf("client errors must not be reported, got %d exceptions", n)
	}
}

func TestError_ReportsException(t *testing.T) {
	router, sink := setupHandler(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/demo/error", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg := testutil.ReadErrorResponse(t, w); msg != "Internal server error" {
		t.Errorf("unexpected error %q", msg)
	}

	var found bool
	for _, e := range sink.Entries() {
		if e.Type == entry.TypeException && e.Exception.Message == "demo: handled failure" {
			found = true
		}
	}
	if !found {
		t.Error("expected handled error to be recorded")
	}
}

func TestAsync_ReportsBackgroundPanic(t *testing.T) {
	router, sink := setupHandler(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/demo/async", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for countType(sink.Entries(), entry.TypeException) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if countType(sink.Entries(), entry.TypeException) != 1 {
		t.Fatal("expected the background panic to be recorded")
	}
}
