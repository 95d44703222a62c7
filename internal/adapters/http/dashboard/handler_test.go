package dashboard

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"3tcapital/telescope/internal/testutil"
)

func newRouter(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	h, err := NewHandler(cfg, testutil.NewNullLogger())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	r := chi.NewRouter()
	r.Get("/telescope-config", h.Config)
	r.Get(cfg.RoutePrefix+"/*", h.Static)
	return r
}

func TestHandler_Config(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t, Config{RoutePrefix: "/telescope"}).ServeHTTP(w, testutil.CreateRequest(http.MethodGet, "/telescope-config", nil, nil))

	var body map[string]string
	testutil.ReadJSONResponse(t, w, &body)
	if body["routePrefix"] != "/telescope" {
		t.Errorf("unexpected config %v", body)
	}
}

func TestHandler_StaticEmbedded(t *testing.T) {
	router := newRouter(t, Config{RoutePrefix: "/telescope"})

	tests := []struct {
		name     string
		path     string
		contains string
	}{
		{"root serves index", "/telescope/", "<title>Telescope</title>"},
		{"asset", "/telescope/app.js", "getInitialEntries"},
		{"client route falls back to index", "/telescope/requests/123", "<title>Telescope</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, testutil.CreateRequest(http.MethodGet, tt.path, nil, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if got := w.Header().Get("Cache-Control"); got != CacheControl {
				t.Errorf("Cache-Control = %q", got)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q", tt.contains)
			}
		})
	}
}

func TestHandler_StaticTraversal(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t, Config{RoutePrefix: "/telescope"}).ServeHTTP(w, testutil.CreateRequest(http.MethodGet, "/telescope/../../etc/passwd", nil, nil))

	if strings.Contains(w.Body.String(), "root:") {
		t.Fatal("served a file outside the bundle")
	}
}

func TestHandler_StaticGzip(t *testing.T) {
	router := newRouter(t, Config{RoutePrefix: "/telescope"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.CreateRequest(http.MethodGet, "/telescope/app.js", nil, map[string]string{"Accept-Encoding": "gzip"}))

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers %v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "getInitialEntries") {
		t.Error("decompressed asset is not app.js")
	}
}

func TestHandler_UIDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>custom</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	newRouter(t, Config{RoutePrefix: "/ops", UIDir: dir}).ServeHTTP(w, testutil.CreateRequest(http.MethodGet, "/ops/anything", nil, nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "custom") {
		t.Errorf("expected custom index, got %d %q", w.Code, w.Body.String())
	}

	if _, err := NewHandler(Config{UIDir: filepath.Join(dir, "missing")}, nil); err == nil {
		t.Error("expected error for missing UI dir")
	}
	if _, err := NewHandler(Config{UIDir: filepath.Join(dir, "index.html")}, nil); err == nil {
		t.Error("expected error when UI dir is a file")
	}

	empty := t.TempDir()
	w = httptest.NewRecorder()
	newRouter(t, Config{RoutePrefix: "/ops", UIDir: empty}).ServeHTTP(w, testutil.CreateRequest(http.MethodGet, "/ops/", nil, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a bundle, got %d", w.Code)
	}
}
