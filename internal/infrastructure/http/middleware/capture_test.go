package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"3tcapital/telescope/internal/core/entry"
	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/testutil"

	"github.com/klauspost/compress/gzip"
)

func captureHandler(sink Sink, cfg CaptureConfig, h http.HandlerFunc) http.Handler {
	return Capture(sink, cfg, testutil.NewNullLogger())(h)
}

func watchAll() CaptureConfig {
	return CaptureConfig{RoutePrefix: "/telescope", WatchRequests: true, ResponseBodyLimit: 1000}
}

func TestCapture_RecordsHealthRequest(t *testing.T) {
	sink := &testutil.RecordingSink{}
	var seenID string
	handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
		seenID = ctxutil.RequestID(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Body.String() != `{"status":"ok"}` {
		t.Errorf("response altered: %q", w.Body.String())
	}

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Type != entry.TypeRequest || e.Exchange == nil {
		t.Fatalf("expected request entry, got %+v", e)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("captured entry invalid: %v", err)
	}
	if e.Request.Method != http.MethodGet || e.Request.URL != "/health" {
		t.Errorf("unexpected request %+v", e.Request)
	}
	if e.Response.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", e.Response.StatusCode)
	}
	if e.Response.Body != `{"status":"ok"}` {
		t.Errorf("unexpected body %q", e.Response.Body)
	}
	if e.Duration < 0 {
		t.Errorf("negative duration %f", e.Duration)
	}
	if e.Request.IP != "10.1.2.3" {
		t.Errorf("expected ip 10.1.2.3, got %q", e.Request.IP)
	}
	if seenID == "" || e.Request.RequestID != seenID {
		t.Errorf("handler saw %q, entry carries %q", seenID, e.Request.RequestID)
	}
	if e.Response.Headers["content-type"] != "application/json" {
		t.Errorf("response headers not captured: %v", e.Response.Headers)
	}
}

func TestCapture_TruncatesResponseBody(t *testing.T) {
	sink := &testutil.RecordingSink{}
	cfg := watchAll()
	cfg.ResponseBodyLimit = 10
	handler := captureHandler(sink, cfg, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("é", 50)))
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/big", nil))

	if w.Body.Len() != 100 {
		t.Errorf("client must receive the full body, got %d bytes", w.Body.Len())
	}
	body := sink.Entries()[0].Response.Body
	if len(body) > 10 {
		t.Errorf("body exceeds limit: %d bytes", len(body))
	}
	if !utf8.ValidString(body) {
		t.Errorf("truncation split a rune: %q", body)
	}
}

func TestCapture_InvalidUTF8Replaced(t *testing.T) {
	sink := &testutil.RecordingSink{}
	handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{'o', 'k', 0xff, 0xfe})
	})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bin", nil))

	body := sink.Entries()[0].Response.Body
	if !utf8.ValidString(body) || !strings.HasPrefix(body, "ok") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestCapture_GzipResponseDecoded(t *testing.T) {
	sink := &testutil.RecordingSink{}
	handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write([]byte(`{"compressed":true}`))
		zw.Close()
	})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/gz", nil))

	if got := sink.Entries()[0].Response.Body; got != `{"compressed":true}` {
		t.Errorf("expected decoded body, got %q", got)
	}
}

func TestCapture_ExcludesDashboardRoutes(t *testing.T) {
	tests := []struct {
		path     string
		recorded bool
	}{
		{"/telescope", false},
		{"/telescope/api/entries", false},
		{"/telescope/socket.io", false},
		{"/telescope-config", false},
		{"/telescopes", true},
		{"/users", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			sink := &testutil.RecordingSink{}
			handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			if got := len(sink.Entries()) == 1; got != tt.recorded {
				t.Errorf("recorded = %v, want %v", got, tt.recorded)
			}
		})
	}
}

func TestCapture_UnwatchedStillCorrelates(t *testing.T) {
	sink := &testutil.RecordingSink{}
	cfg := watchAll()
	cfg.WatchRequests = false

	var seenID string
	handler := captureHandler(sink, cfg, func(w http.ResponseWriter, r *http.Request) {
		seenID = ctxutil.RequestID(r.Context())
	})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users", nil))

	if seenID == "" {
		t.Error("expected correlation id even when requests are not watched")
	}
	if len(sink.Entries()) != 0 {
		t.Error("unwatched requests must not be recorded")
	}
}

func TestCapture_ConcurrentRequestsKeepOwnIDs(t *testing.T) {
	sink := &testutil.RecordingSink{}
	var mu sync.Mutex
	seen := map[string]bool{}
	handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[ctxutil.RequestID(r.Context())] = true
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Errorf("expected 20 distinct ids, got %d", len(seen))
	}
	for _, e := range sink.Entries() {
		if !seen[e.Request.RequestID] {
			t.Errorf("entry id %q never seen by a handler", e.Request.RequestID)
		}
	}
}

func TestCapture_RequestBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		consume  bool
		wantJSON string
	}{
		{"json read by handler", `{"name":"ada"}`, true, `{"name":"ada"}`},
		{"json left unread", `{"name":"ada"}`, false, `{"name":"ada"}`},
		{"form text", "a=1&b=2", true, `"a=1\u0026b=2"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &testutil.RecordingSink{}
			var handlerSaw string
			handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
				if tt.consume {
					b, _ := io.ReadAll(r.Body)
					handlerSaw = string(b)
				}
			})

			req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(tt.body))
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if tt.consume && handlerSaw != tt.body {
				t.Errorf("handler read %q, want %q", handlerSaw, tt.body)
			}
			got := sink.Entries()[0].Request.Body
			var want, have any
			_ = json.Unmarshal([]byte(tt.wantJSON), &want)
			if err := json.Unmarshal(got, &have); err != nil {
				t.Fatalf("stored body is not JSON: %s", got)
			}
			wb, _ := json.Marshal(want)
			hb, _ := json.Marshal(have)
			if !bytes.Equal(wb, hb) {
				t.Errorf("body = %s, want %s", hb, wb)
			}
		})
	}
}

func TestCapture_CurlAndMemory(t *testing.T) {
	sink := &testutil.RecordingSink{}
	cfg := watchAll()
	cfg.IncludeCurlCommand = true
	cfg.RecordMemoryUsage = true
	handler := captureHandler(sink, cfg, func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
	})

	req := httptest.NewRequest(http.MethodPost, "http://api.local/users?x=1", strings.NewReader(`{"it's":1}`))
	req.Header.Set("X-Trace", "abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	e := sink.Entries()[0]
	want := `curl -X POST 'http://api.local/users?x=1' -H 'x-trace: abc' --data '{"it'\''s":1}'`
	if e.CurlCommand != want {
		t.Errorf("curl = %s\nwant  %s", e.CurlCommand, want)
	}
	if e.MemoryUsage == nil || e.MemoryUsage.Before <= 0 {
		t.Errorf("expected memory usage sample, got %+v", e.MemoryUsage)
	}
	if e.MemoryUsage != nil && e.MemoryUsage.Difference != e.MemoryUsage.After-e.MemoryUsage.Before {
		t.Errorf("inconsistent memory usage %+v", e.MemoryUsage)
	}
}

func TestCapture_Redaction(t *testing.T) {
	sink := &testutil.RecordingSink{}
	cfg := watchAll()
	cfg.RedactSensitiveData = true
	handler := captureHandler(sink, cfg, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/hook?token=abc", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	e := sink.Entries()[0]
	if strings.Contains(e.Request.URL, "abc") {
		t.Errorf("token leaked in url %q", e.Request.URL)
	}
	if e.Request.Headers["authorization"] != "[REDACTED]" {
		t.Errorf("authorization not redacted: %v", e.Request.Headers)
	}
}

func TestCapture_PreservesFlusher(t *testing.T) {
	sink := &testutil.RecordingSink{}
	handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("flush failed: %v", err)
		}
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if !w.Flushed {
		t.Error("expected underlying recorder to be flushed")
	}
}

func TestCapture_RejectedBySink(t *testing.T) {
	sink := &testutil.RecordingSink{Reject: true}
	handler := captureHandler(sink, watchAll(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusAccepted {
		t.Errorf("a full sink must not affect the response, got %d", w.Code)
	}
}
