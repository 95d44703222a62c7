package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/testutil"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		expectedLevel string
	}{
		{"2xx status logs as info", http.StatusOK, "INFO"},
		{"3xx status logs as info", http.StatusMovedPermanently, "INFO"},
		{"4xx status logs as warn", http.StatusBadRequest, "WARN"},
		{"5xx status logs as error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, nil))

			handler := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte("test response"))
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			if w.Code != tt.statusCode {
				t.Errorf("expected status code %d, got %d", tt.statusCode, w.Code)
			}
			if !strings.Contains(buf.String(), "level="+tt.expectedLevel) {
				t.Errorf("expected level %s in %q", tt.expectedLevel, buf.String())
			}
		})
	}
}

func TestRequestLogger_IDs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	handler := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("test"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chimw.RequestIDKey, "chi-req-1")
	ctx = ctxutil.WithRequestID(ctx, "corr-1")
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	out := buf.String()
	if !strings.Contains(out, "request_id=chi-req-1") {
		t.Errorf("expected request id in %q", out)
	}
	if !strings.Contains(out, "correlation_id=corr-1") {
		t.Errorf("expected correlation id in %q", out)
	}
	if !strings.Contains(out, "bytes=4") {
		t.Errorf("expected byte count in %q", out)
	}
}

func TestRequestLogger_DefaultStatus(t *testing.T) {
	handler := RequestLogger(testutil.NewNullLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected default status 200, got %d", w.Code)
	}
}

func TestRequestLogger_QuietPaths(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"dashboard poll", "/telescope/api/entries/recent", http.StatusOK, "DEBUG"},
		{"dashboard failure", "/telescope/api/entries", http.StatusInternalServerError, "ERROR"},
		{"host route", "/orders", http.StatusOK, "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := testutil.NewBufferLogger()

			handler := RequestLogger(log, QuietPaths("/telescope", ""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			if !strings.Contains(buf.String(), "level="+tt.level) {
				t.Errorf("expected level %s in %q", tt.level, buf.String())
			}
		})
	}
}
