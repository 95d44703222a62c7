package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseWriter_WriteHeader(t *testing.T) {
	base := httptest.NewRecorder()
	rw := newResponseWriter(base)

	rw.WriteHeader(http.StatusNotFound)

	if rw.status() != http.StatusNotFound {
		t.Errorf("expected status code %d, got %d", http.StatusNotFound, rw.status())
	}
	if base.Code != http.StatusNotFound {
		t.Errorf("expected base status code %d, got %d", http.StatusNotFound, base.Code)
	}
	if !rw.written() {
		t.Error("expected header to be marked written")
	}
}

func TestResponseWriter_Write(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())

	data := []byte("test data")
	n, err := rw.Write(data)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected to write %d bytes, got %d", len(data), n)
	}
	if rw.status() != http.StatusOK {
		t.Errorf("expected default status code %d, got %d", http.StatusOK, rw.status())
	}
	if rw.size() != int64(len(data)) {
		t.Errorf("expected bytesWritten %d, got %d", len(data), rw.size())
	}
	if rw.body() != nil {
		t.Error("plain writer must not buffer the body")
	}
}

func TestResponseWriter_TeeLimit(t *testing.T) {
	base := httptest.NewRecorder()
	rw := newTeeWriter(base, 5)

	rw.Write([]byte("abc"))
	rw.Write([]byte("defgh"))

	if got := string(rw.body()); got != "abcde" {
		t.Errorf("expected tee to stop at limit, got %q", got)
	}
	if base.Body.String() != "abcdefgh" {
		t.Errorf("client body altered: %q", base.Body.String())
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error when the underlying writer cannot hijack")
	}
	if rw.Unwrap() == nil {
		t.Error("Unwrap must return the underlying writer")
	}
}
