package middleware

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
	"sync"
)

// responseWriter wraps http.ResponseWriter to capture the status code, the
// bytes written and, when tee is set, a bounded copy of the body.
type responseWriter struct {
	http.ResponseWriter

	mu           sync.Mutex
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
	tee          *bytes.Buffer
	teeLimit     int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func newTeeWriter(w http.ResponseWriter, limit int) *responseWriter {
	rw := newResponseWriter(w)
	rw.tee = &bytes.Buffer{}
	rw.teeLimit = limit
	return rw
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.mu.Lock()
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.mu.Unlock()
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)

	if rw.tee != nil && n > 0 {
		if room := rw.teeLimit - rw.tee.Len(); room > 0 {
			if room > n {
				room = n
			}
			rw.tee.Write(b[:room])
		}
	}
	return n, err
}

// Flush implements http.Flusher when the underlying writer does.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		rw.mu.Lock()
		rw.wroteHeader = true
		rw.mu.Unlock()
		f.Flush()
	}
}

// Hijack implements http.Hijacker when the underlying writer does.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.mu.Lock()
	rw.wroteHeader = true
	rw.mu.Unlock()
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) status() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.statusCode
}

func (rw *responseWriter) written() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.wroteHeader
}

func (rw *responseWriter) size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.bytesWritten
}

func (rw *responseWriter) body() []byte {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.tee == nil {
		return nil
	}
	return append([]byte(nil), rw.tee.Bytes()...)
}
