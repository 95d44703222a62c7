package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"

	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	httperrors "3tcapital/telescope/internal/infrastructure/http"
)

// PanicReporter records a recovered panic.
type PanicReporter interface {
	CapturePanic(ctx context.Context, recovered any, stack []byte)
}

// Recoverer turns handler panics into exception entries and a 500 response.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recoverer(reporter PanicReporter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newResponseWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := debug.Stack()
				if reporter != nil {
					reporter.CapturePanic(r.Context(), rec, stack)
				}
				if log != nil {
					log.Error("Recovered from panic",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"correlation_id", ctxutil.RequestID(r.Context()),
					)
				}

				if !rw.written() {
					httperrors.WriteError(rw, http.StatusInternalServerError, "Internal server error", nil, log)
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
