package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	ctxutil "3tcapital/telescope/internal/infrastructure/context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// LogOption configures RequestLogger.
type LogOption func(*logConfig)

type logConfig struct {
	quiet []string
}

// QuietPaths demotes successful requests under any of the given path
// prefixes to debug level. The dashboard polls its API and would otherwise
// drown the host's own request log.
func QuietPaths(prefixes ...string) LogOption {
	return func(c *logConfig) {
		for _, p := range prefixes {
			if p != "" {
				c.quiet = append(c.quiet, p)
			}
		}
	}
}

func (c *logConfig) isQuiet(path string) bool {
	for _, p := range c.quiet {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RequestLogger logs one line per request once the handler returns.
// Level follows the status: 5xx error, 4xx warn, anything else info.
func RequestLogger(log *slog.Logger, opts ...LogOption) func(http.Handler) http.Handler {
	cfg := &logConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			status := rw.status()
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1e3,
				"bytes", rw.size(),
				"remote_addr", r.RemoteAddr,
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if id := ctxutil.RequestID(r.Context()); id != "" {
				attrs = append(attrs, "correlation_id", id)
			}

			switch {
			case status >= 500:
				log.Error("HTTP request", attrs...)
			case status >= 400:
				log.Warn("HTTP request", attrs...)
			case cfg.isQuiet(r.URL.Path):
				log.Debug("HTTP request", attrs...)
			default:
				log.Info("HTTP request", attrs...)
			}
		})
	}
}
