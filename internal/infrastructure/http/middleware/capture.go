package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/metrics"
	"sort"
	"strings"
	"sync"
	"time"

	"3tcapital/telescope/internal/core/entry"
	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/infrastructure/security"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

const (
	// ConfigPath is served outside the route prefix and never captured.
	ConfigPath = "/telescope-config"

	DefaultResponseBodyLimit = 1000
	DefaultRequestBodyLimit  = 64 << 10

	// Raw bytes kept from a response before decoding. Compressed bodies need
	// more than the display limit to yield that many decoded bytes.
	maxRawResponseBytes = 256 << 10
	maxDecodedBytes     = 1 << 20

	heapMetric = "/memory/classes/heap/objects:bytes"
)

// Sink receives captured entries. It must not block.
type Sink interface {
	Record(e *entry.Entry) bool
}

// CaptureConfig controls what the capture middleware records.
type CaptureConfig struct {
	RoutePrefix         string
	WatchRequests       bool
	ResponseBodyLimit   int
	RequestBodyLimit    int
	IncludeCurlCommand  bool
	RecordMemoryUsage   bool
	RedactSensitiveData bool
}

// Capture assigns a correlation id to every request and, when requests are
// watched, records the request/response cycle as an entry. Requests for the
// dashboard itself are passed through untouched.
func Capture(sink Sink, cfg CaptureConfig, log *slog.Logger) func(http.Handler) http.Handler {
	if cfg.ResponseBodyLimit <= 0 {
		cfg.ResponseBodyLimit = DefaultResponseBodyLimit
	}
	if cfg.RequestBodyLimit <= 0 {
		cfg.RequestBodyLimit = DefaultRequestBodyLimit
	}
	prefix := strings.TrimRight(cfg.RoutePrefix, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExcluded(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}

			requestID := uuid.NewString()
			r = r.WithContext(ctxutil.WithRequestID(r.Context(), requestID))

			if !cfg.WatchRequests || sink == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			var heapBefore int64
			if cfg.RecordMemoryUsage {
				heapBefore = heapBytes()
			}

			var reqBody *bodyTee
			if r.Body != nil && r.Body != http.NoBody {
				reqBody = &bodyTee{ReadCloser: r.Body, limit: cfg.RequestBodyLimit}
				r.Body = reqBody
			}

			rawLimit := cfg.ResponseBodyLimit + 4
			if rawLimit < maxRawResponseBytes {
				rawLimit = maxRawResponseBytes
			}
			rw := newTeeWriter(w, rawLimit)

			next.ServeHTTP(rw, r)

			duration := float64(time.Since(start).Nanoseconds()) / 1e6

			var body []byte
			if reqBody != nil {
				body = reqBody.finish()
			}

			x := entry.Exchange{
				Duration: duration,
				Request: entry.Request{
					Method:    r.Method,
					URL:       requestURL(r, cfg.RedactSensitiveData),
					Headers:   security.FlattenHeaders(r.Header, cfg.RedactSensitiveData),
					Body:      security.NormalizeBody(body, cfg.RedactSensitiveData),
					IP:        clientIP(r),
					RequestID: requestID,
				},
				Response: entry.Response{
					StatusCode: rw.status(),
					Headers:    security.FlattenHeaders(rw.Header(), cfg.RedactSensitiveData),
					Body:       responseBody(rw.body(), rw.Header().Get("Content-Encoding"), cfg.ResponseBodyLimit),
				},
			}

			if cfg.IncludeCurlCommand {
				x.CurlCommand = curlCommand(r, x.Request.Headers, body)
			}
			if cfg.RecordMemoryUsage {
				after := heapBytes()
				x.MemoryUsage = &entry.MemoryUsage{
					Before:     heapBefore,
					After:      after,
					Difference: after - heapBefore,
				}
			}

			if !sink.Record(entry.NewRequest(start, x)) && log != nil {
				log.Debug("Request entry not recorded", "request_id", requestID)
			}
		})
	}
}

func isExcluded(path, prefix string) bool {
	if path == ConfigPath {
		return true
	}
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// bodyTee copies up to limit bytes of the request body as the handler reads it.
type bodyTee struct {
	io.ReadCloser
	limit int

	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bodyTee) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.mu.Lock()
		if room := b.limit - b.buf.Len(); room > 0 {
			if room > n {
				room = n
			}
			b.buf.Write(p[:room])
		}
		b.mu.Unlock()
	}
	return n, err
}

// finish reads whatever the handler left unread, up to the limit, and
// returns the captured bytes.
func (b *bodyTee) finish() []byte {
	b.mu.Lock()
	room := b.limit - b.buf.Len()
	b.mu.Unlock()
	if room > 0 {
		_, _ = io.CopyN(io.Discard, b, int64(room))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func responseBody(raw []byte, encoding string, limit int) string {
	if len(raw) == 0 {
		return ""
	}
	if strings.EqualFold(strings.TrimSpace(encoding), "gzip") {
		if decoded, ok := gunzip(raw); ok {
			raw = decoded
		}
	}
	return entry.Truncate(strings.ToValidUTF8(string(raw), "\uFFFD"), limit)
}

// gunzip decodes as much of data as possible. A body cut short by the
// capture limit still yields its decodable prefix.
func gunzip(data []byte) ([]byte, bool) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer zr.Close()

	decoded, _ := io.ReadAll(io.LimitReader(zr, maxDecodedBytes))
	return decoded, len(decoded) > 0
}

func requestURL(r *http.Request, redact bool) string {
	u := r.URL.RequestURI()
	if redact {
		return security.SanitizeURL(u)
	}
	return u
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// curlCommand renders a shell command reproducing the request.
func curlCommand(r *http.Request, headers map[string]string, body []byte) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	var sb strings.Builder
	sb.WriteString("curl -X ")
	sb.WriteString(r.Method)
	sb.WriteString(" ")
	sb.WriteString(shellQuote(scheme + "://" + r.Host + r.URL.RequestURI()))

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" -H ")
		sb.WriteString(shellQuote(k + ": " + headers[k]))
	}

	if len(body) > 0 {
		sb.WriteString(" --data ")
		sb.WriteString(shellQuote(string(body)))
	}
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func heapBytes() int64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return int64(sample[0].Value.Uint64())
}
