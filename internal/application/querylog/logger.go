// Package querylog turns observed database calls into query entries.
package querylog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"3tcapital/telescope/internal/core/entry"
	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/infrastructure/logger"
)

const DefaultResultLimit = 200

// Sink receives query entries. It must not block.
type Sink interface {
	Record(e *entry.Entry) bool
}

// Config controls query capture.
type Config struct {
	Watch       bool
	ResultLimit int
	// Ignore lists collections or tables whose queries are never recorded,
	// typically the ones Telescope itself writes to.
	Ignore []string
}

// Observation is one completed database call as seen by a driver hook.
type Observation struct {
	Method     string
	Query      string
	Collection string
	Start      time.Time
	Duration   time.Duration
	Result     string
	Err        error
}

// Logger builds query entries from observations.
type Logger struct {
	sink        Sink
	log         *slog.Logger
	watch       bool
	resultLimit int
	ignore      map[string]bool
}

// New creates a query logger recording into sink.
func New(sink Sink, cfg Config, log *slog.Logger) *Logger {
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = DefaultResultLimit
	}
	ignore := make(map[string]bool, len(cfg.Ignore))
	for _, name := range cfg.Ignore {
		ignore[strings.ToLower(name)] = true
	}
	return &Logger{
		sink:        sink,
		log:         logger.Component(log, "querylog"),
		watch:       cfg.Watch,
		resultLimit: cfg.ResultLimit,
		ignore:      ignore,
	}
}

// Enabled reports whether observations are recorded at all.
func (l *Logger) Enabled() bool {
	return l != nil && l.watch && l.sink != nil
}

// ResultLimit is the length results are truncated to.
func (l *Logger) ResultLimit() int {
	if l == nil {
		return DefaultResultLimit
	}
	return l.resultLimit
}

// Ignored reports whether queries against collection are skipped.
func (l *Logger) Ignored(collection string) bool {
	return l.ignore[strings.ToLower(collection)]
}

// Observe records o under the correlation id carried by ctx. Statements
// issued by Telescope's own persistence are skipped.
func (l *Logger) Observe(ctx context.Context, o Observation) {
	if !l.Enabled() || l.Ignored(o.Collection) || ctxutil.CaptureSuppressed(ctx) {
		return
	}

	result := o.Result
	if o.Err != nil {
		result = "error: " + o.Err.Error()
	}

	start := o.Start
	if start.IsZero() {
		start = time.Now().Add(-o.Duration)
	}

	q := entry.Query{
		Method:     o.Method,
		Query:      o.Query,
		Collection: o.Collection,
		Duration:   float64(o.Duration.Nanoseconds()) / 1e6,
		Result:     entry.Truncate(result, l.resultLimit),
		RequestID:  ctxutil.RequestID(ctx),
	}

	if !l.sink.Record(entry.NewQuery(start, q)) {
		l.log.Debug("Query entry not recorded", "method", q.Method, "collection", q.Collection)
	}
}

var (
	collectionPattern = regexp.MustCompile("(?i)\\b(?:from|into|update|join|table)\\s+(?:if\\s+(?:not\\s+)?exists\\s+)?[`\"']?([\\w.]+)")
	commentPattern    = regexp.MustCompile(`(?s)^\s*(?:--[^\n]*\n|/\*.*?\*/)`)
)

// Collection extracts the first table name referenced by a SQL statement.
// It is best effort and returns "" when nothing matches.
func Collection(sql string) string {
	m := collectionPattern.FindStringSubmatch(sql)
	if len(m) < 2 {
		return ""
	}
	name := m[1]
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// Verb returns the leading SQL keyword in upper case.
func Verb(sql string) string {
	s := sql
	for {
		loc := commentPattern.FindStringIndex(s)
		if loc == nil {
			break
		}
		s = s[loc[1]:]
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "QUERY"
	}
	return strings.ToUpper(strings.TrimRight(fields[0], "("))
}

// Statement renders a SQL statement and its arguments as the JSON document
// stored in the query field.
func Statement(sql string, args []any) string {
	values := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b, _ = json.Marshal(fmt.Sprintf("%v", a))
		}
		values = append(values, b)
	}

	out, err := json.Marshal(struct {
		Text   string            `json:"text"`
		Values []json.RawMessage `json:"values"`
	}{Text: sql, Values: values})
	if err != nil {
		return sql
	}
	return string(out)
}
