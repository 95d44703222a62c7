package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Type discriminates the payload carried by an Entry.
type Type string

const (
	TypeRequest   Type = "requests"
	TypeException Type = "exceptions"
	TypeQuery     Type = "queries"

	// Reserved for future watchers. Storage rejects them.
	TypeLog   Type = "logs"
	TypeEvent Type = "events"
	TypeView  Type = "views"
)

var (
	// ErrIDAssigned is returned when an entry reaches storage with an id already set.
	ErrIDAssigned = errors.New("entry id is assigned by storage")
	// ErrUnsupportedType is returned for reserved or unknown entry types.
	ErrUnsupportedType = errors.New("unsupported entry type")
	// ErrInvalidEntry is returned when the payload does not match the entry type.
	ErrInvalidEntry = errors.New("invalid entry")
)

// Supported returns the entry types that can be captured and stored.
func Supported() []Type {
	return []Type{TypeRequest, TypeException, TypeQuery}
}

// ParseType validates a single type name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeRequest, TypeException, TypeQuery:
		return t, nil
	case TypeLog, TypeEvent, TypeView:
		return "", fmt.Errorf("%w: %s is reserved", ErrUnsupportedType, s)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// ParseTypes parses a comma separated list of type names. Empty input yields nil.
func ParseTypes(s string) ([]Type, error) {
	var types []Type
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// Entry is one captured observability record. Exactly one payload is set,
// selected by Type: Exchange for requests, Exception for exceptions and Data
// for queries. Exchange is embedded so its fields sit at the top level of the
// JSON document the dashboard reads.
type Entry struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	*Exchange
	Exception *Exception `json:"exception,omitempty"`
	Data      *Query     `json:"data,omitempty"`
}

// Exchange is one observed HTTP request/response cycle.
type Exchange struct {
	Duration    float64      `json:"duration"`
	Request     Request      `json:"request"`
	Response    Response     `json:"response"`
	CurlCommand string       `json:"curlCommand,omitempty"`
	MemoryUsage *MemoryUsage `json:"memoryUsage,omitempty"`
}

type Request struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body,omitempty"`
	IP        string            `json:"ip"`
	RequestID string            `json:"requestId,omitempty"`
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// MemoryUsage holds heap byte counts sampled around a request.
type MemoryUsage struct {
	Before     int64 `json:"before"`
	After      int64 `json:"after"`
	Difference int64 `json:"difference"`
}

type Exception struct {
	Message   string         `json:"message"`
	Stack     string         `json:"stack,omitempty"`
	Class     string         `json:"class,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	Context   map[int]string `json:"context,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

// Query is a single database operation observed by a query hook.
type Query struct {
	Method     string  `json:"method"`
	Query      string  `json:"query"`
	Collection string  `json:"collection"`
	Duration   float64 `json:"duration"`
	Result     string  `json:"result,omitempty"`
	RequestID  string  `json:"requestId,omitempty"`
}

// NewRequest builds a request entry captured at ts.
func NewRequest(ts time.Time, x Exchange) *Entry {
	return &Entry{Type: TypeRequest, Timestamp: ts, Exchange: &x}
}

// NewException builds an exception entry captured at ts.
func NewException(ts time.Time, x Exception) *Entry {
	return &Entry{Type: TypeException, Timestamp: ts, Exception: &x}
}

// NewQuery builds a query entry captured at ts.
func NewQuery(ts time.Time, q Query) *Entry {
	return &Entry{Type: TypeQuery, Timestamp: ts, Data: &q}
}

// RequestID returns the correlation id the entry belongs to, if any.
func (e *Entry) RequestID() string {
	switch {
	case e.Exchange != nil:
		return e.Exchange.Request.RequestID
	case e.Exception != nil:
		return e.Exception.RequestID
	case e.Data != nil:
		return e.Data.RequestID
	}
	return ""
}

// Validate checks that the payload matches the discriminant.
func (e *Entry) Validate() error {
	if _, err := ParseType(string(e.Type)); err != nil {
		return err
	}

	set := 0
	for _, present := range []bool{e.Exchange != nil, e.Exception != nil, e.Data != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one payload, got %d", ErrInvalidEntry, set)
	}

	switch e.Type {
	case TypeRequest:
		if e.Exchange == nil {
			return fmt.Errorf("%w: request entry without exchange", ErrInvalidEntry)
		}
		if e.Duration < 0 {
			return fmt.Errorf("%w: negative duration", ErrInvalidEntry)
		}
	case TypeException:
		if e.Exception == nil {
			return fmt.Errorf("%w: exception entry without exception", ErrInvalidEntry)
		}
	case TypeQuery:
		if e.Data == nil {
			return fmt.Errorf("%w: query entry without data", ErrInvalidEntry)
		}
	}
	return nil
}

// Prepare validates e and assigns its identity. Backends call it at the top of
// StoreEntry; the id is a fresh UUID and the timestamp is normalized to UTC
// millisecond precision so every backend round-trips it exactly.
func Prepare(e *Entry, now time.Time) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if e.ID != "" {
		return ErrIDAssigned
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() || e.Timestamp.After(now) {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Millisecond)
	e.ID = uuid.NewString()
	return nil
}

// ValidID reports whether id could have been assigned by Prepare.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
