package mongo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"3tcapital/telescope/internal/core/entry"
)

// document is the stored form of an entry. Field names follow the canonical
// dotted paths so filters map one to one onto document paths.
type document struct {
	ID        string    `bson:"_id"`
	Type      string    `bson:"type"`
	Timestamp time.Time `bson:"timestamp"`

	Duration    *float64        `bson:"duration,omitempty"`
	Request     *requestDoc     `bson:"request,omitempty"`
	Response    *responseDoc    `bson:"response,omitempty"`
	CurlCommand string          `bson:"curlCommand,omitempty"`
	MemoryUsage *memoryUsageDoc `bson:"memoryUsage,omitempty"`

	Exception *exceptionDoc `bson:"exception,omitempty"`
	Data      *queryDoc     `bson:"data,omitempty"`
}

type requestDoc struct {
	Method    string            `bson:"method"`
	URL       string            `bson:"url"`
	Headers   map[string]string `bson:"headers"`
	Body      string            `bson:"body,omitempty"`
	IP        string            `bson:"ip"`
	RequestID string            `bson:"requestId,omitempty"`
}

type responseDoc struct {
	StatusCode int               `bson:"statusCode"`
	Headers    map[string]string `bson:"headers"`
	Body       string            `bson:"body"`
}

type memoryUsageDoc struct {
	Before     int64 `bson:"before"`
	After      int64 `bson:"after"`
	Difference int64 `bson:"difference"`
}

type exceptionDoc struct {
	Message   string            `bson:"message"`
	Stack     string            `bson:"stack,omitempty"`
	Class     string            `bson:"class,omitempty"`
	File      string            `bson:"file,omitempty"`
	Line      int               `bson:"line,omitempty"`
	Context   map[string]string `bson:"context,omitempty"`
	RequestID string            `bson:"requestId,omitempty"`
}

type queryDoc struct {
	Method     string  `bson:"method"`
	Query      string  `bson:"query"`
	Collection string  `bson:"collection"`
	Duration   float64 `bson:"duration"`
	Result     string  `bson:"result,omitempty"`
	RequestID  string  `bson:"requestId,omitempty"`
}

func toDocument(e *entry.Entry) (document, error) {
	doc := document{
		ID:        e.ID,
		Type:      string(e.Type),
		Timestamp: e.Timestamp.UTC(),
	}

	switch e.Type {
	case entry.TypeRequest:
		x := e.Exchange
		duration := x.Duration
		doc.Duration = &duration
		doc.Request = &requestDoc{
			Method:    x.Request.Method,
			URL:       x.Request.URL,
			Headers:   x.Request.Headers,
			Body:      string(x.Request.Body),
			IP:        x.Request.IP,
			RequestID: x.Request.RequestID,
		}
		doc.Response = &responseDoc{
			StatusCode: x.Response.StatusCode,
			Headers:    x.Response.Headers,
			Body:       x.Response.Body,
		}
		doc.CurlCommand = x.CurlCommand
		if m := x.MemoryUsage; m != nil {
			doc.MemoryUsage = &memoryUsageDoc{Before: m.Before, After: m.After, Difference: m.Difference}
		}
	case entry.TypeException:
		x := e.Exception
		doc.Exception = &exceptionDoc{
			Message:   x.Message,
			Stack:     x.Stack,
			Class:     x.Class,
			File:      x.File,
			Line:      x.Line,
			RequestID: x.RequestID,
		}
		if len(x.Context) > 0 {
			doc.Exception.Context = make(map[string]string, len(x.Context))
			for line, src := range x.Context {
				doc.Exception.Context[strconv.Itoa(line)] = src
			}
		}
	case entry.TypeQuery:
		q := e.Data
		doc.Data = &queryDoc{
			Method:     q.Method,
			Query:      q.Query,
			Collection: q.Collection,
			Duration:   q.Duration,
			Result:     q.Result,
			RequestID:  q.RequestID,
		}
	default:
		return doc, fmt.Errorf("%w: %s", entry.ErrUnsupportedType, e.Type)
	}
	return doc, nil
}

func (d document) entry() (entry.Entry, error) {
	e := entry.Entry{
		ID:        d.ID,
		Type:      entry.Type(d.Type),
		Timestamp: d.Timestamp.UTC(),
	}

	switch e.Type {
	case entry.TypeRequest:
		if d.Request == nil || d.Response == nil {
			return e, fmt.Errorf("%w: request document %s without request or response", entry.ErrInvalidEntry, d.ID)
		}
		x := entry.Exchange{
			Request: entry.Request{
				Method:    d.Request.Method,
				URL:       d.Request.URL,
				Headers:   d.Request.Headers,
				IP:        d.Request.IP,
				RequestID: d.Request.RequestID,
			},
			Response: entry.Response{
				StatusCode: d.Response.StatusCode,
				Headers:    d.Response.Headers,
				Body:       d.Response.Body,
			},
			CurlCommand: d.CurlCommand,
		}
		if d.Duration != nil {
			x.Duration = *d.Duration
		}
		if d.Request.Body != "" {
			x.Request.Body = json.RawMessage(d.Request.Body)
		}
		if m := d.MemoryUsage; m != nil {
			x.MemoryUsage = &entry.MemoryUsage{Before: m.Before, After: m.After, Difference: m.Difference}
		}
		e.Exchange = &x
	case entry.TypeException:
		if d.Exception == nil {
			return e, fmt.Errorf("%w: exception document %s without exception", entry.ErrInvalidEntry, d.ID)
		}
		x := entry.Exception{
			Message:   d.Exception.Message,
			Stack:     d.Exception.Stack,
			Class:     d.Exception.Class,
			File:      d.Exception.File,
			Line:      d.Exception.Line,
			RequestID: d.Exception.RequestID,
		}
		if len(d.Exception.Context) > 0 {
			x.Context = make(map[int]string, len(d.Exception.Context))
			for key, src := range d.Exception.Context {
				line, err := strconv.Atoi(key)
				if err != nil {
					return e, fmt.Errorf("decode exception context of %s: %w", d.ID, err)
				}
				x.Context[line] = src
			}
		}
		e.Exception = &x
	case entry.TypeQuery:
		if d.Data == nil {
			return e, fmt.Errorf("%w: query document %s without data", entry.ErrInvalidEntry, d.ID)
		}
		e.Data = &entry.Query{
			Method:     d.Data.Method,
			Query:      d.Data.Query,
			Collection: d.Data.Collection,
			Duration:   d.Data.Duration,
			Result:     d.Data.Result,
			RequestID:  d.Data.RequestID,
		}
	default:
		return e, fmt.Errorf("%w: stored entry %s has type %q", entry.ErrUnsupportedType, d.ID, d.Type)
	}
	return e, nil
}
