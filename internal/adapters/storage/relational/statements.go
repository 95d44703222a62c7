package relational

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"3tcapital/telescope/internal/core/entry"
)

const (
	requestColumns   = "method, url, headers, body, ip, request_id, response_status_code, response_headers, response_body, curl_command, memory_usage_before, memory_usage_after, memory_usage_difference, duration"
	exceptionColumns = "class, file, line, message, stack, context, request_id"
	queryColumns     = "collection, method, query, request_id, result, duration"
)

// Tables lists the tables Telescope owns, children first.
var Tables = []string{"requests", "exceptions", "queries", "entries"}

// Statement is one SQL statement with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// InsertStatements returns the statements persisting a prepared entry: the
// base row followed by its child row. Run them in one transaction.
func (d Dialect) InsertStatements(e *entry.Entry) ([]Statement, error) {
	base := Statement{
		SQL:  d.Rebind("INSERT INTO entries (id, type, timestamp) VALUES (?, ?, ?)"),
		Args: []any{e.ID, string(e.Type), d.TimeValue(e.Timestamp)},
	}

	var child Statement
	switch e.Type {
	case entry.TypeRequest:
		x := e.Exchange
		headers, err := jsonText(x.Request.Headers)
		if err != nil {
			return nil, fmt.Errorf("encode request headers: %w", err)
		}
		respHeaders, err := jsonText(x.Response.Headers)
		if err != nil {
			return nil, fmt.Errorf("encode response headers: %w", err)
		}
		var before, after, diff *int64
		if x.MemoryUsage != nil {
			before, after, diff = &x.MemoryUsage.Before, &x.MemoryUsage.After, &x.MemoryUsage.Difference
		}
		child = Statement{
			SQL: d.Rebind("INSERT INTO requests (id, " + requestColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
			Args: []any{
				e.ID,
				x.Request.Method,
				x.Request.URL,
				headers,
				rawText(x.Request.Body),
				x.Request.IP,
				nullable(x.Request.RequestID),
				x.Response.StatusCode,
				respHeaders,
				x.Response.Body,
				nullable(x.CurlCommand),
				before,
				after,
				diff,
				x.Duration,
			},
		}
	case entry.TypeException:
		x := e.Exception
		var context *string
		if len(x.Context) > 0 {
			text, err := jsonText(x.Context)
			if err != nil {
				return nil, fmt.Errorf("encode exception context: %w", err)
			}
			context = text
		}
		child = Statement{
			SQL: d.Rebind("INSERT INTO exceptions (id, " + exceptionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"),
			Args: []any{
				e.ID,
				nullable(x.Class),
				nullable(x.File),
				x.Line,
				x.Message,
				nullable(x.Stack),
				context,
				nullable(x.RequestID),
			},
		}
	case entry.TypeQuery:
		q := e.Data
		child = Statement{
			SQL: d.Rebind("INSERT INTO queries (id, " + queryColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?)"),
			Args: []any{
				e.ID,
				q.Collection,
				q.Method,
				q.Query,
				nullable(q.RequestID),
				nullable(q.Result),
				q.Duration,
			},
		}
	default:
		return nil, fmt.Errorf("%w: %s", entry.ErrUnsupportedType, e.Type)
	}

	return []Statement{base, child}, nil
}

// BaseQuery selects the common columns of one entry.
func (d Dialect) BaseQuery() string {
	return d.Rebind("SELECT id, type, timestamp FROM entries WHERE id = ?")
}

// ChildQuery selects the type-specific columns of one entry.
func (d Dialect) ChildQuery(t entry.Type) (string, error) {
	switch t {
	case entry.TypeRequest:
		return d.Rebind("SELECT " + requestColumns + " FROM requests WHERE id = ?"), nil
	case entry.TypeException:
		return d.Rebind("SELECT " + exceptionColumns + " FROM exceptions WHERE id = ?"), nil
	case entry.TypeQuery:
		return d.Rebind("SELECT " + queryColumns + " FROM queries WHERE id = ?"), nil
	}
	return "", fmt.Errorf("%w: %s", entry.ErrUnsupportedType, t)
}

// PruneStatements delete every entry older than cutoff, children first. The
// rows affected by the last statement is the number of entries removed.
func (d Dialect) PruneStatements(cutoff time.Time) []Statement {
	ts := d.TimeValue(cutoff)
	stmts := make([]Statement, 0, len(Tables))
	for _, table := range Tables[:len(Tables)-1] {
		stmts = append(stmts, Statement{
			SQL:  d.Rebind("DELETE FROM " + table + " WHERE id IN (SELECT id FROM entries WHERE timestamp < ?)"),
			Args: []any{ts},
		})
	}
	return append(stmts, Statement{
		SQL:  d.Rebind("DELETE FROM entries WHERE timestamp < ?"),
		Args: []any{ts},
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonText encodes v for a JSON column. Text is bound rather than bytes so
// MySQL JSON and PostgreSQL JSONB columns both accept it.
func jsonText(v any) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func rawText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := strings.TrimSpace(string(raw))
	return &s
}
