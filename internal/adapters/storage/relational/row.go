package relational

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"3tcapital/telescope/internal/core/entry"
)

// Scanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Row holds every column an entry can be hydrated from. Child columns are
// nullable because LEFT JOINs leave the other children empty.
type Row struct {
	ID        string
	Type      string
	Timestamp Time

	Method           sql.NullString
	URL              sql.NullString
	Headers          sql.NullString
	Body             sql.NullString
	IP               sql.NullString
	RequestID        sql.NullString
	StatusCode       sql.NullInt64
	ResponseHeaders  sql.NullString
	ResponseBody     sql.NullString
	CurlCommand      sql.NullString
	MemoryBefore     sql.NullInt64
	MemoryAfter      sql.NullInt64
	MemoryDifference sql.NullInt64
	RequestDuration  sql.NullFloat64

	Class              sql.NullString
	File               sql.NullString
	Line               sql.NullInt64
	Message            sql.NullString
	Stack              sql.NullString
	Context            sql.NullString
	ExceptionRequestID sql.NullString

	Collection     sql.NullString
	QueryMethod    sql.NullString
	Query          sql.NullString
	QueryRequestID sql.NullString
	Result         sql.NullString
	QueryDuration  sql.NullFloat64
}

// BaseDest returns scan targets for BaseQuery.
func (r *Row) BaseDest() []any {
	return []any{&r.ID, &r.Type, &r.Timestamp}
}

// ChildDest returns scan targets for ChildQuery(t).
func (r *Row) ChildDest(t entry.Type) []any {
	switch t {
	case entry.TypeRequest:
		return r.requestDest()
	case entry.TypeException:
		return r.exceptionDest()
	case entry.TypeQuery:
		return r.queryDest()
	}
	return nil
}

// JoinedDest returns scan targets for ListQuery and RecentQuery rows.
func (r *Row) JoinedDest() []any {
	dest := r.BaseDest()
	dest = append(dest, r.requestDest()...)
	dest = append(dest, r.exceptionDest()...)
	return append(dest, r.queryDest()...)
}

func (r *Row) requestDest() []any {
	return []any{
		&r.Method, &r.URL, &r.Headers, &r.Body, &r.IP, &r.RequestID,
		&r.StatusCode, &r.ResponseHeaders, &r.ResponseBody, &r.CurlCommand,
		&r.MemoryBefore, &r.MemoryAfter, &r.MemoryDifference, &r.RequestDuration,
	}
}

func (r *Row) exceptionDest() []any {
	return []any{&r.Class, &r.File, &r.Line, &r.Message, &r.Stack, &r.Context, &r.ExceptionRequestID}
}

func (r *Row) queryDest() []any {
	return []any{&r.Collection, &r.QueryMethod, &r.Query, &r.QueryRequestID, &r.Result, &r.QueryDuration}
}

// Entry converts the scanned columns into an entry.
func (r *Row) Entry() (entry.Entry, error) {
	e := entry.Entry{
		ID:        r.ID,
		Type:      entry.Type(r.Type),
		Timestamp: r.Timestamp.Time,
	}

	switch e.Type {
	case entry.TypeRequest:
		x := entry.Exchange{
			Duration: r.RequestDuration.Float64,
			Request: entry.Request{
				Method:    r.Method.String,
				URL:       r.URL.String,
				IP:        r.IP.String,
				RequestID: r.RequestID.String,
			},
			Response: entry.Response{
				StatusCode: int(r.StatusCode.Int64),
				Body:       r.ResponseBody.String,
			},
			CurlCommand: r.CurlCommand.String,
		}
		if err := decodeJSON(r.Headers, &x.Request.Headers); err != nil {
			return e, fmt.Errorf("decode request headers of %s: %w", r.ID, err)
		}
		if err := decodeJSON(r.ResponseHeaders, &x.Response.Headers); err != nil {
			return e, fmt.Errorf("decode response headers of %s: %w", r.ID, err)
		}
		if r.Body.Valid && r.Body.String != "" {
			x.Request.Body = json.RawMessage(r.Body.String)
		}
		if r.MemoryBefore.Valid || r.MemoryAfter.Valid {
			x.MemoryUsage = &entry.MemoryUsage{
				Before:     r.MemoryBefore.Int64,
				After:      r.MemoryAfter.Int64,
				Difference: r.MemoryDifference.Int64,
			}
		}
		e.Exchange = &x
	case entry.TypeException:
		x := entry.Exception{
			Message:   r.Message.String,
			Stack:     r.Stack.String,
			Class:     r.Class.String,
			File:      r.File.String,
			Line:      int(r.Line.Int64),
			RequestID: r.ExceptionRequestID.String,
		}
		if err := decodeJSON(r.Context, &x.Context); err != nil {
			return e, fmt.Errorf("decode exception context of %s: %w", r.ID, err)
		}
		e.Exception = &x
	case entry.TypeQuery:
		e.Data = &entry.Query{
			Method:     r.QueryMethod.String,
			Query:      r.Query.String,
			Collection: r.Collection.String,
			Duration:   r.QueryDuration.Float64,
			Result:     r.Result.String,
			RequestID:  r.QueryRequestID.String,
		}
	default:
		return e, fmt.Errorf("%w: stored entry %s has type %q", entry.ErrUnsupportedType, r.ID, r.Type)
	}

	return e, nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
