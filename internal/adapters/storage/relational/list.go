package relational

import (
	"fmt"
	"sort"
	"strings"

	"3tcapital/telescope/internal/core/entry"
)

const joinedColumns = "e.id, e.type, e.timestamp, " +
	"r.method, r.url, r.headers, r.body, r.ip, r.request_id, r.response_status_code, r.response_headers, r.response_body, r.curl_command, r.memory_usage_before, r.memory_usage_after, r.memory_usage_difference, r.duration, " +
	"x.class, x.file, x.line, x.message, x.stack, x.context, x.request_id, " +
	"q.collection, q.method, q.query, q.request_id, q.result, q.duration"

const joinedFrom = " FROM entries e" +
	" LEFT JOIN requests r ON r.id = e.id" +
	" LEFT JOIN exceptions x ON x.id = e.id" +
	" LEFT JOIN queries q ON q.id = e.id"

// Column expressions for the canonical filter fields.
var filterColumns = map[entry.Field]string{
	entry.FieldMethod:         "r.method",
	entry.FieldURL:            "r.url",
	entry.FieldIP:             "r.ip",
	entry.FieldStatusCode:     "r.response_status_code",
	entry.FieldExceptionClass: "x.class",
	entry.FieldExceptionFile:  "x.file",
	entry.FieldQueryMethod:    "q.method",
	entry.FieldCollection:     "q.collection",
}

// ListQuery is a page query plus the matching count query.
type ListQuery struct {
	SQL        string
	Args       []any
	CountSQL   string
	CountArgs  []any
	Normalized entry.ListOptions
}

// Where builds the WHERE clause for opts with '?' placeholders.
func (d Dialect) Where(opts entry.ListOptions) (string, []any, error) {
	var (
		conds []string
		args  []any
	)

	if len(opts.Types) > 0 {
		marks := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			if _, err := entry.ParseType(string(t)); err != nil {
				return "", nil, err
			}
			marks[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "e.type IN ("+strings.Join(marks, ", ")+")")
	}

	if opts.RequestID != "" {
		conds = append(conds, "(r.request_id = ? OR x.request_id = ? OR q.request_id = ?)")
		args = append(args, opts.RequestID, opts.RequestID, opts.RequestID)
	}

	if !opts.Start.IsZero() {
		conds = append(conds, "e.timestamp >= ?")
		args = append(args, d.TimeValue(opts.Start))
	}
	if !opts.End.IsZero() {
		conds = append(conds, "e.timestamp <= ?")
		args = append(args, d.TimeValue(opts.End))
	}

	for _, field := range sortedFields(opts.Filters) {
		column, ok := filterColumns[field]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", entry.ErrUnsupportedFilter, field)
		}
		value := opts.Filters[field]
		if field.Numeric() {
			n, err := field.IntValue(value)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, column+" = ?")
			args = append(args, n)
			continue
		}
		conds = append(conds, column+" = ?")
		args = append(args, value)
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// ListQuery builds the page and count queries for opts.
func (d Dialect) ListQuery(opts entry.ListOptions) (ListQuery, error) {
	opts = opts.Normalize()

	where, args, err := d.Where(opts)
	if err != nil {
		return ListQuery{}, err
	}

	dir := "DESC"
	if opts.Sort == entry.SortAsc {
		dir = "ASC"
	}

	pageArgs := append(append([]any(nil), args...), opts.PerPage, opts.Offset())
	return ListQuery{
		SQL: d.Rebind("SELECT " + joinedColumns + joinedFrom + where +
			" ORDER BY e.timestamp " + dir + ", e.id " + dir + " LIMIT ? OFFSET ?"),
		Args:       pageArgs,
		CountSQL:   d.Rebind("SELECT COUNT(*)" + joinedFrom + where),
		CountArgs:  args,
		Normalized: opts,
	}, nil
}

// RecentQuery selects the newest limit entries, optionally of one type.
func (d Dialect) RecentQuery(limit int, t entry.Type) (string, []any) {
	query := "SELECT " + joinedColumns + joinedFrom
	var args []any
	if t != "" {
		query += " WHERE e.type = ?"
		args = append(args, string(t))
	}
	query += " ORDER BY e.timestamp DESC, e.id DESC LIMIT ?"
	args = append(args, limit)
	return d.Rebind(query), args
}

func sortedFields(filters map[entry.Field]string) []entry.Field {
	fields := make([]entry.Field, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
