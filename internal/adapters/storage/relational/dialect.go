// Package relational holds the SQL shared by the PostgreSQL and
// database/sql backends: statements, filters and row hydration.
package relational

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the fixed-width text form used where the database has no
// native timestamp type. Values sort lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Dialect captures the differences between the supported SQL databases.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2) instead of '?'.
	numbered bool
	// Timestamps are bound as TimeLayout strings.
	textTime bool
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true}
	MySQL    = Dialect{Name: "mysql"}
	SQLite   = Dialect{Name: "sqlite", textTime: true}
)

// DialectFor returns the dialect with the given name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported SQL dialect %q", name)
}

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// TimeValue converts t to the driver argument for a timestamp column.
func (d Dialect) TimeValue(t time.Time) any {
	t = t.UTC()
	if d.textTime {
		return t.Format(TimeLayout)
	}
	return t
}

// Time scans timestamp columns from any supported driver: native
// time.Time values as well as text in TimeLayout or MySQL DATETIME form.
type Time struct {
	time.Time
}

var textTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *Time) parse(s string) error {
	for _, layout := range textTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
