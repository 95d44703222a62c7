package entry

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 1000
)

// ErrUnsupportedFilter is returned for filter keys no backend can evaluate.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// SortOrder orders results by timestamp, ties broken by id.
type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// Field is a canonical dotted path usable as an equality filter.
type Field string

const (
	FieldMethod         Field = "request.method"
	FieldURL            Field = "request.url"
	FieldIP             Field = "request.ip"
	FieldStatusCode     Field = "response.statusCode"
	FieldExceptionClass Field = "exception.class"
	FieldExceptionFile  Field = "exception.file"
	FieldQueryMethod    Field = "data.method"
	FieldCollection     Field = "data.collection"
)

var filterFields = map[Field]bool{
	FieldMethod:         false,
	FieldURL:            false,
	FieldIP:             false,
	FieldStatusCode:     true,
	FieldExceptionClass: false,
	FieldExceptionFile:  false,
	FieldQueryMethod:    false,
	FieldCollection:     false,
}

// ParseField maps a filter key to a canonical field.
func ParseField(key string) (Field, error) {
	f := Field(key)
	if _, ok := filterFields[f]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFilter, key)
	}
	return f, nil
}

// Numeric reports whether values of f compare as integers.
func (f Field) Numeric() bool {
	return filterFields[f]
}

// IntValue parses v for a numeric field.
func (f Field) IntValue(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s expects an integer", ErrUnsupportedFilter, f)
	}
	return n, nil
}

// ListOptions selects a page of entries. Zero values mean "no constraint".
type ListOptions struct {
	Types     []Type
	RequestID string
	Start     time.Time
	End       time.Time
	Filters   map[Field]string
	Page      int
	PerPage   int
	Sort      SortOrder
}

// Normalize applies defaults and bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	if o.Sort != SortAsc {
		o.Sort = SortDesc
	}
	return o
}

// Offset is the number of entries skipped before the current page.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PerPage
}

type Pagination struct {
	Total       int64 `json:"total"`
	PerPage     int   `json:"perPage"`
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
}

// Page is the envelope returned by GetEntries.
type Page struct {
	Entries    []Entry    `json:"entries"`
	Pagination Pagination `json:"pagination"`
}

// NewPage builds the envelope for normalized options o.
func NewPage(entries []Entry, total int64, o ListOptions) *Page {
	if entries == nil {
		entries = []Entry{}
	}
	totalPages := 0
	if o.PerPage > 0 {
		totalPages = int((total + int64(o.PerPage) - 1) / int64(o.PerPage))
	}
	return &Page{
		Entries: entries,
		Pagination: Pagination{
			Total:       total,
			PerPage:     o.PerPage,
			CurrentPage: o.Page,
			TotalPages:  totalPages,
		},
	}
}
