package entries

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"3tcapital/telescope/internal/core/entry"
	httperrors "3tcapital/telescope/internal/infrastructure/http"
)

// DefaultRecentLimit is the number of entries /recent returns without a limit.
const DefaultRecentLimit = 100

// Query parameters that are not entry field filters.
var reservedParams = map[string]bool{
	"type":      true,
	"page":      true,
	"perPage":   true,
	"requestId": true,
	"startDate": true,
	"endDate":   true,
	"sort":      true,
}

// Handler serves the entries API of the dashboard.
type Handler struct {
	reader entry.Reader
	log    *slog.Logger
}

// NewHandler creates a new entries HTTP handler.
func NewHandler(reader entry.Reader, log *slog.Logger) *Handler {
	return &Handler{reader: reader, log: log}
}

// List handles GET {prefix}/api/entries.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := ParseListOptions(r.URL.Query())
	if err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, err.Error(), nil, h.log)
		return
	}

	page, err := h.reader.GetEntries(r.Context(), opts)
	if err != nil {
		if errors.Is(err, entry.ErrUnsupportedFilter) || errors.Is(err, entry.ErrUnsupportedType) {
			httperrors.WriteError(w, http.StatusBadRequest, err.Error(), nil, h.log)
			return
		}
		h.log.Error("Failed to retrieve entries", "error", err)
		httperrors.WriteError(w, http.StatusInternalServerError, "Failed to retrieve entries", nil, h.log)
		return
	}

	httperrors.WriteJSON(w, http.StatusOK, page, h.log)
}

// Get handles GET {prefix}/api/entries/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := h.reader.GetEntry(r.Context(), id)
	if err != nil {
		h.log.Error("Failed to retrieve entry", "entry_id", id, "error", err)
		httperrors.WriteError(w, http.StatusInternalServerError, "Failed to retrieve entry", nil, h.log)
		return
	}
	if e == nil {
		httperrors.WriteError(w, http.StatusNotFound, "Entry not found", nil, h.log)
		return
	}

	httperrors.WriteJSON(w, http.StatusOK, e, h.log)
}

// Recent handles GET {prefix}/api/entries/recent.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := DefaultRecentLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httperrors.WriteError(w, http.StatusBadRequest, "limit must be a positive integer", nil, h.log)
			return
		}
		limit = min(n, entry.MaxPerPage)
	}

	var t entry.Type
	if v := q.Get("type"); v != "" {
		parsed, err := entry.ParseType(v)
		if err != nil {
			httperrors.WriteError(w, http.StatusBadRequest, err.Error(), nil, h.log)
			return
		}
		t = parsed
	}

	recent, err := h.reader.GetRecentEntries(r.Context(), limit, t)
	if err != nil {
		h.log.Error("Failed to retrieve recent entries", "error", err)
		httperrors.WriteError(w, http.StatusInternalServerError, "Failed to retrieve entries", nil, h.log)
		return
	}
	if recent == nil {
		recent = []entry.Entry{}
	}

	httperrors.WriteJSON(w, http.StatusOK, map[string]any{"entries": recent}, h.log)
}

// ParseListOptions converts dashboard query parameters into list options.
// Keys outside the reserved set must be canonical filter fields.
func ParseListOptions(q url.Values) (entry.ListOptions, error) {
	var opts entry.ListOptions

	types, err := entry.ParseTypes(q.Get("type"))
	if err != nil {
		return opts, err
	}
	opts.Types = types

	if opts.Page, err = intParam(q, "page"); err != nil {
		return opts, err
	}
	if opts.PerPage, err = intParam(q, "perPage"); err != nil {
		return opts, err
	}

	opts.RequestID = q.Get("requestId")

	if opts.Start, err = dateParam(q, "startDate", false); err != nil {
		return opts, err
	}
	if opts.End, err = dateParam(q, "endDate", true); err != nil {
		return opts, err
	}

	switch strings.ToLower(q.Get("sort")) {
	case "", "desc":
		opts.Sort = entry.SortDesc
	case "asc":
		opts.Sort = entry.SortAsc
	default:
		return opts, fmt.Errorf("sort must be asc or desc")
	}

	for key, values := range q {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		// Non-field parameters (cache busters, stray UI state) are ignored.
		field, err := entry.ParseField(key)
		if err != nil {
			continue
		}
		if field.Numeric() {
			if _, err := field.IntValue(values[0]); err != nil {
				return opts, err
			}
		}
		if opts.Filters == nil {
			opts.Filters = make(map[entry.Field]string)
		}
		opts.Filters[field] = values[0]
	}

	return opts, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// dateParam accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func dateParam(q url.Values, key string, endOfDay bool) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp or a YYYY-MM-DD date", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
