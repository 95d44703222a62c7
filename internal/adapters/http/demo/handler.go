// Package demo is a small host API used to exercise the capture paths end to
// end: request logging, query hooks on a wrapped database and exception
// reporting.
package demo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"3tcapital/telescope/internal/adapters/querylog/sqldb"
	"3tcapital/telescope/internal/application/exception"
	httperrors "3tcapital/telescope/internal/infrastructure/http"
)

const schema = `CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE
)`

// ErrUserNotFound is returned when no user matches the id.
var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateUserRequest is the body of POST /demo/users.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email"`
}

// Handler serves the demo routes.
type Handler struct {
	db         *sqldb.DB
	exceptions *exception.Hook
	validate   *validator.Validate
	log        *slog.Logger
}

// NewHandler creates a handler on db. Queries run through db are recorded
// when it was wrapped with query logging enabled.
func NewHandler(db *sqldb.DB, exceptions *exception.Hook, log *slog.Logger) *Handler {
	return &Handler{
		db:         db,
		exceptions: exceptions,
		validate:   validator.New(),
		log:        log,
	}
}

// Migrate creates the users table.
func (h *Handler) Migrate(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// Routes mounts the demo endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users", h.ListUsers)
	r.Post("/users", h.CreateUser)
	r.Get("/users/{id}", h.GetUser)
	r.Get("/error", h.Error)
	r.Get("/panic", h.Panic)
	r.Post("/async", h.Async)
}

// ListUsers handles GET /demo/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), "SELECT id, name, email FROM users ORDER BY id")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			h.handleError(w, r, err)
			return
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		h.handleError(w, r, err)
		return
	}

	httperrors.WriteJSON(w, http.StatusOK, map[string]any{"users": users}, h.log)
}

// CreateUser handles POST /demo/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Invalid request body", []string{err.Error()}, h.log)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Validation failed", validationDetails(err), h.log)
		return
	}

	res, err := h.db.ExecContext(r.Context(), "INSERT INTO users (name, email) VALUES (?, ?)", req.Name, strings.ToLower(req.Email))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	id, err := res.LastInsertId()
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httperrors.WriteJSON(w, http.StatusCreated, User{ID: id, Name: req.Name, Email: strings.ToLower(req.Email)}, h.log)
}

// GetUser handles GET /demo/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httperrors.WriteError(w, http.StatusBadRequest, "Invalid user id", nil, h.log)
		return
	}

	var u User
	err = h.db.QueryRowContext(r.Context(), "SELECT id, name, email FROM users WHERE id = ?", id).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrUserNotFound
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httperrors.WriteJSON(w, http.StatusOK, u, h.log)
}

// Error reports a handled error and answers 500.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request) {
	h.handleError(w, r, errors.New("demo: handled failure"))
}

// Panic fails inside the handler; the recover middleware answers.
func (h *Handler) Panic(w http.ResponseWriter, r *http.Request) {
	panic("demo: unhandled panic")
}

// Async panics in a background goroutine started through the exception
// hook and answers 202 immediately.
func (h *Handler) Async(w http.ResponseWriter, r *http.Request) {
	h.exceptions.Go(r.Context(), func(ctx context.Context) {
		panic(fmt.Errorf("demo: background job failed"))
	})
	httperrors.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"}, h.log)
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrUserNotFound) {
		httperrors.WriteError(w, http.StatusNotFound, "User not found", nil, h.log)
		return
	}

	h.exceptions.Capture(r.Context(), err)
	if h.log != nil {
		h.log.Error("Demo request failed", "path", r.URL.Path, "error", err)
	}
	httperrors.WriteError(w, http.StatusInternalServerError, "Internal server error", nil, h.log)
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return details
}
