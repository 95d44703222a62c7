package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the error envelope the dashboard understands.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status.
func WriteError(w http.ResponseWriter, statusCode int, message string, details []string, log *slog.Logger) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Details: details}, log)
}

// WriteJSON encodes payload as the response body.
func WriteJSON(w http.ResponseWriter, statusCode int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Status is already on the wire; nothing else can be sent.
		if log != nil {
			log.Error("failed to encode response", "status", statusCode, "error", err)
		}
	}
}
