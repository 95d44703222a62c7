package health

import (
	"net/http"

	apphealth "3tcapital/telescope/internal/application/health"
	corehealth "3tcapital/telescope/internal/core/health"
	httperrors "3tcapital/telescope/internal/infrastructure/http"
)

// Handler bridges HTTP traffic with the health application service.
type Handler struct {
	service *apphealth.Service
}

func NewHandler(service *apphealth.Service) *Handler {
	return &Handler{service: service}
}

// Status answers 200 when every dependency is up and 503 otherwise.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	response := h.service.Status(r.Context())

	code := http.StatusOK
	if response.Status != corehealth.StatusUp {
		code = http.StatusServiceUnavailable
	}
	httperrors.WriteJSON(w, code, response, nil)
}
