package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps lifecycle errors onto HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, lifecycle.ErrItemNotFound),
		errors.Is(err, lifecycle.ErrVersionNotFound),
		errors.Is(err, lifecycle.ErrRequestNotFound),
		errors.Is(err, lifecycle.ErrUnknownKind):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrRequestNotPending):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, lifecycle.ErrPublishDenied):
		return http.StatusUnprocessableEntity, "publish_denied"
	case errors.Is(err, lifecycle.ErrInvalidSchedule):
		return http.StatusBadRequest, "invalid_schedule"
	case errors.Is(err, errNoActor):
		return http.StatusUnauthorized, "actor_required"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		h.logger.DebugContext(r.Context(), "Request rejected", "status", status, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg, Code: "bad_request"})
}

