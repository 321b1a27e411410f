package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rezkam/exportd/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// Conflict sends a 409 Conflict error.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, "CONFLICT", message, http.StatusConflict)
}

// PayloadTooLarge sends a 413 for submissions over the unit cap.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	Error(w, "TOO_MANY_UNITS", message, http.StatusRequestEntityTooLarge)
}

// InternalError sends a 500 with a generic message; the real error is logged
// server-side only.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// Error sends a generic error response.
func Error(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromDomainError maps domain errors to HTTP responses.
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrTooManyUnits):
		PayloadTooLarge(w, err.Error())
	case errors.Is(err, domain.ErrJobNotFound):
		NotFound(w, "job")
	case errors.Is(err, domain.ErrUnitNotFound):
		NotFound(w, "unit")
	case errors.Is(err, domain.ErrJobKeyConflict):
		Conflict(w, err.Error())
	case errors.Is(err, domain.ErrJobNotCancellable):
		Conflict(w, "job is already terminal")
	case errors.Is(err, domain.ErrUnitNotRedrivable):
		Conflict(w, "unit is not in DLQ")
	default:
		InternalError(w, r, err)
	}
}
