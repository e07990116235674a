package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/examgen/internal/api/shared"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/redact"
	"github.com/phrazzld/examgen/internal/store"
	"github.com/phrazzld/examgen/internal/task"
)

// MapErrorToStatusCode maps service errors to HTTP status codes.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a message that can be shown to API clients.
// Validation messages describe the caller's own input and are passed through.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidID):
		return redact.Error(err)
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, store.ErrDuplicate):
		return "Job already exists"
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrQueueClosed):
		return "Job queue unavailable, retry later"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the response for err. A non-empty message replaces
// the derived client message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), message, err)
}

// SanitizeValidationError turns validator errors into a short client message.
// Fields are named by their JSON names (see shared.ValidateRequest).
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag())))
	}
	return strings.Join(msgs, "; ")
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "uuid", "uuid4":
		return "must be a UUID"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "oneof":
		return "invalid value"
	case "required_if":
		return "required for this job kind"
	default:
		return "validation failed"
	}
}
