package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/examgen/internal/api/shared"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
	"github.com/phrazzld/examgen/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidRequested), http.StatusBadRequest},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest},
		{"job not found", store.ErrJobNotFound, http.StatusNotFound},
		{"duplicate", store.ErrJobExternalIDExists, http.StatusConflict},
		{"queue full", fmt.Errorf("failed to publish job: %w", task.ErrQueueFull), http.StatusServiceUnavailable},
		{"queue closed", task.ErrQueueClosed, http.StatusServiceUnavailable},
		{"other", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorToStatusCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "An unexpected error occurred",
		GetSafeErrorMessage(errors.New("pq: relation generation_jobs does not exist")))
	assert.Equal(t, "Job not found", GetSafeErrorMessage(store.ErrJobNotFound))
	assert.Equal(t, "validation failed: requested question count must be positive",
		GetSafeErrorMessage(fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidRequested)))
}

func TestSanitizeValidationError(t *testing.T) {
	err := shared.ValidateRequest(CreateJobRequest{Kind: "from_audio", Requested: 1})

	msg := SanitizeValidationError(err)
	assert.Contains(t, msg, "Invalid kind: invalid value")
	assert.Contains(t, msg, "Invalid subject_id: required field")
	assert.Contains(t, msg, "Invalid exam_id: required field")

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("boom")))
}
