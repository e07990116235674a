package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/examgen/internal/generation"
	"google.golang.org/genai"
)

// capacityHints are fragments of 400 responses that mean the request did not
// fit the model's limits.
var capacityHints = []string{
	"token count",
	"exceeds the maximum",
	"too long",
	"context length",
	"max_output_tokens",
}

// classifyError maps an error from the genai client onto a generation sentinel.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %v", generation.ErrTransientFailure, err)
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}
	return classifyStatus(apiErr.Code, apiErr.Status, apiErr.Message)
}

func classifyStatus(code int, status, message string) error {
	detail := fmt.Sprintf("gemini %d %s: %s", code, status, message)
	lower := strings.ToLower(message)

	switch {
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", generation.ErrTransientFailure, detail)
	case code == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", generation.ErrCapacityExceeded, detail)
	case code == http.StatusBadRequest:
		for _, hint := range capacityHints {
			if strings.Contains(lower, hint) {
				return fmt.Errorf("%w: %s", generation.ErrCapacityExceeded, detail)
			}
		}
		if strings.Contains(lower, "api key") {
			return fmt.Errorf("%w: %s", generation.ErrInvalidConfig, detail)
		}
		return fmt.Errorf("%w: %s", generation.ErrInvalidResponse, detail)
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", generation.ErrInvalidConfig, detail)
	default:
		return fmt.Errorf("%w: %s", generation.ErrGenerationFailed, detail)
	}
}
