package generation

import "errors"

// Errors returned by providers and the batch generator. Providers wrap the
// provider specific error with one of these so callers can branch with errors.Is.
var (
	// ErrGenerationFailed is returned when generation fails for any general reason
	ErrGenerationFailed = errors.New("failed to generate questions")

	// ErrInvalidResponse is returned when the model response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during question generation")

	// ErrCapacityExceeded is returned when the request or the requested output
	// does not fit the model's context or output limits. Retrying with a
	// smaller batch may succeed.
	ErrCapacityExceeded = errors.New("language model capacity exceeded")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")
)

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidConfig)
}
