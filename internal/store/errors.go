package store

import (
	"errors"
	"fmt"
)

// Store errors shared by the Postgres and in-memory implementations. The
// entity specific errors wrap the generic ones, so callers may match either.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrDuplicate         = errors.New("entity already exists")
	ErrInvalidEntity     = errors.New("invalid entity")
	ErrUpdateFailed      = errors.New("update failed")
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrJobNotFound indicates that the requested generation job does not exist.
	ErrJobNotFound = fmt.Errorf("%w: generation job", ErrNotFound)

	// ErrSubjectNotFound indicates that the requested subject does not exist.
	ErrSubjectNotFound = fmt.Errorf("%w: subject", ErrNotFound)

	// ErrExamNotFound indicates that the requested exam does not exist.
	ErrExamNotFound = fmt.Errorf("%w: exam", ErrNotFound)

	// ErrSummaryNotFound indicates that the requested source summary does not exist.
	ErrSummaryNotFound = fmt.Errorf("%w: source summary", ErrNotFound)

	// ErrJobExternalIDExists indicates that a job with the given external ID
	// already exists.
	ErrJobExternalIDExists = fmt.Errorf("%w: job external id", ErrDuplicate)

	// ErrJobNotRunnable is returned when a job cannot be moved to running
	// because it already reached a terminal status.
	ErrJobNotRunnable = fmt.Errorf("%w: job is not runnable", ErrUpdateFailed)
)

// IsNotFoundError reports whether err is a missing job, subject, exam or summary.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError reports whether err is a unique key conflict.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError names the entity and operation behind a failure, such as
// "update_progress" on "job".
type StoreError struct {
	Entity    string
	Operation string
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
