package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrNothingGenerated is recorded on a job that finished without a
	// single accepted question.
	ErrNothingGenerated = errors.New("no questions were generated")

	// ErrInvalidTransition is returned when a job status change would break
	// the job lifecycle (for example leaving a terminal status).
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUpstreamData is returned when data a job depends on is missing or
	// unusable (deleted subject or exam, missing source document). It is fatal
	// to the whole job.
	ErrUpstreamData = errors.New("upstream data error")
)
