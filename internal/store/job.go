package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
)

// DefaultJobListLimit and MaxJobListLimit bound JobFilter.Limit.
const (
	DefaultJobListLimit = 50
	MaxJobListLimit     = 200
)

// JobFilter narrows a job listing. Zero values mean "any".
type JobFilter struct {
	Kind     domain.JobKind
	Statuses []domain.JobStatus
	Limit    int
}

// EffectiveLimit returns the limit after applying the default and the cap.
func (f JobFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultJobListLimit
	case f.Limit > MaxJobListLimit:
		return MaxJobListLimit
	default:
		return f.Limit
	}
}

// JobStore defines the interface for generation job persistence.
//
// Status changes are conditional: an update never moves a job out of a
// terminal status, so a job observed as cancelled or completed stays that way
// even if a stale worker still holds it.
type JobStore interface {
	// Create saves a new job.
	// Returns ErrJobExternalIDExists if the external ID is already used.
	Create(ctx context.Context, job *domain.GenerationJob) error

	// GetByID retrieves a job by its internal ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)

	// GetByExternalID retrieves a job by its externally visible ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByExternalID(ctx context.Context, externalID string) (*domain.GenerationJob, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, filter JobFilter) ([]*domain.GenerationJob, error)

	// MarkRunning moves a queued or running job to running. The start time is
	// only recorded the first time.
	// Returns ErrJobNotRunnable if the job is terminal, ErrJobNotFound if it does not exist.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// UpdateProgress raises the generated count to generated. The stored count
	// never decreases and never exceeds the requested count.
	UpdateProgress(ctx context.Context, id uuid.UUID, generated int) error

	// MarkTerminal sets a terminal status unless the job already has one.
	// It reports whether the update was applied.
	MarkTerminal(
		ctx context.Context,
		id uuid.UUID,
		status domain.JobStatus,
		completedAt time.Time,
		errorMessage string,
	) (bool, error)

	// ListStale returns jobs in one of the given statuses whose last update is
	// older than updatedBefore.
	ListStale(
		ctx context.Context,
		statuses []domain.JobStatus,
		updatedBefore time.Time,
	) ([]*domain.GenerationJob, error)

	// WithTx returns a new JobStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) JobStore
}
