package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
)

// QuestionStore defines the interface for persisted question storage.
type QuestionStore interface {
	// CreateMany saves questions in the given order.
	// IMPORTANT: run it within a transaction together with the job progress
	// update (see WaveCommitter) so a wave is never half committed.
	CreateMany(ctx context.Context, questions []*domain.PersistedQuestion) error

	// ListQuestionTexts returns the text of every question stored for a subject.
	ListQuestionTexts(ctx context.Context, subjectID uuid.UUID) ([]string, error)

	// CountByJob returns how many questions a job has persisted.
	CountByJob(ctx context.Context, jobID uuid.UUID) (int, error)

	// WithTx returns a new QuestionStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) QuestionStore
}

// WaveCommitter persists the accepted questions of one wave together with the
// job's new generated count, atomically.
type WaveCommitter interface {
	CommitWave(
		ctx context.Context,
		jobID uuid.UUID,
		questions []*domain.PersistedQuestion,
		generated int,
	) error
}
