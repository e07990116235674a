package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
)

// WaveCommitter writes a wave's questions and the job's progress in one
// transaction.
type WaveCommitter struct {
	db        *sql.DB
	jobs      store.JobStore
	questions store.QuestionStore
	logger    *slog.Logger
}

// NewWaveCommitter creates a committer over the given pool and stores.
func NewWaveCommitter(
	db *sql.DB,
	jobs store.JobStore,
	questions store.QuestionStore,
	logger *slog.Logger,
) *WaveCommitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WaveCommitter{
		db:        db,
		jobs:      jobs,
		questions: questions,
		logger:    logger.With(slog.String("component", "wave_committer")),
	}
}

var _ store.WaveCommitter = (*WaveCommitter)(nil)

// CommitWave implements store.WaveCommitter.CommitWave
func (c *WaveCommitter) CommitWave(
	ctx context.Context,
	jobID uuid.UUID,
	questions []*domain.PersistedQuestion,
	generated int,
) error {
	return store.RunInTransaction(ctx, c.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := c.questions.WithTx(tx).CreateMany(ctx, questions); err != nil {
			return err
		}
		return c.jobs.WithTx(tx).UpdateProgress(ctx, jobID, generated)
	})
}
