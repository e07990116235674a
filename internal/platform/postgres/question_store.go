package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/store"
)

// PostgresQuestionStore implements the store.QuestionStore interface.
type PostgresQuestionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresQuestionStore creates a new PostgreSQL implementation of the QuestionStore interface.
func NewPostgresQuestionStore(db store.DBTX, logger *slog.Logger) *PostgresQuestionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresQuestionStore{
		db:     db,
		logger: logger.With(slog.String("component", "question_store")),
	}
}

var _ store.QuestionStore = (*PostgresQuestionStore)(nil)

// WithTx implements store.QuestionStore.WithTx
func (s *PostgresQuestionStore) WithTx(tx *sql.Tx) store.QuestionStore {
	return &PostgresQuestionStore{db: tx, logger: s.logger}
}

// CreateMany implements store.QuestionStore.CreateMany.
// Rows are inserted one by one in slice order; the seq column keeps that order.
func (s *PostgresQuestionStore) CreateMany(ctx context.Context, questions []*domain.PersistedQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO questions (id, subject_id, exam_id, question, options, correct_option,
			topics, created_by, source_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		log.Error("failed to prepare question insert", slog.String("error", err.Error()))
		return MapError(err)
	}
	defer func() { _ = stmt.Close() }()

	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("%w: options: %v", store.ErrInvalidEntity, err)
		}
		topics := q.Topics
		if topics == nil {
			topics = []string{}
		}
		topicsJSON, err := json.Marshal(topics)
		if err != nil {
			return fmt.Errorf("%w: topics: %v", store.ErrInvalidEntity, err)
		}

		if _, err := stmt.ExecContext(ctx,
			q.ID,
			q.SubjectID,
			q.ExamID,
			q.Question,
			options,
			q.CorrectOption,
			topicsJSON,
			q.CreatedBy,
			q.SourceJobID,
			q.CreatedAt,
		); err != nil {
			log.Error("failed to insert question",
				slog.String("error", err.Error()),
				slog.String("question_id", q.ID.String()),
				slog.String("job_id", q.SourceJobID.String()))
			return MapError(err)
		}
	}

	log.Debug("questions created", slog.Int("count", len(questions)))
	return nil
}

// ListQuestionTexts implements store.QuestionStore.ListQuestionTexts
func (s *PostgresQuestionStore) ListQuestionTexts(ctx context.Context, subjectID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question FROM questions WHERE subject_id = $1 ORDER BY seq ASC`, subjectID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list question texts",
			slog.String("error", err.Error()),
			slog.String("subject_id", subjectID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	texts := make([]string, 0)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan question row: %w", err)
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating question rows: %w", err)
	}
	return texts, nil
}

// CountByJob implements store.QuestionStore.CountByJob
func (s *PostgresQuestionStore) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE source_job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, MapError(err)
	}
	return n, nil
}
