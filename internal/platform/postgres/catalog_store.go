package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
)

// PostgresCatalogStore implements the read-only store.CatalogStore interface.
type PostgresCatalogStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresCatalogStore creates a new PostgreSQL implementation of the CatalogStore interface.
func NewPostgresCatalogStore(db store.DBTX, logger *slog.Logger) *PostgresCatalogStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCatalogStore{
		db:     db,
		logger: logger.With(slog.String("component", "catalog_store")),
	}
}

var _ store.CatalogStore = (*PostgresCatalogStore)(nil)

// GetSubject implements store.CatalogStore.GetSubject
func (s *PostgresCatalogStore) GetSubject(ctx context.Context, id uuid.UUID) (*domain.Subject, error) {
	var subject domain.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, name FROM subjects WHERE id = $1`, id).
		Scan(&subject.ID, &subject.ExamID, &subject.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSubjectNotFound
		}
		return nil, MapError(err)
	}
	return &subject, nil
}

// GetExam implements store.CatalogStore.GetExam
func (s *PostgresCatalogStore) GetExam(ctx context.Context, id uuid.UUID) (*domain.Exam, error) {
	var exam domain.Exam
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM exams WHERE id = $1`, id).
		Scan(&exam.ID, &exam.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrExamNotFound
		}
		return nil, MapError(err)
	}
	return &exam, nil
}
