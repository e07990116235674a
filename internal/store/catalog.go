package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
)

// CatalogStore gives read-only access to subjects and exams.
type CatalogStore interface {
	// GetSubject returns ErrSubjectNotFound if the subject does not exist.
	GetSubject(ctx context.Context, id uuid.UUID) (*domain.Subject, error)

	// GetExam returns ErrExamNotFound if the exam does not exist.
	GetExam(ctx context.Context, id uuid.UUID) (*domain.Exam, error)
}
