package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
)

// SummaryStore defines the interface for source summary persistence.
// Summaries are never deleted through this interface.
type SummaryStore interface {
	// Create saves a new summary.
	Create(ctx context.Context, summary *domain.SourceSummary) error

	// ListByTarget returns every summary attached to the subject and exam,
	// oldest first.
	ListByTarget(ctx context.Context, subjectID, examID uuid.UUID) ([]*domain.SourceSummary, error)

	// AppendSource adds documentID to a summary's source list. It reports
	// false when the document was already listed.
	// Returns ErrSummaryNotFound if the summary does not exist.
	AppendSource(ctx context.Context, id uuid.UUID, documentID string) (bool, error)
}
