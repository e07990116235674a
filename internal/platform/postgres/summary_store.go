package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/store"
)

// PostgresSummaryStore implements the store.SummaryStore interface.
type PostgresSummaryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSummaryStore creates a new PostgreSQL implementation of the SummaryStore interface.
func NewPostgresSummaryStore(db store.DBTX, logger *slog.Logger) *PostgresSummaryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSummaryStore{
		db:     db,
		logger: logger.With(slog.String("component", "summary_store")),
	}
}

var _ store.SummaryStore = (*PostgresSummaryStore)(nil)

// Create implements store.SummaryStore.Create
func (s *PostgresSummaryStore) Create(ctx context.Context, summary *domain.SourceSummary) error {
	if err := summary.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	topics, err := marshalStrings(summary.Topics)
	if err != nil {
		return err
	}
	keywords, err := marshalStrings(summary.Keywords)
	if err != nil {
		return err
	}
	sources, err := marshalStrings(summary.SourceDocumentIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_summaries (id, subject_id, exam_id, summary, topics, keywords,
			source_document_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		summary.ID,
		summary.SubjectID,
		summary.ExamID,
		summary.Summary,
		topics,
		keywords,
		sources,
		summary.CreatedAt,
		summary.UpdatedAt,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create summary",
			slog.String("error", err.Error()),
			slog.String("summary_id", summary.ID.String()))
		return MapError(err)
	}
	return nil
}

// ListByTarget implements store.SummaryStore.ListByTarget
func (s *PostgresSummaryStore) ListByTarget(
	ctx context.Context,
	subjectID, examID uuid.UUID,
) ([]*domain.SourceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, exam_id, summary, topics, keywords, source_document_ids,
			created_at, updated_at
		FROM source_summaries
		WHERE subject_id = $1 AND exam_id = $2
		ORDER BY created_at ASC
	`, subjectID, examID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list summaries",
			slog.String("error", err.Error()),
			slog.String("subject_id", subjectID.String()),
			slog.String("exam_id", examID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	summaries := make([]*domain.SourceSummary, 0)
	for rows.Next() {
		var (
			sum                       domain.SourceSummary
			topics, keywords, sources []byte
		)
		if err := rows.Scan(
			&sum.ID,
			&sum.SubjectID,
			&sum.ExamID,
			&sum.Summary,
			&topics,
			&keywords,
			&sources,
			&sum.CreatedAt,
			&sum.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		if err := unmarshalStrings(topics, &sum.Topics); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(keywords, &sum.Keywords); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(sources, &sum.SourceDocumentIDs); err != nil {
			return nil, err
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}
	return summaries, nil
}

// AppendSource implements store.SummaryStore.AppendSource.
// The containment check and the append happen in one statement, so two
// workers appending the same document cannot list it twice.
func (s *PostgresSummaryStore) AppendSource(ctx context.Context, id uuid.UUID, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE source_summaries
		SET source_document_ids = source_document_ids || jsonb_build_array($2::text),
			updated_at = NOW()
		WHERE id = $1 AND NOT (source_document_ids @> jsonb_build_array($2::text))
	`, id, documentID)
	if err != nil {
		return false, MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM source_summaries WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, MapError(err)
	}
	if !exists {
		return false, store.ErrSummaryNotFound
	}
	return false, nil
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	return b, nil
}

func unmarshalStrings(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = []string{}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
