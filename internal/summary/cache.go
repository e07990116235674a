package summary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/store"
	"golang.org/x/sync/singleflight"
)

// Cache resolves a document to a stored SourceSummary, reusing summaries of
// the same subject and exam whose topics overlap enough.
type Cache struct {
	store     store.SummaryStore
	extractor Extractor
	threshold float64
	group     singleflight.Group
	logger    *slog.Logger
}

type resolved struct {
	summary *domain.SourceSummary
	reused  bool
}

// NewCache creates a Cache. A threshold outside (0, 1] falls back to
// DefaultOverlapThreshold.
func NewCache(summaries store.SummaryStore, extractor Extractor, threshold float64, log *slog.Logger) *Cache {
	if summaries == nil {
		panic("summary store cannot be nil")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultOverlapThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:     summaries,
		extractor: extractor,
		threshold: threshold,
		logger:    log.With(slog.String("component", "summary_cache")),
	}
}

// Resolve returns the summary that covers doc for the given subject and exam
// and whether it already existed. Concurrent calls for the same document
// share one resolution.
func (c *Cache) Resolve(
	ctx context.Context,
	doc Document,
	subjectID, examID uuid.UUID,
) (*domain.SourceSummary, bool, error) {
	key := subjectID.String() + "/" + examID.String() + "/" + doc.ID
	v, err, shared := c.group.Do(key, func() (any, error) {
		s, reused, err := c.resolve(ctx, doc, subjectID, examID)
		return resolved{summary: s, reused: reused}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(resolved)
	if shared {
		logger.FromContextOrDefault(ctx, c.logger).Debug("shared summary resolution",
			slog.String("document_id", doc.ID))
	}
	return r.summary, r.reused, nil
}

func (c *Cache) resolve(
	ctx context.Context,
	doc Document,
	subjectID, examID uuid.UUID,
) (*domain.SourceSummary, bool, error) {
	log := logger.FromContextOrDefault(ctx, c.logger).With(
		slog.String("document_id", doc.ID),
		slog.String("subject_id", subjectID.String()),
		slog.String("exam_id", examID.String()))

	existing, err := c.store.ListByTarget(ctx, subjectID, examID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list summaries: %w", err)
	}

	if doc.ID != "" {
		for _, s := range existing {
			if s.HasSource(doc.ID) {
				log.Debug("document already summarised", slog.String("summary_id", s.ID.String()))
				return s, true, nil
			}
		}
	}

	if c.extractor == nil {
		return nil, false, fmt.Errorf("%w: no extractor configured", ErrExtractionFailed)
	}
	extraction, err := c.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, false, err
	}

	best, score := bestMatch(existing, extraction.Topics)
	if best != nil && score >= c.threshold {
		if doc.ID != "" {
			if _, err := c.store.AppendSource(ctx, best.ID, doc.ID); err != nil {
				return nil, false, fmt.Errorf("failed to attach document to summary: %w", err)
			}
			best.AddSource(doc.ID)
		}
		log.Info("reusing summary",
			slog.String("summary_id", best.ID.String()),
			slog.Float64("overlap", score))
		return best, true, nil
	}

	created, err := domain.NewSourceSummary(
		subjectID, examID,
		extraction.Summary, extraction.Topics, extraction.Keywords,
		doc.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if err := c.store.Create(ctx, created); err != nil {
		return nil, false, fmt.Errorf("failed to store summary: %w", err)
	}

	log.Info("created summary",
		slog.String("summary_id", created.ID.String()),
		slog.Int("topics", len(created.Topics)),
		slog.Float64("best_overlap", score))
	return created, false, nil
}

func bestMatch(summaries []*domain.SourceSummary, topics []string) (*domain.SourceSummary, float64) {
	var best *domain.SourceSummary
	bestScore := 0.0
	for _, s := range summaries {
		if score := Overlap(s.Topics, topics); best == nil || score > bestScore {
			best, bestScore = s, score
		}
	}
	return best, bestScore
}
