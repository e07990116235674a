package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/platform/logger"
)

// DefaultThreshold is the similarity at or above which a candidate counts as
// a duplicate.
const DefaultThreshold = 0.85

// Result is the outcome of one deduplication pass.
type Result struct {
	Kept    []domain.QuestionCandidate
	Dropped int
	// MaxScore is the highest similarity seen among kept candidates.
	MaxScore float64
}

// index holds pre-tokenized texts a candidate is compared against.
type index struct {
	entries [][]string
}

func newIndex(texts []string) *index {
	idx := &index{entries: make([][]string, 0, len(texts))}
	for _, t := range texts {
		idx.add(t)
	}
	return idx
}

func (idx *index) add(text string) {
	if tokens := Tokens(text); len(tokens) > 0 {
		idx.entries = append(idx.entries, tokens)
	}
}

// best returns the highest similarity of text against the index, stopping
// early once threshold is reached.
func (idx *index) best(tokens []string, threshold float64) float64 {
	best := 0.0
	for _, e := range idx.entries {
		if s := tokenSetRatio(tokens, e); s > best {
			best = s
			if best >= threshold {
				break
			}
		}
	}
	return best
}

// Deduplicate keeps, in input order, the candidates whose best similarity
// against existing texts and against candidates already kept in this pass is
// below threshold. It has no side effects.
func Deduplicate(existing []string, candidates []domain.QuestionCandidate, threshold float64) Result {
	idx := newIndex(existing)
	res := Result{Kept: make([]domain.QuestionCandidate, 0, len(candidates))}

	for _, c := range candidates {
		tokens := Tokens(c.Question)
		if len(tokens) == 0 {
			res.Dropped++
			continue
		}
		score := idx.best(tokens, threshold)
		if score >= threshold {
			res.Dropped++
			continue
		}
		res.Kept = append(res.Kept, c)
		idx.entries = append(idx.entries, tokens)
		res.MaxScore = max(res.MaxScore, score)
	}
	return res
}

// CorpusSource supplies the persisted question texts of a subject. An
// approximate-match index can implement it without changing Filter.
type CorpusSource interface {
	ListQuestionTexts(ctx context.Context, subjectID uuid.UUID) ([]string, error)
}

// Filter removes candidates that duplicate a subject's persisted questions.
type Filter struct {
	corpus    CorpusSource
	threshold float64
	logger    *slog.Logger
}

// NewFilter creates a Filter. A threshold outside (0, 1] falls back to DefaultThreshold.
func NewFilter(corpus CorpusSource, threshold float64, logger *slog.Logger) *Filter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		corpus:    corpus,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "dedup_filter")),
	}
}

// Threshold returns the configured similarity threshold.
func (f *Filter) Threshold() float64 {
	return f.threshold
}

// Apply loads the subject's corpus and deduplicates candidates against it.
func (f *Filter) Apply(
	ctx context.Context,
	subjectID uuid.UUID,
	candidates []domain.QuestionCandidate,
) (Result, error) {
	if len(candidates) == 0 {
		return Result{Kept: []domain.QuestionCandidate{}}, nil
	}

	existing, err := f.corpus.ListQuestionTexts(ctx, subjectID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load question corpus: %w", err)
	}

	res := Deduplicate(existing, candidates, f.threshold)
	logger.FromContextOrDefault(ctx, f.logger).Debug("deduplicated candidates",
		slog.String("subject_id", subjectID.String()),
		slog.Int("corpus_size", len(existing)),
		slog.Int("candidates", len(candidates)),
		slog.Int("kept", len(res.Kept)),
		slog.Int("dropped", res.Dropped))
	return res, nil
}
