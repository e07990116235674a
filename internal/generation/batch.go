package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/parser"
	"github.com/phrazzld/examgen/internal/platform/logger"
)

// Default output limits.
const (
	DefaultMaxBatchSize      = 50
	DefaultTokensPerQuestion = 300
	DefaultMaxOutputTokens   = 16384
)

// Mode describes what a unit generates from.
type Mode string

// Generation modes
const (
	ModeSourceDocument  Mode = "source_document"
	ModeDirectKnowledge Mode = "direct_knowledge"
)

// Source is the content a unit generates questions from. Without document
// text and summary the model works from its own knowledge of the subject.
type Source struct {
	SubjectName  string
	ExamName     string
	DocumentText string
	Summary      *domain.SourceSummary
}

// Mode returns the generation mode implied by the source.
func (s Source) Mode() Mode {
	if strings.TrimSpace(s.DocumentText) != "" || s.Summary != nil {
		return ModeSourceDocument
	}
	return ModeDirectKnowledge
}

// Limits bounds the size of a single model call.
type Limits struct {
	MaxBatchSize      int
	TokensPerQuestion int
	MaxOutputTokens   int
	// MaxInputTokens truncates document text. Zero disables truncation.
	MaxInputTokens int
}

// LimitsFromConfig builds Limits from configuration.
func LimitsFromConfig(gen config.GenerationConfig) Limits {
	return Limits{
		MaxBatchSize:      gen.MaxBatchSize,
		TokensPerQuestion: gen.TokensPerQuestion,
		MaxOutputTokens:   gen.MaxOutputTokens,
		MaxInputTokens:    gen.MaxInputTokens,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxBatchSize <= 0 {
		l.MaxBatchSize = DefaultMaxBatchSize
	}
	if l.TokensPerQuestion <= 0 {
		l.TokensPerQuestion = DefaultTokensPerQuestion
	}
	if l.MaxOutputTokens <= 0 {
		l.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return l
}

// OutputTokens returns the output budget for a batch of size questions.
func (l Limits) OutputTokens(size int) int {
	return min(size*l.TokensPerQuestion, l.MaxOutputTokens)
}

// Options configures a BatchGenerator. Zero values fall back to defaults.
type Options struct {
	Policy         RetryPolicy
	Limits         Limits
	Temperature    float64
	RequestTimeout time.Duration
	Prompts        *Prompts
	Tokens         *TokenCounter
}

// UnitRequest asks for one batch of questions.
type UnitRequest struct {
	// Index identifies the unit within its job for logging.
	Index       int
	Source      Source
	BatchSize   int
	AvoidTopics []string
}

// UnitResult is the outcome of one unit. An empty result is a normal outcome.
type UnitResult struct {
	Index      int
	Candidates []domain.QuestionCandidate
	// Calls is the number of provider calls made.
	Calls int
	// BatchSize is the batch size of the last call, after any shrinking.
	BatchSize int
	// Invalid counts parsed questions dropped by validation.
	Invalid int
	// LastErr is the last error seen, kept for logging only.
	LastErr error
}

// BatchGenerator runs generation units against a Provider.
type BatchGenerator struct {
	provider    Provider
	policy      RetryPolicy
	limits      Limits
	temperature float64
	timeout     time.Duration
	prompts     *Prompts
	tokens      *TokenCounter
	logger      *slog.Logger
}

// NewBatchGenerator creates a BatchGenerator.
func NewBatchGenerator(provider Provider, opts Options, log *slog.Logger) (*BatchGenerator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider cannot be nil", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	prompts := opts.Prompts
	if prompts == nil {
		var err error
		if prompts, err = LoadPrompts(""); err != nil {
			return nil, err
		}
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewEstimatingCounter()
	}

	return &BatchGenerator{
		provider:    provider,
		policy:      opts.Policy,
		limits:      opts.Limits.withDefaults(),
		temperature: opts.Temperature,
		timeout:     opts.RequestTimeout,
		prompts:     prompts,
		tokens:      tokens,
		logger:      log.With(slog.String("component", "batch_generator")),
	}, nil
}

// MaxBatchSize returns the largest batch a single unit may request.
func (g *BatchGenerator) MaxBatchSize() int {
	return g.limits.MaxBatchSize
}

// Generate runs one unit and returns up to req.BatchSize valid candidates.
// It never returns an error: transient failures are retried with backoff,
// capacity failures shrink the batch, and once the retry budget is spent or
// a permanent error occurs the unit yields whatever it has, which is nothing.
func (g *BatchGenerator) Generate(ctx context.Context, req UnitRequest) UnitResult {
	log := logger.FromContextOrDefault(ctx, g.logger).With(slog.Int("unit", req.Index))

	size := min(req.BatchSize, g.limits.MaxBatchSize)
	res := UnitResult{Index: req.Index, BatchSize: size}
	if size <= 0 {
		return res
	}

	data := g.promptData(req)
	backoff := g.policy.Backoff()

	for {
		res.Calls++
		res.BatchSize = size

		candidates, invalid, err := g.attempt(ctx, data, size)
		res.Invalid += invalid
		if err == nil {
			res.Candidates = candidates
			log.Debug("unit produced candidates",
				slog.Int("candidates", len(candidates)),
				slog.Int("invalid", invalid),
				slog.Int("batch_size", size),
				slog.Int("calls", res.Calls))
			return res
		}
		res.LastErr = err

		switch {
		case ctx.Err() != nil:
			log.Warn("unit cancelled", slog.String("error", err.Error()))
			return res
		case IsPermanent(err):
			log.Warn("permanent generation error, giving up on unit", slog.String("error", err.Error()))
			return res
		case res.Calls > g.policy.MaxRetries:
			log.Warn("retry budget exhausted, unit yields no questions",
				slog.Int("calls", res.Calls),
				slog.String("error", err.Error()))
			return res
		}

		if errors.Is(err, ErrCapacityExceeded) {
			if size <= g.policy.Floor() {
				log.Warn("capacity exceeded at minimum batch size",
					slog.Int("batch_size", size),
					slog.String("error", err.Error()))
				return res
			}
			next := g.policy.Shrink(size)
			log.Info("capacity exceeded, shrinking batch",
				slog.Int("from", size),
				slog.Int("to", next))
			size = next
			continue
		}

		delay, stop := backoff.Next()
		if stop {
			return res
		}
		log.Info("transient generation error, retrying after delay",
			slog.Int("attempt", res.Calls),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if err := g.policy.sleep(ctx, delay); err != nil {
			return res
		}
	}
}

func (g *BatchGenerator) promptData(req UnitRequest) PromptData {
	data := PromptData{
		SubjectName:  req.Source.SubjectName,
		ExamName:     req.Source.ExamName,
		DocumentText: g.tokens.Truncate(strings.TrimSpace(req.Source.DocumentText), g.limits.MaxInputTokens),
		AvoidTopics:  req.AvoidTopics,
	}
	if s := req.Source.Summary; s != nil {
		data.Summary = s.Summary
		data.Topics = s.Topics
	}
	return data
}

// attempt makes one bounded provider call and parses its output.
func (g *BatchGenerator) attempt(
	ctx context.Context,
	data PromptData,
	size int,
) ([]domain.QuestionCandidate, int, error) {
	data.Count = size
	system, err := g.prompts.System(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	prompt, err := g.prompts.Questions(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.provider.Generate(callCtx, Request{
		SystemPrompt:    system,
		Prompt:          prompt,
		MaxOutputTokens: g.limits.OutputTokens(size),
		Temperature:     g.temperature,
		JSON:            true,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, 0, fmt.Errorf("%w: request timed out after %s", ErrTransientFailure, g.timeout)
		}
		return nil, 0, err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, 0, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	parsed, _, err := parser.ParseQuestions(resp.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	valid := make([]domain.QuestionCandidate, 0, len(parsed))
	for _, c := range parsed {
		if c.Validate() == nil {
			valid = append(valid, c)
		}
	}
	invalid := len(parsed) - len(valid)
	if len(valid) == 0 {
		return nil, invalid, fmt.Errorf("%w: no valid questions among %d parsed", ErrInvalidResponse, len(parsed))
	}

	EnsureTopics(valid)
	if len(valid) > size {
		valid = valid[:size]
	}
	return valid, invalid, nil
}
