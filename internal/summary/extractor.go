package summary

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/parser"
	"github.com/phrazzld/examgen/internal/platform/logger"
)

// ErrExtractionFailed is returned when a document could not be summarised.
// Callers fall back to generating without a summary.
var ErrExtractionFailed = errors.New("summary extraction failed")

//go:embed prompts/extract.tmpl
var promptFS embed.FS

const systemPrompt = "You condense study material into structured summaries. Respond with JSON only."

// Document is the input of an extraction.
type Document struct {
	ID          string
	Text        string
	SubjectName string
	ExamName    string
}

// Extraction is the structured result of summarising a document.
type Extraction struct {
	Summary  string   `json:"summary"`
	Topics   []string `json:"topics"`
	Keywords []string `json:"keywords"`
}

// Extractor summarises a document.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (*Extraction, error)
}

// ExtractorOptions configures an LLMExtractor.
type ExtractorOptions struct {
	MaxInputTokens  int
	MaxOutputTokens int
	Temperature     float64
	RequestTimeout  time.Duration
	Tokens          *generation.TokenCounter
}

// LLMExtractor extracts summaries with a single language model call.
type LLMExtractor struct {
	provider generation.Provider
	opts     ExtractorOptions
	tmpl     *template.Template
	logger   *slog.Logger
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates an extractor backed by provider.
func NewLLMExtractor(provider generation.Provider, opts ExtractorOptions, log *slog.Logger) (*LLMExtractor, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider cannot be nil", generation.ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Tokens == nil {
		opts.Tokens = generation.NewEstimatingCounter()
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 2048
	}

	tmpl, err := template.ParseFS(promptFS, "prompts/extract.tmpl")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse extraction prompt: %v", generation.ErrInvalidConfig, err)
	}

	return &LLMExtractor{
		provider: provider,
		opts:     opts,
		tmpl:     tmpl,
		logger:   log.With(slog.String("component", "summary_extractor")),
	}, nil
}

// Extract implements Extractor. Every failure wraps ErrExtractionFailed.
func (e *LLMExtractor) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: document %s has no text", ErrExtractionFailed, doc.ID)
	}

	data := doc
	data.Text = e.opts.Tokens.Truncate(text, e.opts.MaxInputTokens)

	var prompt bytes.Buffer
	if err := e.tmpl.Execute(&prompt, data); err != nil {
		return nil, fmt.Errorf("%w: failed to render prompt: %v", ErrExtractionFailed, err)
	}

	callCtx := ctx
	if e.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
	}

	resp, err := e.provider.Generate(callCtx, generation.Request{
		SystemPrompt:    systemPrompt,
		Prompt:          prompt.String(),
		MaxOutputTokens: e.opts.MaxOutputTokens,
		Temperature:     e.opts.Temperature,
		JSON:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}

	var out Extraction
	if err := parser.ParseObject(resp.Text, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	out.Summary = strings.TrimSpace(out.Summary)
	out.Topics = NormalizeTopics(out.Topics)
	out.Keywords = NormalizeTopics(out.Keywords)
	if out.Summary == "" || len(out.Topics) == 0 {
		return nil, fmt.Errorf("%w: response has no summary or topics", ErrExtractionFailed)
	}

	logger.FromContextOrDefault(ctx, e.logger).Debug("extracted summary",
		slog.String("document_id", doc.ID),
		slog.Int("topics", len(out.Topics)),
		slog.Int("keywords", len(out.Keywords)))
	return &out, nil
}
