package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"google.golang.org/genai"
)

// contentGenerator is the subset of *genai.Models the provider calls.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Provider implements generation.Provider using Gemini.
type Provider struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates a Gemini client from the LLM configuration.
func NewProvider(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (*Provider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return newProvider(client.Models, cfg.ModelName, log), nil
}

func newProvider(models contentGenerator, model string, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		models: models,
		model:  model,
		logger: log.With(slog.String("component", "gemini"), slog.String("model", model)),
	}
}

// Generate sends one prompt and returns the model's text.
func (p *Provider) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		classified := classifyError(err)
		log.WarnContext(ctx, "gemini call failed", slog.String("error", classified.Error()))
		return nil, classified
	}

	out, err := toResponse(resp)
	if err != nil {
		log.WarnContext(ctx, "unusable gemini response", slog.String("error", err.Error()))
		return nil, err
	}
	log.DebugContext(ctx, "gemini call succeeded",
		slog.Int("input_tokens", out.Usage.InputTokens),
		slog.Int("output_tokens", out.Usage.OutputTokens),
		slog.String("finish_reason", out.FinishReason))
	return out, nil
}

// toResponse extracts the first candidate's text and checks why generation stopped.
func toResponse(resp *genai.GenerateContentResponse) (*generation.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return nil, fmt.Errorf("%w: finish reason %s", generation.ErrContentBlocked, candidate.FinishReason)
	case genai.FinishReasonMaxTokens:
		return nil, fmt.Errorf("%w: output truncated at the token limit", generation.ErrCapacityExceeded)
	}

	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("%w: empty candidate", generation.ErrInvalidResponse)
	}

	out := &generation.Response{Text: text, FinishReason: string(candidate.FinishReason)}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = generation.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return out, nil
}
