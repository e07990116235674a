// Package openaichat implements generation.Provider on the OpenAI chat
// completions API and on compatible servers reachable through a base URL.
package openaichat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/platform/logger"
)

// completer is the subset of the chat completions service the provider calls.
type completer interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Provider implements generation.Provider using OpenAI chat completions.
type Provider struct {
	completions completer
	model       string
	logger      *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates an OpenAI client from the LLM configuration. The SDK's
// own retries are disabled; the batch generator owns the retry policy.
func NewProvider(cfg config.LLMConfig, log *slog.Logger) (*Provider, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithMaxRetries(0),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if cfg.RequestTimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
	}
	client := openai.NewClient(opts...)
	return newProvider(&client.Chat.Completions, cfg.ModelName, log), nil
}

func newProvider(c completer, model string, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		completions: c,
		model:       model,
		logger:      log.With(slog.String("component", "openai"), slog.String("model", model)),
	}
}

// Generate sends one chat completion request and returns the first choice.
func (p *Provider) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	completion, err := p.completions.New(ctx, p.params(req))
	if err != nil {
		classified := classifyError(err)
		log.WarnContext(ctx, "openai call failed", slog.String("error", classified.Error()))
		return nil, classified
	}

	out, err := toResponse(completion)
	if err != nil {
		log.WarnContext(ctx, "unusable openai response", slog.String("error", err.Error()))
		return nil, err
	}
	log.DebugContext(ctx, "openai call succeeded",
		slog.Int("input_tokens", out.Usage.InputTokens),
		slog.Int("output_tokens", out.Usage.OutputTokens))
	return out, nil
}

func (p *Provider) params(req generation.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}
	return params
}

func toResponse(c *openai.ChatCompletion) (*generation.Response, error) {
	if c == nil || len(c.Choices) == 0 {
		return nil, fmt.Errorf("%w: no completion choices returned", generation.ErrInvalidResponse)
	}
	choice := c.Choices[0]

	switch choice.FinishReason {
	case "length":
		return nil, fmt.Errorf("%w: output truncated at the token limit", generation.ErrCapacityExceeded)
	case "content_filter":
		return nil, fmt.Errorf("%w: completion filtered", generation.ErrContentBlocked)
	}
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: model refused: %s", generation.ErrContentBlocked, choice.Message.Refusal)
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: empty completion", generation.ErrInvalidResponse)
	}
	return &generation.Response{
		Text:         text,
		FinishReason: choice.FinishReason,
		Usage: generation.Usage{
			InputTokens:  int(c.Usage.PromptTokens),
			OutputTokens: int(c.Usage.CompletionTokens),
		},
	}, nil
}

// classifyError maps an SDK error onto a generation sentinel. The message is
// rebuilt from the error's fields because *openai.Error formats its request
// and response, which are absent on errors not produced by the client.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %v", generation.ErrTransientFailure, err)
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	detail := fmt.Sprintf("openai %d %s: %s", apiErr.StatusCode, apiErr.Code, apiErr.Message)
	switch {
	case apiErr.Code == "context_length_exceeded" || apiErr.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", generation.ErrCapacityExceeded, detail)
	case apiErr.Code == "insufficient_quota":
		return fmt.Errorf("%w: %s", generation.ErrInvalidConfig, detail)
	case apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusConflict,
		apiErr.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", generation.ErrTransientFailure, detail)
	case apiErr.StatusCode == http.StatusUnauthorized,
		apiErr.StatusCode == http.StatusForbidden,
		apiErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", generation.ErrInvalidConfig, detail)
	case apiErr.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", generation.ErrInvalidResponse, detail)
	default:
		return fmt.Errorf("%w: %s", generation.ErrGenerationFailed, detail)
	}
}
