package generation

import "context"

// Request is a single call to a language model.
type Request struct {
	SystemPrompt    string
	Prompt          string
	MaxOutputTokens int
	Temperature     float64
	// JSON asks the provider to constrain the output to JSON when it supports that.
	JSON bool
}

// Usage reports token consumption of one call, when the provider returns it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the raw text a model produced for a Request.
type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Provider is the boundary between the pipeline and an external generative
// text service. Implementations must map their errors onto the sentinel
// errors of this package (ErrCapacityExceeded, ErrTransientFailure,
// ErrContentBlocked, ErrInvalidResponse, ErrInvalidConfig).
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f ProviderFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
