package generation

import (
	"context"
	"time"

	"github.com/phrazzld/examgen/internal/config"
	"github.com/sethvargo/go-retry"
)

// DefaultMinBatchSize is the smallest batch a capacity error shrinks to.
const DefaultMinBatchSize = 5

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy controls how one generation unit reacts to failures.
//
// MaxRetries is shared between capacity shrinks and transient retries, so a
// unit makes at most MaxRetries+1 calls.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
	MinBatchSize  int
	Sleep         Sleeper
}

// NewRetryPolicy builds a policy from configuration.
func NewRetryPolicy(llm config.LLMConfig, gen config.GenerationConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    llm.MaxRetries,
		BaseDelay:     llm.BaseDelay(),
		MaxDelay:      llm.MaxDelay(),
		JitterPercent: llm.JitterPercent,
		MinBatchSize:  gen.MinBatchSize,
		Sleep:         SleepContext,
	}
}

// Floor returns the minimum batch size, never below one.
func (p RetryPolicy) Floor() int {
	if p.MinBatchSize <= 0 {
		return 1
	}
	return p.MinBatchSize
}

// Shrink halves size without going below the floor.
func (p RetryPolicy) Shrink(size int) int {
	return max(size/2, p.Floor())
}

// Backoff returns a fresh delay sequence: BaseDelay doubling per retry,
// with optional +/- JitterPercent, capped at MaxDelay.
func (p RetryPolicy) Backoff() retry.Backoff {
	if p.BaseDelay <= 0 {
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}

	b := retry.NewExponential(p.BaseDelay)
	if jitter := min(p.JitterPercent, 100); jitter > 0 {
		b = retry.WithJitterPercent(jitter, b)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return b
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return SleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}
