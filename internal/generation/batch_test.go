package generation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokensPerQuestion = 300

func questionsJSON(n int, prefix string) string {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{
			"question":       fmt.Sprintf("%s question number %d", prefix, i),
			"options":        []string{"alpha", "beta", "gamma", "delta"},
			"correct_option": "beta",
		}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// recorder is a provider that replays scripted outcomes and records the
// batch size of every call.
type recorder struct {
	mu      sync.Mutex
	sizes   []int
	prompts []string
	respond func(call, size int) (*generation.Response, error)
}

func (r *recorder) Generate(_ context.Context, req generation.Request) (*generation.Response, error) {
	r.mu.Lock()
	size := req.MaxOutputTokens / tokensPerQuestion
	r.sizes = append(r.sizes, size)
	r.prompts = append(r.prompts, req.Prompt)
	call := len(r.sizes)
	r.mu.Unlock()
	return r.respond(call, size)
}

type sleepLog struct {
	delays []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newGenerator(t *testing.T, p generation.Provider, maxRetries int, sleeps *sleepLog) *generation.BatchGenerator {
	t.Helper()
	g, err := generation.NewBatchGenerator(p, generation.Options{
		Policy: generation.RetryPolicy{
			MaxRetries:   maxRetries,
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			MinBatchSize: 5,
			Sleep:        sleeps.sleep,
		},
		Limits: generation.Limits{
			MaxBatchSize:      50,
			TokensPerQuestion: tokensPerQuestion,
			MaxOutputTokens:   100000,
		},
	}, nil)
	require.NoError(t, err)
	return g
}

func directSource() generation.Source {
	return generation.Source{SubjectName: "Cell Biology", ExamName: "MCAT"}
}

func TestGenerateCapacityShrinksBatch(t *testing.T) {
	p := &recorder{respond: func(call, size int) (*generation.Response, error) {
		if size > 25 {
			return nil, fmt.Errorf("%w: too many tokens", generation.ErrCapacityExceeded)
		}
		return &generation.Response{Text: questionsJSON(size, "shrunk")}, nil
	}}
	sleeps := &sleepLog{}
	g := newGenerator(t, p, 3, sleeps)

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 50})

	assert.Equal(t, []int{50, 25}, p.sizes)
	assert.Len(t, res.Candidates, 25)
	assert.Equal(t, 25, res.BatchSize)
	assert.Equal(t, 2, res.Calls)
	assert.Empty(t, sleeps.delays, "shrinking retries immediately")
}

func TestGenerateCapacityNeverBelowFloor(t *testing.T) {
	p := &recorder{respond: func(int, int) (*generation.Response, error) {
		return nil, generation.ErrCapacityExceeded
	}}
	g := newGenerator(t, p, 10, &sleepLog{})

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 50})

	assert.Equal(t, []int{50, 25, 12, 6, 5}, p.sizes)
	assert.Empty(t, res.Candidates)
	assert.ErrorIs(t, res.LastErr, generation.ErrCapacityExceeded)
}

func TestGenerateCapacitySharesRetryBudget(t *testing.T) {
	p := &recorder{respond: func(int, int) (*generation.Response, error) {
		return nil, generation.ErrCapacityExceeded
	}}
	g := newGenerator(t, p, 3, &sleepLog{})

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 50})

	assert.Equal(t, []int{50, 25, 12, 6}, p.sizes)
	assert.Equal(t, 4, res.Calls)
	assert.Empty(t, res.Candidates)
}

func TestGenerateTransientBackoff(t *testing.T) {
	p := &recorder{respond: func(call, size int) (*generation.Response, error) {
		if call < 3 {
			return nil, fmt.Errorf("%w: 503", generation.ErrTransientFailure)
		}
		return &generation.Response{Text: questionsJSON(size, "recovered")}, nil
	}}
	sleeps := &sleepLog{}
	g := newGenerator(t, p, 3, sleeps)

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 10})

	assert.Len(t, res.Candidates, 10)
	assert.Equal(t, 3, res.Calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
	assert.Equal(t, []int{10, 10, 10}, p.sizes)
}

func TestGenerateTransientExhausted(t *testing.T) {
	p := &recorder{respond: func(int, int) (*generation.Response, error) {
		return nil, errors.New("connection reset")
	}}
	sleeps := &sleepLog{}
	g := newGenerator(t, p, 3, sleeps)

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 10})

	assert.Empty(t, res.Candidates)
	assert.Equal(t, 4, res.Calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.delays)
}

func TestGeneratePermanentErrorStopsImmediately(t *testing.T) {
	for _, perm := range []error{generation.ErrContentBlocked, generation.ErrInvalidConfig} {
		p := &recorder{respond: func(int, int) (*generation.Response, error) {
			return nil, perm
		}}
		sleeps := &sleepLog{}
		g := newGenerator(t, p, 3, sleeps)

		res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 10})

		assert.Equal(t, 1, res.Calls, perm)
		assert.Empty(t, res.Candidates)
		assert.Empty(t, sleeps.delays)
	}
}

func TestGenerateRetriesMalformedOutput(t *testing.T) {
	p := &recorder{respond: func(call, size int) (*generation.Response, error) {
		if call == 1 {
			return &generation.Response{Text: "Sorry, I cannot produce JSON today."}, nil
		}
		return &generation.Response{Text: "```json\n" + questionsJSON(size, "second") + "\n```"}, nil
	}}
	g := newGenerator(t, p, 3, &sleepLog{})

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 4})

	assert.Equal(t, 2, res.Calls)
	assert.Len(t, res.Candidates, 4)
}

func TestGenerateDropsInvalidAndTruncates(t *testing.T) {
	items := []map[string]any{
		{"question": "Missing an option", "options": []string{"a", "b", "c"}, "correct_option": "a"},
	}
	var valid []map[string]any
	require.NoError(t, json.Unmarshal([]byte(questionsJSON(7, "valid")), &valid))
	items = append(items, valid...)
	raw, err := json.Marshal(items)
	require.NoError(t, err)

	p := &recorder{respond: func(int, int) (*generation.Response, error) {
		return &generation.Response{Text: string(raw)}, nil
	}}
	g := newGenerator(t, p, 3, &sleepLog{})

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 5})

	require.Len(t, res.Candidates, 5)
	assert.Equal(t, 1, res.Invalid)
	for _, c := range res.Candidates {
		require.NoError(t, c.Validate())
		assert.NotEmpty(t, c.Topics, "topics are derived when missing")
	}
}

func TestGenerateCapsBatchSize(t *testing.T) {
	p := &recorder{respond: func(_, size int) (*generation.Response, error) {
		return &generation.Response{Text: questionsJSON(size, "capped")}, nil
	}}
	g := newGenerator(t, p, 0, &sleepLog{})

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 80})

	assert.Equal(t, []int{50}, p.sizes)
	assert.Len(t, res.Candidates, 50)
	assert.Equal(t, 50, g.MaxBatchSize())
}

func TestGenerateZeroBatch(t *testing.T) {
	p := &recorder{respond: func(int, int) (*generation.Response, error) {
		t.Fatal("provider must not be called")
		return nil, nil
	}}
	g := newGenerator(t, p, 0, &sleepLog{})

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 0})
	assert.Zero(t, res.Calls)
}

func TestGenerateRequestTimeoutIsTransient(t *testing.T) {
	p := generation.ProviderFunc(func(ctx context.Context, _ generation.Request) (*generation.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g, err := generation.NewBatchGenerator(p, generation.Options{
		Policy:         generation.RetryPolicy{MaxRetries: 0},
		RequestTimeout: 10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	res := g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 5})

	assert.Equal(t, 1, res.Calls)
	assert.ErrorIs(t, res.LastErr, generation.ErrTransientFailure)
}

func TestGenerateStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &recorder{respond: func(int, int) (*generation.Response, error) {
		cancel()
		return nil, generation.ErrTransientFailure
	}}
	sleeps := &sleepLog{}
	g := newGenerator(t, p, 3, sleeps)

	res := g.Generate(ctx, generation.UnitRequest{Source: directSource(), BatchSize: 5})

	assert.Equal(t, 1, res.Calls)
	assert.Empty(t, sleeps.delays)
}

func TestGeneratePromptContent(t *testing.T) {
	p := &recorder{respond: func(_, size int) (*generation.Response, error) {
		return &generation.Response{Text: questionsJSON(size, "prompt")}, nil
	}}
	g := newGenerator(t, p, 0, &sleepLog{})

	g.Generate(context.Background(), generation.UnitRequest{
		Source: generation.Source{
			SubjectName:  "Organic Chemistry",
			ExamName:     "MCAT",
			DocumentText: "Alkenes undergo electrophilic addition.",
			Summary: &domain.SourceSummary{
				Summary: "Reactions of hydrocarbons",
				Topics:  []string{"alkenes", "addition reactions"},
			},
		},
		BatchSize:   3,
		AvoidTopics: []string{"nomenclature"},
	})
	g.Generate(context.Background(), generation.UnitRequest{Source: directSource(), BatchSize: 3})

	require.Len(t, p.prompts, 2)
	withSource := p.prompts[0]
	assert.Contains(t, withSource, `Write 3 multiple-choice questions for the subject "Organic Chemistry"`)
	assert.Contains(t, withSource, "Alkenes undergo electrophilic addition.")
	assert.Contains(t, withSource, "Reactions of hydrocarbons")
	assert.Contains(t, withSource, "alkenes, addition reactions")
	assert.Contains(t, withSource, "Prefer other areas: nomenclature")
	assert.NotContains(t, withSource, "your own knowledge")

	direct := p.prompts[1]
	assert.Contains(t, direct, "your own knowledge")
	assert.False(t, strings.Contains(direct, "Source material"))
}

func TestSourceMode(t *testing.T) {
	assert.Equal(t, generation.ModeDirectKnowledge, directSource().Mode())
	assert.Equal(t, generation.ModeSourceDocument, generation.Source{DocumentText: "text"}.Mode())
	assert.Equal(t, generation.ModeSourceDocument, generation.Source{Summary: &domain.SourceSummary{}}.Mode())
}

func TestNewBatchGeneratorRequiresProvider(t *testing.T) {
	_, err := generation.NewBatchGenerator(nil, generation.Options{}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}
