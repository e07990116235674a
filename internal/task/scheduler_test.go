package task_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/dedup"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/mocks"
	"github.com/phrazzld/examgen/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokensPerQuestion = 300

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// requestedSize recovers the batch size a unit asked for from its token budget.
func requestedSize(req generation.Request) int {
	return req.MaxOutputTokens / tokensPerQuestion
}

// fullBatches answers every call with a full batch of distinct questions.
func fullBatches() *mocks.MockProvider {
	var calls atomic.Int64
	return &mocks.MockProvider{
		GenerateFn: func(_ context.Context, req generation.Request) (*generation.Response, error) {
			prefix := fmt.Sprintf("call%d", calls.Add(1))
			return &generation.Response{Text: mocks.QuestionsJSON(prefix, requestedSize(req))}, nil
		},
	}
}

type fixture struct {
	jobs      *mocks.MockJobStore
	questions *mocks.MockQuestionStore
	commits   *mocks.MockWaveCommitter
	catalog   *mocks.MockCatalogStore
	provider  *mocks.MockProvider
	scheduler *task.Scheduler

	mu     sync.Mutex
	sleeps []time.Duration
}

func newFixture(t *testing.T, provider *mocks.MockProvider, cfg task.SchedulerConfig) *fixture {
	t.Helper()

	f := &fixture{
		jobs:      mocks.NewMockJobStore(),
		questions: mocks.NewMockQuestionStore(),
		catalog:   mocks.NewMockCatalogStore(),
		provider:  provider,
	}
	f.commits = mocks.NewMockWaveCommitter(f.jobs, f.questions)

	units, err := generation.NewBatchGenerator(provider, generation.Options{
		Policy: generation.RetryPolicy{
			MaxRetries:   0,
			MinBatchSize: 5,
			Sleep:        func(context.Context, time.Duration) error { return nil },
		},
		Limits: generation.Limits{
			MaxBatchSize:      50,
			TokensPerQuestion: tokensPerQuestion,
			MaxOutputTokens:   50 * tokensPerQuestion,
		},
	}, discardLogger())
	require.NoError(t, err)

	cfg.Sleep = func(_ context.Context, d time.Duration) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	filter := dedup.NewFilter(f.questions, dedup.DefaultThreshold, discardLogger())
	f.scheduler = task.NewScheduler(units, filter, f.commits, f.jobs, cfg, discardLogger())
	return f
}

// newJob stores a queued direct knowledge job for a fresh subject.
func (f *fixture) newJob(t *testing.T, requested int) *domain.GenerationJob {
	t.Helper()

	exam, subject := f.catalog.AddExam("MCAT", "Biochemistry")
	job, err := domain.NewGenerationJob(domain.JobParams{
		ExternalID: "ext-" + subject.ID.String(),
		Kind:       domain.JobKindDirectKnowledge,
		Subject:    subject,
		Exam:       exam,
		Requested:  requested,
	})
	require.NoError(t, err)
	f.jobs.Put(job)
	return job
}

// newRunningJob stores a job that a worker has already started.
func (f *fixture) newRunningJob(t *testing.T, requested int) *domain.GenerationJob {
	t.Helper()

	job := f.newJob(t, requested)
	require.NoError(t, job.Start(time.Now()))
	f.jobs.Put(job)
	return job
}

func source(job *domain.GenerationJob) generation.Source {
	return generation.Source{SubjectName: job.SubjectName, ExamName: job.ExamName}
}

func requestSizes(p *mocks.MockProvider) []int {
	var sizes []int
	for _, r := range p.Requests() {
		sizes = append(sizes, requestedSize(r))
	}
	sort.Ints(sizes)
	return sizes
}

func TestPlanUnits(t *testing.T) {
	tests := []struct {
		remaining, unitSize int
		want                []int
	}{
		{remaining: 120, unitSize: 50, want: []int{50, 50, 20}},
		{remaining: 101, unitSize: 50, want: []int{50, 50, 1}},
		{remaining: 50, unitSize: 50, want: []int{50}},
		{remaining: 7, unitSize: 50, want: []int{7}},
		{remaining: 60, unitSize: 0, want: []int{50, 10}},
		{remaining: 0, unitSize: 50, want: nil},
		{remaining: -4, unitSize: 50, want: nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_by_%d", tt.remaining, tt.unitSize), func(t *testing.T) {
			assert.Equal(t, tt.want, task.PlanUnits(tt.remaining, tt.unitSize))
		})
	}
}

func TestPlanWaves(t *testing.T) {
	units := []int{50, 50, 20}

	assert.Equal(t, [][]int{{50, 50}, {20}}, task.PlanWaves(units, 2))
	assert.Equal(t, [][]int{{50, 50, 20}}, task.PlanWaves(units, 10))
	assert.Equal(t, [][]int{{50}, {50}, {20}}, task.PlanWaves(units, 1))
	assert.Len(t, task.PlanWaves(task.PlanUnits(1000, 50), 0), 2, "defaults to 10 units per wave")
	assert.Nil(t, task.PlanWaves(nil, 3))
}

func TestSchedulerRunsEveryUnitAcrossWaves(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{
		UnitSize:         50,
		MaxParallelUnits: 2,
		InterWaveDelay:   5 * time.Millisecond,
	})
	job := f.newRunningJob(t, 120)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	assert.Equal(t, 120, res.Generated)
	assert.Equal(t, 120, res.Accepted)
	assert.Equal(t, 2, res.Waves)
	assert.Equal(t, 3, res.Units)
	assert.Zero(t, res.EmptyUnits)
	assert.False(t, res.Cancelled)

	assert.Equal(t, []int{20, 50, 50}, requestSizes(f.provider))
	assert.Equal(t, 120, job.GeneratedCount)
	assert.Equal(t, 120, f.jobs.Job(job.ID).GeneratedCount)
	assert.Len(t, f.questions.ByJob(job.ID), 120)
	assert.Equal(t, 2, f.commits.Commits)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, f.sleeps, "one pause between two waves")
}

func TestSchedulerAggregatesWhenOneUnitReturnsNothing(t *testing.T) {
	full := fullBatches()
	provider := &mocks.MockProvider{
		GenerateFn: func(ctx context.Context, req generation.Request) (*generation.Response, error) {
			if requestedSize(req) == 20 {
				return nil, fmt.Errorf("%w: safety", generation.ErrContentBlocked)
			}
			return full.GenerateFn(ctx, req)
		},
	}
	f := newFixture(t, provider, task.SchedulerConfig{UnitSize: 50, MaxParallelUnits: 2})
	job := f.newRunningJob(t, 120)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	assert.Equal(t, 100, res.Generated)
	assert.Equal(t, 3, res.Units)
	assert.Equal(t, 1, res.EmptyUnits)
	assert.Equal(t, domain.JobStatusPartial, domain.ResolveFinalStatus(res.Generated, job.RequestedCount))
}

func TestSchedulerRespectsParallelCap(t *testing.T) {
	var inFlight, peak atomic.Int64
	full := fullBatches()
	provider := &mocks.MockProvider{
		GenerateFn: func(ctx context.Context, req generation.Request) (*generation.Response, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return full.GenerateFn(ctx, req)
		},
	}
	f := newFixture(t, provider, task.SchedulerConfig{UnitSize: 20, MaxParallelUnits: 3})
	job := f.newRunningJob(t, 200)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	assert.Equal(t, 10, res.Units)
	assert.Equal(t, 4, res.Waves)
	assert.Equal(t, 10, provider.Calls())
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Equal(t, 200, res.Generated)
}

func TestSchedulerGeneratesOnlyTheShortfall(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{UnitSize: 50, MaxParallelUnits: 10})
	job := f.newRunningJob(t, 120)
	job.GeneratedCount = 100
	f.jobs.Put(job)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	assert.Equal(t, []int{20}, requestSizes(f.provider))
	assert.Equal(t, 120, res.Generated)
	assert.Equal(t, 20, res.Accepted)
	assert.Equal(t, 120, f.jobs.Job(job.ID).GeneratedCount)
}

func TestSchedulerNothingToDo(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	job := f.newRunningJob(t, 30)
	job.GeneratedCount = 30
	f.jobs.Put(job)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)
	assert.Equal(t, 30, res.Generated)
	assert.Zero(t, res.Waves)
	assert.Zero(t, f.provider.Calls())
}

func TestSchedulerStopsBeforeNextWaveWhenCancelled(t *testing.T) {
	var (
		f     *fixture
		jobID uuid.UUID
	)
	full := fullBatches()
	provider := &mocks.MockProvider{
		GenerateFn: func(ctx context.Context, req generation.Request) (*generation.Response, error) {
			// The job is cancelled while its first wave is running.
			_, _ = f.jobs.MarkTerminal(ctx, jobID, domain.JobStatusCancelled, time.Now(), "cancelled by user")
			return full.GenerateFn(ctx, req)
		},
	}
	f = newFixture(t, provider, task.SchedulerConfig{UnitSize: 50, MaxParallelUnits: 1})
	job := f.newRunningJob(t, 100)
	jobID = job.ID

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Waves, "the running wave finishes")
	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, domain.JobStatusCancelled, f.jobs.Job(job.ID).Status)
}

func TestSchedulerStopsOnContextCancellation(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	job := f.newRunningJob(t, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.scheduler.Run(ctx, job, source(job))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.provider.Calls())
}

func TestSchedulerCommitsRunningWaveOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	full := fullBatches()
	provider := &mocks.MockProvider{
		GenerateFn: func(callCtx context.Context, req generation.Request) (*generation.Response, error) {
			// Shutdown begins while the first wave is running.
			cancel()
			return full.GenerateFn(callCtx, req)
		},
	}
	f := newFixture(t, provider, task.SchedulerConfig{UnitSize: 50, MaxParallelUnits: 1})
	var commitErr error
	f.commits.CommitWaveFn = func(ctx context.Context, jobID uuid.UUID, qs []*domain.PersistedQuestion, generated int) error {
		commitErr = ctx.Err()
		if err := f.questions.CreateMany(ctx, qs); err != nil {
			return err
		}
		return f.jobs.UpdateProgress(ctx, jobID, generated)
	}
	job := f.newRunningJob(t, 100)

	res, err := f.scheduler.Run(ctx, job, source(job))
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, commitErr, "the finished wave commits on a live context")

	assert.Equal(t, 1, res.Waves)
	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, 50, res.Generated)
	assert.Len(t, f.questions.ByJob(job.ID), 50)
	assert.Equal(t, 50, f.jobs.Job(job.ID).GeneratedCount)
}

func TestSchedulerDropsDuplicatesWithinAWave(t *testing.T) {
	provider := &mocks.MockProvider{Text: mocks.QuestionsJSON("same", 5)}
	f := newFixture(t, provider, task.SchedulerConfig{UnitSize: 5, MaxParallelUnits: 2})
	job := f.newRunningJob(t, 10)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	assert.Equal(t, 2, provider.Calls())
	assert.Equal(t, 5, res.Generated)
	assert.Equal(t, 5, res.Dropped)
	assert.Len(t, f.questions.ByJob(job.ID), 5)
}

func TestSchedulerDropsDuplicatesOfEarlierWaves(t *testing.T) {
	provider := &mocks.MockProvider{Text: mocks.QuestionsJSON("same", 5)}
	f := newFixture(t, provider, task.SchedulerConfig{UnitSize: 5, MaxParallelUnits: 1})
	job := f.newRunningJob(t, 15)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Waves)
	assert.Equal(t, 5, res.Generated, "later waves repeat the first one")
	assert.Equal(t, 10, res.Dropped)
}

func TestSchedulerPassesFrequentTopicsToLaterWaves(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{UnitSize: 10, MaxParallelUnits: 1})
	job := f.newRunningJob(t, 20)

	_, err := f.scheduler.Run(context.Background(), job, source(job))
	require.NoError(t, err)

	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].Prompt, "Prefer other areas")
	assert.Contains(t, reqs[1].Prompt, "Prefer other areas: call1")
}

func TestSchedulerCommitFailure(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	f.commits.CommitWaveFn = func(context.Context, uuid.UUID, []*domain.PersistedQuestion, int) error {
		return errors.New("db down")
	}
	job := f.newRunningJob(t, 10)

	res, err := f.scheduler.Run(context.Background(), job, source(job))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "db down"))
	assert.Zero(t, res.Generated)
	assert.Zero(t, job.GeneratedCount)
}
