package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/dedup"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/store"
	"golang.org/x/sync/errgroup"
)

// Scheduling defaults
const (
	DefaultUnitSize         = 50
	DefaultMaxParallelUnits = 10

	// Topics tagged on at least avoidTopicMinCount accepted questions are
	// passed to later waves as areas to de-emphasise.
	avoidTopicMinCount = 2
	avoidTopicLimit    = 5

	// shutdownCommitTimeout bounds the commit of a wave that finished after
	// its context was cancelled.
	shutdownCommitTimeout = 10 * time.Second
)

// UnitGenerator produces the candidates of one generation unit.
// *generation.BatchGenerator implements it.
type UnitGenerator interface {
	Generate(ctx context.Context, req generation.UnitRequest) generation.UnitResult
}

// SchedulerConfig controls wave planning.
type SchedulerConfig struct {
	UnitSize         int
	MaxParallelUnits int
	InterWaveDelay   time.Duration
	// Sleep waits between waves. Defaults to generation.SleepContext.
	Sleep generation.Sleeper
}

// SchedulerConfigFromGeneration builds a SchedulerConfig from configuration.
func SchedulerConfigFromGeneration(gen config.GenerationConfig) SchedulerConfig {
	return SchedulerConfig{
		UnitSize:         gen.UnitSize,
		MaxParallelUnits: gen.MaxParallelUnits,
		InterWaveDelay:   gen.InterWaveDelay(),
		Sleep:            generation.SleepContext,
	}
}

// RunResult summarises one scheduler run.
type RunResult struct {
	// Generated is the job's generated count after the run.
	Generated int
	// Accepted is how many questions this run persisted.
	Accepted   int
	Waves      int
	Units      int
	EmptyUnits int
	// Dropped counts candidates removed as duplicates or beyond demand.
	Dropped   int
	Cancelled bool
}

// PlanUnits splits remaining demand into unit batch sizes of at most
// unitSize: 120 with unit size 50 gives [50 50 20].
func PlanUnits(remaining, unitSize int) []int {
	if remaining <= 0 {
		return nil
	}
	if unitSize <= 0 {
		unitSize = DefaultUnitSize
	}
	units := make([]int, 0, (remaining+unitSize-1)/unitSize)
	for remaining > 0 {
		n := min(unitSize, remaining)
		units = append(units, n)
		remaining -= n
	}
	return units
}

// PlanWaves groups units into waves of at most maxParallel units.
func PlanWaves(units []int, maxParallel int) [][]int {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelUnits
	}
	var waves [][]int
	for start := 0; start < len(units); start += maxParallel {
		end := min(start+maxParallel, len(units))
		waves = append(waves, units[start:end])
	}
	return waves
}

// Scheduler drives generation units in sequential waves for one job and
// commits each wave's accepted questions together with the job's progress.
type Scheduler struct {
	units   UnitGenerator
	filter  *dedup.Filter
	commits store.WaveCommitter
	jobs    store.JobStore
	config  SchedulerConfig
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	units UnitGenerator,
	filter *dedup.Filter,
	commits store.WaveCommitter,
	jobs store.JobStore,
	cfg SchedulerConfig,
	log *slog.Logger,
) *Scheduler {
	if cfg.UnitSize <= 0 {
		cfg.UnitSize = DefaultUnitSize
	}
	if cfg.MaxParallelUnits <= 0 {
		cfg.MaxParallelUnits = DefaultMaxParallelUnits
	}
	if cfg.Sleep == nil {
		cfg.Sleep = generation.SleepContext
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		units:   units,
		filter:  filter,
		commits: commits,
		jobs:    jobs,
		config:  cfg,
		logger:  log.With(slog.String("component", "wave_scheduler")),
	}
}

// Run generates the job's shortfall. The job must already be running; its
// GeneratedCount is advanced in place as waves commit.
//
// A failing unit never cancels its siblings. Cancellation, by the job record
// turning cancelled or by ctx, is checked before each wave, so a wave that has
// started always finishes and commits what its units produced; after ctx is
// cancelled that commit runs on a detached context bounded by
// shutdownCommitTimeout. A returned error means progress up to the last
// committed wave is saved and the job can be resumed.
func (s *Scheduler) Run(ctx context.Context, job *domain.GenerationJob, src generation.Source) (RunResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("job_id", job.ID.String()))

	res := RunResult{Generated: job.GeneratedCount}
	waves := PlanWaves(PlanUnits(job.Remaining(), s.config.UnitSize), s.config.MaxParallelUnits)
	if len(waves) == 0 {
		return res, nil
	}

	log.Info("planned generation waves",
		slog.Int("remaining", job.Remaining()),
		slog.Int("waves", len(waves)),
		slog.String("mode", string(src.Mode())))

	tally := generation.NewTopicTally()
	unitIndex := 0

	for w, wave := range waves {
		if w > 0 && s.config.InterWaveDelay > 0 {
			if err := s.config.Sleep(ctx, s.config.InterWaveDelay); err != nil {
				return res, err
			}
		}

		cancelled, err := s.cancelled(ctx, job.ID)
		if err != nil {
			return res, err
		}
		if cancelled {
			log.Info("job cancelled, not starting further waves", slog.Int("wave", w))
			res.Cancelled = true
			return res, nil
		}

		candidates, empty := s.runWave(ctx, wave, unitIndex, src, tally.Frequent(avoidTopicMinCount, avoidTopicLimit))
		unitIndex += len(wave)
		res.Waves++
		res.Units += len(wave)
		res.EmptyUnits += empty

		commitCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			commitCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), shutdownCommitTimeout)
			defer cancel()
		}

		accepted, dropped, err := s.commitWave(commitCtx, job, candidates)
		if err != nil {
			return res, err
		}
		res.Accepted += len(accepted)
		res.Dropped += dropped
		res.Generated = job.GeneratedCount

		if err := ctx.Err(); err != nil {
			log.Info("wave committed after cancellation, stopping",
				slog.Int("wave", w),
				slog.Int("accepted", len(accepted)),
				slog.Int("generated", job.GeneratedCount))
			return res, err
		}
		tally.Add(accepted)

		log.Info("wave committed",
			slog.Int("wave", w),
			slog.Int("units", len(wave)),
			slog.Int("empty_units", empty),
			slog.Int("candidates", len(candidates)),
			slog.Int("accepted", len(accepted)),
			slog.Int("generated", job.GeneratedCount),
			slog.Int("requested", job.RequestedCount))

		if job.Remaining() == 0 {
			break
		}
	}

	return res, nil
}

// runWave runs the units of one wave concurrently and returns their
// candidates in completion order along with the number of empty units.
func (s *Scheduler) runWave(
	ctx context.Context,
	sizes []int,
	firstIndex int,
	src generation.Source,
	avoid []string,
) ([]domain.QuestionCandidate, int) {
	var (
		mu      sync.Mutex
		results []generation.UnitResult
		g       errgroup.Group
	)
	g.SetLimit(s.config.MaxParallelUnits)

	for i, size := range sizes {
		req := generation.UnitRequest{
			Index:       firstIndex + i,
			Source:      src,
			BatchSize:   size,
			AvoidTopics: avoid,
		}
		g.Go(func() error {
			r := s.units.Generate(ctx, req)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var (
		candidates []domain.QuestionCandidate
		empty      int
	)
	for _, r := range results {
		if len(r.Candidates) == 0 {
			empty++
		}
		candidates = append(candidates, r.Candidates...)
	}
	return candidates, empty
}

// commitWave filters a wave's candidates, caps them at the remaining demand
// and persists them with the job's new count in one transaction.
func (s *Scheduler) commitWave(
	ctx context.Context,
	job *domain.GenerationJob,
	candidates []domain.QuestionCandidate,
) ([]domain.QuestionCandidate, int, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	filtered, err := s.filter.Apply(ctx, job.SubjectID, candidates)
	if err != nil {
		return nil, 0, err
	}
	accepted := filtered.Kept
	dropped := filtered.Dropped
	if over := len(accepted) - job.Remaining(); over > 0 {
		accepted = accepted[:job.Remaining()]
		dropped += over
	}
	if len(accepted) == 0 {
		return nil, dropped, nil
	}

	questions := make([]*domain.PersistedQuestion, 0, len(accepted))
	for _, c := range accepted {
		q, err := domain.NewPersistedQuestion(c, job)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to build question: %w", err)
		}
		questions = append(questions, q)
	}

	generated := job.GeneratedCount + len(questions)
	if err := s.commits.CommitWave(ctx, job.ID, questions, generated); err != nil {
		return nil, 0, fmt.Errorf("failed to commit wave: %w", err)
	}
	job.RecordProgress(len(questions))
	return accepted, dropped, nil
}

// cancelled reports whether the job should not start another wave: it was
// cancelled, deleted, or otherwise reached a terminal status elsewhere.
func (s *Scheduler) cancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to reload job: %w", err)
	}
	return current.Status.IsTerminal(), nil
}
