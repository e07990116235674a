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
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
)

// RunnerConfig holds configuration for the job runner
type RunnerConfig struct {
	// WorkerCount determines how many jobs are processed concurrently
	WorkerCount int

	// StuckJobAge defines how long a job can stay queued or running without
	// an update before it's considered stuck and republished
	StuckJobAge time.Duration

	// StuckCheckInterval defines how often to check for stuck jobs
	// If zero, defaults to 5 minutes
	StuckCheckInterval time.Duration

	// RecoverOnStart republishes queued and running jobs on Start. Needed for
	// queues that lose messages on restart.
	RecoverOnStart bool
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        1,
		StuckJobAge:        30 * time.Minute,
		StuckCheckInterval: 5 * time.Minute,
		RecoverOnStart:     true,
	}
}

// RunnerConfigFromTask builds a RunnerConfig from configuration. Recovery on
// start is only enabled for the in-memory queue; the durable queue keeps
// unacknowledged messages across restarts.
func RunnerConfigFromTask(cfg config.TaskConfig, queue config.QueueConfig) RunnerConfig {
	return RunnerConfig{
		WorkerCount:        cfg.WorkerCount,
		StuckJobAge:        cfg.StuckJobTimeout(),
		StuckCheckInterval: cfg.StuckCheckInterval(),
		RecoverOnStart:     queue.Backend == "memory",
	}
}

// Runner consumes job messages and hands them to a Handler. It republishes
// unfinished jobs on start and periodically republishes stuck ones.
type Runner struct {
	queue   Queue
	jobs    store.JobStore
	handler Handler
	config  RunnerConfig
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	// requeued records when the stuck monitor last republished a job.
	requeued map[uuid.UUID]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a new Runner
func NewRunner(queue Queue, jobs store.JobStore, handler Handler, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.StuckCheckInterval <= 0 {
		config.StuckCheckInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:    queue,
		jobs:     jobs,
		handler:  handler,
		config:   config,
		logger:   logger.With(slog.String("component", "job_runner")),
		inFlight: make(map[uuid.UUID]struct{}),
		requeued: make(map[uuid.UUID]time.Time),
	}
}

// Start recovers unfinished jobs and begins consuming in the background.
func (r *Runner) Start(ctx context.Context) error {
	if r.config.RecoverOnStart {
		if err := r.Recover(ctx); err != nil {
			return fmt.Errorf("failed to recover jobs: %w", err)
		}
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.queue.Consume(ctx, r.config.WorkerCount, r.handle); err != nil {
			r.logger.Error("job consumer stopped", slog.String("error", err.Error()))
		}
	}()

	if r.config.StuckJobAge > 0 {
		r.wg.Add(1)
		go r.stuckJobMonitor(ctx)
	}

	r.logger.Info("job runner started", slog.Int("workers", r.config.WorkerCount))
	return nil
}

// Stop gracefully shuts down the runner and waits for running handlers.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("job runner stopped")
}

// Recover republishes jobs left queued or running by a previous process.
// Running jobs resume from their committed progress.
func (r *Runner) Recover(ctx context.Context) error {
	unfinished, err := r.jobs.List(ctx, store.JobFilter{
		Statuses: domain.ActiveJobStatuses,
		Limit:    store.MaxJobListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	r.logger.Info("recovering unfinished jobs", slog.Int("count", len(unfinished)))

	for _, job := range unfinished {
		r.republish(ctx, job, "recovered unfinished job")
	}
	return nil
}

// handle wraps the handler with the in-flight guard: a message for a job that
// is already being processed in this process is acknowledged and skipped.
func (r *Runner) handle(ctx context.Context, msg Message) error {
	if !r.acquire(msg.JobID) {
		r.logger.Info("job already in flight, skipping duplicate delivery",
			slog.String("job_id", msg.JobID.String()))
		return nil
	}
	defer r.release(msg.JobID)

	return r.handler(ctx, msg)
}

func (r *Runner) acquire(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[id]; ok {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Runner) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}

// InFlight reports whether the job is being processed by this runner.
func (r *Runner) InFlight(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[id]
	return ok
}

// stuckJobMonitor periodically republishes jobs that stopped making progress:
// running jobs whose process died, and queued jobs whose message was never
// published or was lost.
func (r *Runner) stuckJobMonitor(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckStuckJobs(ctx)
		}
	}
}

// CheckStuckJobs republishes queued and running jobs without an update for
// StuckJobAge. Jobs in flight in this process are left alone, and a job is
// republished at most once per StuckJobAge so a long backlog is not flooded
// with duplicates.
func (r *Runner) CheckStuckJobs(ctx context.Context) int {
	now := time.Now()
	cutoff := now.Add(-r.config.StuckJobAge)
	stuck, err := r.jobs.ListStale(ctx, domain.ActiveJobStatuses, cutoff)
	if err != nil {
		r.logger.Error("failed to check for stuck jobs", slog.String("error", err.Error()))
		return 0
	}
	r.pruneRequeued(cutoff)
	if len(stuck) == 0 {
		return 0
	}

	r.logger.Info("found stuck jobs", slog.Int("count", len(stuck)))

	republished := 0
	for _, job := range stuck {
		if r.InFlight(job.ID) || r.recentlyRequeued(job.ID, cutoff) {
			continue
		}
		if r.republish(ctx, job, "requeued stuck job") {
			r.markRequeued(job.ID, now)
			republished++
		}
	}
	return republished
}

func (r *Runner) recentlyRequeued(id uuid.UUID, cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.requeued[id]
	return ok && at.After(cutoff)
}

func (r *Runner) markRequeued(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeued[id] = at
}

func (r *Runner) pruneRequeued(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, at := range r.requeued {
		if !at.After(cutoff) {
			delete(r.requeued, id)
		}
	}
}

func (r *Runner) republish(ctx context.Context, job *domain.GenerationJob, reason string) bool {
	log := r.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("status", string(job.Status)),
		slog.Int("generated", job.GeneratedCount))

	if err := r.queue.Publish(ctx, Message{JobID: job.ID}); err != nil {
		if errors.Is(err, ErrQueueFull) {
			log.Error("failed to republish job, queue is full")
		} else {
			log.Error("failed to republish job", slog.String("error", err.Error()))
		}
		return false
	}
	log.Info(reason)
	return true
}
