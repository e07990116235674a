package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/examgen/internal/api"
	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/dedup"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/platform/docstore"
	"github.com/phrazzld/examgen/internal/platform/gemini"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/platform/openaichat"
	"github.com/phrazzld/examgen/internal/platform/postgres"
	"github.com/phrazzld/examgen/internal/platform/redisqueue"
	"github.com/phrazzld/examgen/internal/summary"
	"github.com/phrazzld/examgen/internal/task"
)

// application holds the shared dependencies of every command and releases
// them on cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	jobs      *postgres.PostgresJobStore
	questions *postgres.PostgresQuestionStore
	summaries *postgres.PostgresSummaryStore
	catalog   *postgres.PostgresCatalogStore

	// queue is nil for read-only commands.
	queue  task.Queue
	redis  *redisqueue.Queue
	runner *task.Runner
}

// newApplication loads configuration, sets up logging and opens the database.
func newApplication(ctx context.Context, opts config.Options) (*application, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Debug("database connection established",
		"database_url", postgres.MaskDatabaseURL(cfg.Database.URL))

	return &application{
		config:    cfg,
		logger:    log,
		db:        db,
		jobs:      postgres.NewPostgresJobStore(db, log),
		questions: postgres.NewPostgresQuestionStore(db, log),
		summaries: postgres.NewPostgresSummaryStore(db, log),
		catalog:   postgres.NewPostgresCatalogStore(db, log),
	}, nil
}

// newProvider builds the generative text adapter selected by configuration.
func newProvider(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (generation.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		p, err := gemini.NewProvider(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		p, err := openaichat.NewProvider(cfg, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", generation.ErrInvalidConfig, cfg.Provider)
	}
}

// newProcessor wires the generation pipeline behind the job processor.
func (app *application) newProcessor(ctx context.Context) (*task.Processor, error) {
	cfg := app.config

	provider, err := newProvider(ctx, cfg.LLM, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm provider: %w", err)
	}

	tokens := generation.NewTokenCounter(app.logger)
	prompts, err := generation.LoadPrompts(cfg.Generation.PromptTemplateDir)
	if err != nil {
		return nil, err
	}

	generator, err := generation.NewBatchGenerator(provider, generation.Options{
		Policy:         generation.NewRetryPolicy(cfg.LLM, cfg.Generation),
		Limits:         generation.LimitsFromConfig(cfg.Generation),
		Temperature:    cfg.LLM.Temperature,
		RequestTimeout: cfg.LLM.RequestTimeout(),
		Prompts:        prompts,
		Tokens:         tokens,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch generator: %w", err)
	}

	extractor, err := summary.NewLLMExtractor(provider, summary.ExtractorOptions{
		MaxInputTokens:  cfg.Generation.MaxInputTokens,
		MaxOutputTokens: cfg.Generation.MaxOutputTokens,
		Temperature:     cfg.LLM.Temperature,
		RequestTimeout:  cfg.LLM.RequestTimeout(),
		Tokens:          tokens,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary extractor: %w", err)
	}

	documents, err := docstore.NewFetcherFromConfig(cfg.Storage, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create document fetcher: %w", err)
	}

	filter := dedup.NewFilter(app.questions, cfg.Generation.DuplicateThreshold, app.logger)
	commits := postgres.NewWaveCommitter(app.db, app.jobs, app.questions, app.logger)
	scheduler := task.NewScheduler(
		generator,
		filter,
		commits,
		app.jobs,
		task.SchedulerConfigFromGeneration(cfg.Generation),
		app.logger,
	)

	return task.NewProcessor(task.ProcessorDeps{
		Jobs:      app.jobs,
		Catalog:   app.catalog,
		Documents: documents,
		Summaries: summary.NewCache(app.summaries, extractor, cfg.Generation.SummaryOverlapThreshold, app.logger),
		Scheduler: scheduler,
	}, app.logger)
}

// setupQueue opens the configured queue. deadLetter may be nil for
// processes that only publish.
func (app *application) setupQueue(ctx context.Context, deadLetter task.DeadLetterFunc) error {
	cfg := app.config.Queue
	switch cfg.Backend {
	case "redis":
		q, err := redisqueue.NewFromConfig(ctx, cfg, deadLetter, app.logger)
		if err != nil {
			return err
		}
		app.redis = q
		app.queue = q
	case "memory":
		app.queue = task.NewMemoryQueue(
			cfg.MemoryBufferSize,
			task.QueueOptionsFromConfig(cfg, deadLetter),
			app.logger,
		)
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
	app.logger.Info("job queue initialized", "backend", cfg.Backend)
	return nil
}

// startWorker builds the processor and starts consuming jobs.
func (app *application) startWorker(ctx context.Context) error {
	processor, err := app.newProcessor(ctx)
	if err != nil {
		return err
	}
	if app.queue == nil {
		if err := app.setupQueue(ctx, processor.OnDeadLetter); err != nil {
			return err
		}
	}

	app.runner = task.NewRunner(
		app.queue,
		app.jobs,
		processor.Handle,
		task.RunnerConfigFromTask(app.config.Task, app.config.Queue),
		app.logger,
	)
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	return nil
}

// jobService returns the job service over the configured queue. Without a
// queue, enqueueing fails with task.ErrQueueClosed.
func (app *application) jobService() (*task.JobService, error) {
	var publisher task.Publisher = closedPublisher{}
	if app.queue != nil {
		publisher = app.queue
	}
	return task.NewJobService(app.jobs, app.catalog, publisher, app.logger)
}

// healthChecks lists the dependencies reported by GET /healthz.
func (app *application) healthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{app.db.PingContext}
	if app.redis != nil {
		checks = append(checks, app.redis.Ping)
	}
	return checks
}

// cleanup stops the runner and releases connections.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}

	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			app.logger.Error("error closing job queue", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Debug("application shutdown completed")
}

// closedPublisher backs read-only commands.
type closedPublisher struct{}

func (closedPublisher) Publish(context.Context, task.Message) error {
	return task.ErrQueueClosed
}

var (
	_ task.Publisher       = closedPublisher{}
	_ dedup.CorpusSource   = (*postgres.PostgresQuestionStore)(nil)
	_ task.DocumentFetcher = (*docstore.Fetcher)(nil)
	_ task.SummaryResolver = (*summary.Cache)(nil)
)

// errUsage marks command line mistakes.
var errUsage = errors.New("usage error")
