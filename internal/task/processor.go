package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/platform/docstore"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/redact"
	"github.com/phrazzld/examgen/internal/store"
	"github.com/phrazzld/examgen/internal/summary"
)

// DocumentFetcher loads the text of a source document.
// *docstore.Fetcher implements it.
type DocumentFetcher interface {
	Fetch(ctx context.Context, ref string) (*docstore.Document, error)
}

// SummaryResolver finds or creates the summary covering a document.
// *summary.Cache implements it.
type SummaryResolver interface {
	Resolve(ctx context.Context, doc summary.Document, subjectID, examID uuid.UUID) (*domain.SourceSummary, bool, error)
}

// ProcessorDeps holds the collaborators of a Processor. Documents and
// Summaries are only needed for source document jobs.
type ProcessorDeps struct {
	Jobs      store.JobStore
	Catalog   store.CatalogStore
	Documents DocumentFetcher
	Summaries SummaryResolver
	Scheduler *Scheduler
}

// Processor executes one generation job per delivered message.
type Processor struct {
	jobs      store.JobStore
	catalog   store.CatalogStore
	documents DocumentFetcher
	summaries SummaryResolver
	scheduler *Scheduler
	now       func() time.Time
	logger    *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(deps ProcessorDeps, log *slog.Logger) (*Processor, error) {
	if deps.Jobs == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog store cannot be nil")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("scheduler cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		jobs:      deps.Jobs,
		catalog:   deps.Catalog,
		documents: deps.Documents,
		summaries: deps.Summaries,
		scheduler: deps.Scheduler,
		now:       time.Now,
		logger:    log.With(slog.String("component", "job_processor")),
	}, nil
}

// Handle implements Handler.
//
// Errors are only returned for infrastructure failures, so the queue delivers
// the message again and the job resumes from its committed progress. Missing
// jobs, terminal jobs and upstream data errors are acknowledged.
func (p *Processor) Handle(ctx context.Context, msg Message) error {
	log := p.logger.With(
		slog.String("job_id", msg.JobID.String()),
		slog.Int("attempt", msg.Attempt))
	ctx = logger.WithContext(ctx, log)

	job, err := p.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			log.Warn("job not found, dropping message")
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status.IsTerminal() {
		log.Info("job already terminal, skipping delivery", slog.String("status", string(job.Status)))
		return nil
	}

	now := p.now()
	if err := p.jobs.MarkRunning(ctx, job.ID, now); err != nil {
		if errors.Is(err, store.ErrJobNotRunnable) {
			log.Info("job became terminal before it started")
			return nil
		}
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if err := job.Start(now); err != nil {
		return err
	}

	log.Info("processing job",
		slog.String("kind", string(job.Kind)),
		slog.Int("requested", job.RequestedCount),
		slog.Int("generated", job.GeneratedCount))

	src, err := p.prepareSource(ctx, job)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamData) {
			return p.fail(ctx, job, err)
		}
		return err
	}

	res, err := p.scheduler.Run(ctx, job, src)
	if err != nil {
		return fmt.Errorf("generation interrupted after %d questions: %w", res.Generated, err)
	}
	if res.Cancelled {
		log.Info("job stopped before completion",
			slog.Int("generated", res.Generated),
			slog.Int("waves", res.Waves))
		return nil
	}

	status, err := job.Finish(p.now())
	if err != nil {
		return err
	}
	finishedAt := *job.CompletedAt
	applied, err := p.jobs.MarkTerminal(ctx, job.ID, status, finishedAt, job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if !applied {
		log.Info("job reached a terminal status elsewhere")
		return nil
	}

	log.Info("job finished",
		slog.String("status", string(status)),
		slog.Int("generated", res.Generated),
		slog.Int("requested", job.RequestedCount),
		slog.Int("waves", res.Waves),
		slog.Int("units", res.Units),
		slog.Int("empty_units", res.EmptyUnits),
		slog.Int("dropped", res.Dropped),
		slog.String("elapsed", domain.FormatElapsed(job.Elapsed(finishedAt))))
	return nil
}

// prepareSource checks the job's catalog entries and loads its content source.
// Errors wrapping domain.ErrUpstreamData are fatal to the job.
func (p *Processor) prepareSource(ctx context.Context, job *domain.GenerationJob) (generation.Source, error) {
	src := generation.Source{SubjectName: job.SubjectName, ExamName: job.ExamName}

	if _, err := p.catalog.GetSubject(ctx, job.SubjectID); err != nil {
		if store.IsNotFoundError(err) {
			return src, fmt.Errorf("%w: subject %s no longer exists", domain.ErrUpstreamData, job.SubjectID)
		}
		return src, fmt.Errorf("failed to load subject: %w", err)
	}
	if _, err := p.catalog.GetExam(ctx, job.ExamID); err != nil {
		if store.IsNotFoundError(err) {
			return src, fmt.Errorf("%w: exam %s no longer exists", domain.ErrUpstreamData, job.ExamID)
		}
		return src, fmt.Errorf("failed to load exam: %w", err)
	}

	if job.Kind != domain.JobKindSourceDocument {
		return src, nil
	}
	if p.documents == nil {
		return src, fmt.Errorf("%w: no document store configured", domain.ErrUpstreamData)
	}

	doc, err := p.documents.Fetch(ctx, job.SourceDocumentRef)
	if err != nil {
		if isDocumentDataError(err) {
			return src, fmt.Errorf("%w: %v", domain.ErrUpstreamData, err)
		}
		return src, fmt.Errorf("failed to fetch source document: %w", err)
	}
	src.DocumentText = doc.Text

	if p.summaries == nil {
		return src, nil
	}

	docID := job.SourceDocumentID
	if docID == "" {
		docID = doc.ID
	}
	log := logger.FromContextOrDefault(ctx, p.logger)

	s, reused, err := p.summaries.Resolve(ctx, summary.Document{
		ID:          docID,
		Text:        doc.Text,
		SubjectName: job.SubjectName,
		ExamName:    job.ExamName,
	}, job.SubjectID, job.ExamID)
	switch {
	case errors.Is(err, summary.ErrExtractionFailed):
		log.Warn("summary extraction failed, generating from subject knowledge",
			slog.String("error", err.Error()))
		return generation.Source{SubjectName: job.SubjectName, ExamName: job.ExamName}, nil
	case err != nil:
		return src, fmt.Errorf("failed to resolve source summary: %w", err)
	}

	log.Info("resolved source summary",
		slog.String("summary_id", s.ID.String()),
		slog.Bool("reused", reused),
		slog.Int("topics", len(s.Topics)))
	src.Summary = s
	return src, nil
}

func isDocumentDataError(err error) bool {
	return errors.Is(err, docstore.ErrDocumentNotFound) ||
		errors.Is(err, docstore.ErrUnsupportedReference) ||
		errors.Is(err, docstore.ErrDocumentTooLarge) ||
		errors.Is(err, docstore.ErrNoText)
}

// fail marks the job failed and acknowledges the message.
func (p *Processor) fail(ctx context.Context, job *domain.GenerationJob, cause error) error {
	log := logger.FromContextOrDefault(ctx, p.logger)
	log.Error("job failed on upstream data", slog.String("error", cause.Error()))

	if err := job.Fail(p.now(), redact.Error(cause)); err != nil {
		return err
	}
	if _, err := p.jobs.MarkTerminal(ctx, job.ID, job.Status, *job.CompletedAt, job.ErrorMessage); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// OnDeadLetter resolves a job whose message exhausted its delivery attempts
// from the progress it had committed. It implements DeadLetterFunc.
func (p *Processor) OnDeadLetter(ctx context.Context, msg Message, cause error) {
	log := p.logger.With(slog.String("job_id", msg.JobID.String()))

	job, err := p.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		log.Error("failed to load dead-lettered job", slog.String("error", err.Error()))
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	status, err := job.Finish(p.now())
	if err != nil {
		log.Error("failed to resolve dead-lettered job", slog.String("error", err.Error()))
		return
	}
	if status != domain.JobStatusCompleted {
		job.ErrorMessage = "delivery attempts exhausted"
		if cause != nil {
			job.ErrorMessage = fmt.Sprintf("%s: %s", job.ErrorMessage, redact.Error(cause))
		}
	}
	if _, err := p.jobs.MarkTerminal(ctx, job.ID, status, *job.CompletedAt, job.ErrorMessage); err != nil {
		log.Error("failed to resolve dead-lettered job", slog.String("error", err.Error()))
		return
	}
	log.Warn("resolved dead-lettered job",
		slog.String("status", string(status)),
		slog.Int("generated", job.GeneratedCount),
		slog.Int("requested", job.RequestedCount))
}
