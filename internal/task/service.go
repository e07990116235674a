package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/store"
)

// EnqueueRequest is a request to generate questions for a subject.
type EnqueueRequest struct {
	ExternalID        string
	Kind              domain.JobKind
	SubjectID         uuid.UUID
	ExamID            uuid.UUID
	Requested         int
	SourceDocumentID  string
	SourceDocumentRef string
	CreatedBy         uuid.UUID
}

// EnqueueResult identifies the job created, or found, for a request.
type EnqueueResult struct {
	JobID      uuid.UUID
	ExternalID string
	// Existing is true when the external ID was already in use and no new
	// job was published.
	Existing bool
}

// JobStatusView is the read model of a job's progress.
type JobStatusView struct {
	ID             uuid.UUID        `json:"id"`
	ExternalID     string           `json:"external_id"`
	Kind           domain.JobKind   `json:"kind"`
	Status         domain.JobStatus `json:"status"`
	SubjectID      uuid.UUID        `json:"subject_id"`
	SubjectName    string           `json:"subject_name"`
	ExamID         uuid.UUID        `json:"exam_id"`
	ExamName       string           `json:"exam_name"`
	RequestedCount int              `json:"requested_count"`
	GeneratedCount int              `json:"generated_count"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Elapsed        string           `json:"elapsed"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
}

// NewJobStatusView builds the read model of job as of now.
func NewJobStatusView(job *domain.GenerationJob, now time.Time) *JobStatusView {
	elapsed := job.Elapsed(now)
	return &JobStatusView{
		ID:             job.ID,
		ExternalID:     job.ExternalID,
		Kind:           job.Kind,
		Status:         job.Status,
		SubjectID:      job.SubjectID,
		SubjectName:    job.SubjectName,
		ExamID:         job.ExamID,
		ExamName:       job.ExamName,
		RequestedCount: job.RequestedCount,
		GeneratedCount: job.GeneratedCount,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		Elapsed:        domain.FormatElapsed(elapsed),
		ElapsedSeconds: elapsed.Round(time.Second).Seconds(),
	}
}

// ListJobsFilter narrows ListActiveJobs. Without statuses only jobs that
// are still queued or running are listed.
type ListJobsFilter struct {
	Kind     domain.JobKind
	Statuses []domain.JobStatus
	Limit    int
}

// JobService is the entry point for creating and inspecting generation jobs.
type JobService struct {
	jobs    store.JobStore
	catalog store.CatalogStore
	queue   Publisher
	now     func() time.Time
	logger  *slog.Logger
}

// NewJobService creates a JobService.
func NewJobService(jobs store.JobStore, catalog store.CatalogStore, queue Publisher, log *slog.Logger) (*JobService, error) {
	if jobs == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if catalog == nil {
		return nil, errors.New("catalog store cannot be nil")
	}
	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &JobService{
		jobs:    jobs,
		catalog: catalog,
		queue:   queue,
		now:     time.Now,
		logger:  log.With(slog.String("component", "job_service")),
	}, nil
}

// Enqueue validates the request, snapshots the subject and exam names, saves
// the job and publishes it. A request reusing an external ID returns the
// existing job without publishing again.
func (s *JobService) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		externalID = uuid.NewString()
	}
	if res, ok, err := s.existing(ctx, externalID); err != nil || ok {
		return res, err
	}

	subject, exam, err := s.target(ctx, req.SubjectID, req.ExamID)
	if err != nil {
		return EnqueueResult{}, err
	}

	job, err := domain.NewGenerationJob(domain.JobParams{
		ExternalID:        externalID,
		Kind:              req.Kind,
		Subject:           *subject,
		Exam:              *exam,
		Requested:         req.Requested,
		SourceDocumentID:  req.SourceDocumentID,
		SourceDocumentRef: req.SourceDocumentRef,
		CreatedBy:         req.CreatedBy,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, store.ErrJobExternalIDExists) {
			// Lost a race with a concurrent request for the same external ID.
			if res, ok, lookupErr := s.existing(ctx, externalID); lookupErr == nil && ok {
				return res, nil
			}
		}
		return EnqueueResult{}, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.queue.Publish(ctx, Message{JobID: job.ID}); err != nil {
		// The job stays queued until the runner's stuck job check republishes it.
		log.Error("failed to publish job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return EnqueueResult{}, fmt.Errorf("failed to publish job: %w", err)
	}

	log.Info("job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("external_id", job.ExternalID),
		slog.String("kind", string(job.Kind)),
		slog.Int("requested", job.RequestedCount))

	return EnqueueResult{JobID: job.ID, ExternalID: job.ExternalID}, nil
}

func (s *JobService) existing(ctx context.Context, externalID string) (EnqueueResult, bool, error) {
	job, err := s.jobs.GetByExternalID(ctx, externalID)
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		return EnqueueResult{}, false, nil
	case err != nil:
		return EnqueueResult{}, false, fmt.Errorf("failed to look up job: %w", err)
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("job already exists for external id",
		slog.String("job_id", job.ID.String()),
		slog.String("external_id", externalID))
	return EnqueueResult{JobID: job.ID, ExternalID: job.ExternalID, Existing: true}, true, nil
}

// target loads the subject and exam and checks that they belong together.
func (s *JobService) target(ctx context.Context, subjectID, examID uuid.UUID) (*domain.Subject, *domain.Exam, error) {
	if subjectID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyJobSubject)
	}
	if examID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyJobExam)
	}

	subject, err := s.catalog.GetSubject(ctx, subjectID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, nil, fmt.Errorf("%w: subject %s not found", domain.ErrValidation, subjectID)
		}
		return nil, nil, fmt.Errorf("failed to load subject: %w", err)
	}
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, nil, fmt.Errorf("%w: exam %s not found", domain.ErrValidation, examID)
		}
		return nil, nil, fmt.Errorf("failed to load exam: %w", err)
	}
	if subject.ExamID != uuid.Nil && subject.ExamID != exam.ID {
		return nil, nil, fmt.Errorf("%w: subject %s does not belong to exam %s", domain.ErrValidation, subjectID, examID)
	}
	return subject, exam, nil
}

// GetJobStatus returns the current view of a job. It has no side effects.
func (s *JobService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusView, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return NewJobStatusView(job, s.now()), nil
}

// GetJobStatusByExternalID returns the current view of the job with the
// given external ID.
func (s *JobService) GetJobStatusByExternalID(ctx context.Context, externalID string) (*JobStatusView, error) {
	job, err := s.jobs.GetByExternalID(ctx, strings.TrimSpace(externalID))
	if err != nil {
		return nil, err
	}
	return NewJobStatusView(job, s.now()), nil
}

// ListActiveJobs lists jobs newest first.
func (s *JobService) ListActiveJobs(ctx context.Context, filter ListJobsFilter) ([]*JobStatusView, error) {
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidJobKind)
	}
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = domain.ActiveJobStatuses
	}
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, fmt.Errorf("%w: %w %q", domain.ErrValidation, domain.ErrInvalidJobStatus, st)
		}
	}

	jobs, err := s.jobs.List(ctx, store.JobFilter{
		Kind:     filter.Kind,
		Statuses: statuses,
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	now := s.now()
	views := make([]*JobStatusView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, NewJobStatusView(job, now))
	}
	return views, nil
}
