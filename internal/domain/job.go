package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies where a generation job takes its content from.
type JobKind string

// Possible job kinds
const (
	JobKindSourceDocument  JobKind = "from_source_document"
	JobKindDirectKnowledge JobKind = "direct_knowledge"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

// Possible job status values
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPartial   JobStatus = "partial"
	JobStatusCancelled JobStatus = "cancelled"
)

// TerminalJobStatuses lists every status after which no further transition occurs.
var TerminalJobStatuses = []JobStatus{
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusPartial,
	JobStatusCancelled,
}

// ActiveJobStatuses lists the statuses of jobs that still have work ahead of them.
var ActiveJobStatuses = []JobStatus{JobStatusQueued, JobStatusRunning}

// Job validation errors
var (
	ErrEmptyJobExternalID  = errors.New("job external ID cannot be empty")
	ErrInvalidJobKind      = errors.New("invalid job kind")
	ErrInvalidJobStatus    = errors.New("invalid job status")
	ErrEmptyJobSubject     = errors.New("job subject cannot be empty")
	ErrEmptyJobExam        = errors.New("job exam cannot be empty")
	ErrInvalidRequested    = errors.New("requested question count must be positive")
	ErrMissingJobSource    = errors.New("source document jobs require a document reference")
	ErrGeneratedOutOfRange = errors.New("generated count must be between 0 and requested count")
)

// IsValid reports whether k is a known job kind.
func (k JobKind) IsValid() bool {
	return k == JobKindSourceDocument || k == JobKindDirectKnowledge
}

// IsValid reports whether s is a known job status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusPartial, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a terminal status.
func (s JobStatus) IsTerminal() bool {
	for _, t := range TerminalJobStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// GenerationJob is the durable record of one question generation request.
// It is created at enqueue time and afterwards mutated only by the worker
// that executes it.
type GenerationJob struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	Kind       JobKind   `json:"kind"`

	// Names are snapshotted at creation so they stay displayable after a rename.
	SubjectID   uuid.UUID `json:"subject_id"`
	SubjectName string    `json:"subject_name"`
	ExamID      uuid.UUID `json:"exam_id"`
	ExamName    string    `json:"exam_name"`

	SourceDocumentID  string `json:"source_document_id,omitempty"`
	SourceDocumentRef string `json:"source_document_ref,omitempty"`

	RequestedCount int       `json:"requested_count"`
	GeneratedCount int       `json:"generated_count"`
	Status         JobStatus `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedBy      uuid.UUID `json:"created_by"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobParams holds the caller supplied fields of a new generation job.
type JobParams struct {
	ExternalID        string
	Kind              JobKind
	Subject           Subject
	Exam              Exam
	Requested         int
	SourceDocumentID  string
	SourceDocumentRef string
	CreatedBy         uuid.UUID
}

// NewGenerationJob creates a queued job. Subject and exam names are taken as
// given and kept even if the catalog entries are renamed later.
func NewGenerationJob(p JobParams) (*GenerationJob, error) {
	now := time.Now().UTC()
	job := &GenerationJob{
		ID:                uuid.New(),
		ExternalID:        strings.TrimSpace(p.ExternalID),
		Kind:              p.Kind,
		SubjectID:         p.Subject.ID,
		SubjectName:       p.Subject.Name,
		ExamID:            p.Exam.ID,
		ExamName:          p.Exam.Name,
		SourceDocumentID:  strings.TrimSpace(p.SourceDocumentID),
		SourceDocumentRef: strings.TrimSpace(p.SourceDocumentRef),
		RequestedCount:    p.Requested,
		Status:            JobStatusQueued,
		CreatedBy:         p.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the job has valid data.
func (j *GenerationJob) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job ID", ErrInvalidID)
	}
	if j.ExternalID == "" {
		return ErrEmptyJobExternalID
	}
	if !j.Kind.IsValid() {
		return ErrInvalidJobKind
	}
	if !j.Status.IsValid() {
		return ErrInvalidJobStatus
	}
	if j.SubjectID == uuid.Nil {
		return ErrEmptyJobSubject
	}
	if j.ExamID == uuid.Nil {
		return ErrEmptyJobExam
	}
	if j.RequestedCount <= 0 {
		return ErrInvalidRequested
	}
	if j.GeneratedCount < 0 || j.GeneratedCount > j.RequestedCount {
		return ErrGeneratedOutOfRange
	}
	if j.Kind == JobKindSourceDocument && j.SourceDocumentRef == "" {
		return ErrMissingJobSource
	}
	return nil
}

// Start moves a queued job to running and records the start time. Starting a
// job that is already running keeps the original start time so a redelivered
// job resumes instead of restarting.
func (j *GenerationJob) Start(now time.Time) error {
	switch j.Status {
	case JobStatusQueued:
		j.Status = JobStatusRunning
		started := now.UTC()
		j.StartedAt = &started
	case JobStatusRunning:
		if j.StartedAt == nil {
			started := now.UTC()
			j.StartedAt = &started
		}
	default:
		return fmt.Errorf("%w: cannot start job in status %s", ErrInvalidTransition, j.Status)
	}
	j.UpdatedAt = now.UTC()
	return nil
}

// Remaining returns how many questions are still missing.
func (j *GenerationJob) Remaining() int {
	if r := j.RequestedCount - j.GeneratedCount; r > 0 {
		return r
	}
	return 0
}

// RecordProgress adds accepted questions to the generated count, never
// exceeding the requested count. It returns how many were counted.
func (j *GenerationJob) RecordProgress(accepted int) int {
	if accepted <= 0 {
		return 0
	}
	if accepted > j.Remaining() {
		accepted = j.Remaining()
	}
	j.GeneratedCount += accepted
	j.UpdatedAt = time.Now().UTC()
	return accepted
}

// Finish sets the terminal status derived from the job's counts. A job that
// generated nothing fails with ErrNothingGenerated as its message.
func (j *GenerationJob) Finish(now time.Time) (JobStatus, error) {
	if j.Status.IsTerminal() {
		return j.Status, fmt.Errorf("%w: job already %s", ErrInvalidTransition, j.Status)
	}
	j.Status = ResolveFinalStatus(j.GeneratedCount, j.RequestedCount)
	if j.Status == JobStatusFailed {
		j.ErrorMessage = ErrNothingGenerated.Error()
	}
	completed := now.UTC()
	j.CompletedAt = &completed
	j.UpdatedAt = completed
	return j.Status, nil
}

// Fail marks the job failed with the given reason.
func (j *GenerationJob) Fail(now time.Time, reason string) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job already %s", ErrInvalidTransition, j.Status)
	}
	j.Status = JobStatusFailed
	j.ErrorMessage = reason
	completed := now.UTC()
	j.CompletedAt = &completed
	j.UpdatedAt = completed
	return nil
}

// Elapsed returns the time spent since the job started, up to completion or now.
func (j *GenerationJob) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	if end.Before(*j.StartedAt) {
		return 0
	}
	return end.Sub(*j.StartedAt)
}

// ResolveFinalStatus maps generated and requested counts to a terminal status.
// Generated may exceed requested through rounding across batches, which still
// counts as completed. Every job plans at least one unit while it has demand
// left, so zero generated means every attempted unit came back empty.
func ResolveFinalStatus(generated, requested int) JobStatus {
	switch {
	case generated >= requested:
		return JobStatusCompleted
	case generated > 0:
		return JobStatusPartial
	default:
		return JobStatusFailed
	}
}

// FormatElapsed renders a duration as a short human readable string such as
// "1h 2m 3s" or "45s".
func FormatElapsed(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}
