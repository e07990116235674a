package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() JobParams {
	examID := uuid.New()
	return JobParams{
		ExternalID: "job-123",
		Kind:       JobKindDirectKnowledge,
		Subject:    Subject{ID: uuid.New(), ExamID: examID, Name: "Organic Chemistry"},
		Exam:       Exam{ID: examID, Name: "MCAT"},
		Requested:  120,
		CreatedBy:  uuid.New(),
	}
}

func TestNewGenerationJob(t *testing.T) {
	p := validParams()
	job, err := NewGenerationJob(p)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, "Organic Chemistry", job.SubjectName)
	assert.Equal(t, "MCAT", job.ExamName)
	assert.Equal(t, 120, job.RequestedCount)
	assert.Zero(t, job.GeneratedCount)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
}

func TestNewGenerationJobValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *JobParams)
		want   error
	}{
		{name: "empty external id", mutate: func(p *JobParams) { p.ExternalID = "  " }, want: ErrEmptyJobExternalID},
		{name: "unknown kind", mutate: func(p *JobParams) { p.Kind = "from_video" }, want: ErrInvalidJobKind},
		{name: "missing subject", mutate: func(p *JobParams) { p.Subject.ID = uuid.Nil }, want: ErrEmptyJobSubject},
		{name: "missing exam", mutate: func(p *JobParams) { p.Exam.ID = uuid.Nil }, want: ErrEmptyJobExam},
		{name: "zero requested", mutate: func(p *JobParams) { p.Requested = 0 }, want: ErrInvalidRequested},
		{
			name:   "source kind without reference",
			mutate: func(p *JobParams) { p.Kind = JobKindSourceDocument },
			want:   ErrMissingJobSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			job, err := NewGenerationJob(p)
			assert.Nil(t, job)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("source kind with reference", func(t *testing.T) {
		p := validParams()
		p.Kind = JobKindSourceDocument
		p.SourceDocumentRef = "s3://docs/chem.pdf"
		job, err := NewGenerationJob(p)
		require.NoError(t, err)
		assert.Equal(t, "s3://docs/chem.pdf", job.SourceDocumentRef)
	})
}

func TestJobStartKeepsOriginalStartTime(t *testing.T) {
	job, err := NewGenerationJob(validParams())
	require.NoError(t, err)

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, job.Start(first))
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	require.NoError(t, job.Start(first.Add(time.Hour)), "a redelivered running job resumes")
	assert.True(t, job.StartedAt.Equal(first))

	_, err = job.Finish(first.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.True(t, errors.Is(job.Start(first.Add(3*time.Hour)), ErrInvalidTransition))
}

func TestRecordProgressNeverExceedsRequested(t *testing.T) {
	p := validParams()
	p.Requested = 10
	job, err := NewGenerationJob(p)
	require.NoError(t, err)

	assert.Equal(t, 6, job.RecordProgress(6))
	assert.Equal(t, 4, job.Remaining())
	assert.Equal(t, 4, job.RecordProgress(9))
	assert.Equal(t, 10, job.GeneratedCount)
	assert.Equal(t, 0, job.Remaining())
	assert.Equal(t, 0, job.RecordProgress(-3))
	assert.NoError(t, job.Validate())
}

func TestResolveFinalStatus(t *testing.T) {
	tests := []struct {
		generated, requested int
		want                 JobStatus
	}{
		{generated: 120, requested: 120, want: JobStatusCompleted},
		{generated: 121, requested: 120, want: JobStatusCompleted},
		{generated: 80, requested: 120, want: JobStatusPartial},
		{generated: 1, requested: 120, want: JobStatusPartial},
		{generated: 0, requested: 120, want: JobStatusFailed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveFinalStatus(tt.generated, tt.requested),
			"generated=%d requested=%d", tt.generated, tt.requested)
	}
}

func TestFinishAndFailAreTerminal(t *testing.T) {
	job, err := NewGenerationJob(validParams())
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, job.Start(now))
	job.RecordProgress(50)

	status, err := job.Finish(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, JobStatusPartial, status)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, time.Minute, job.Elapsed(now.Add(time.Hour)).Round(time.Second))

	_, err = job.Finish(now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, job.Fail(now, "late failure"), ErrInvalidTransition)
	assert.Equal(t, JobStatusPartial, job.Status)

	other, err := NewGenerationJob(validParams())
	require.NoError(t, err)
	require.NoError(t, other.Fail(now, "subject deleted"))
	assert.Equal(t, JobStatusFailed, other.Status)
	assert.Equal(t, "subject deleted", other.ErrorMessage)
	require.NotNil(t, other.CompletedAt)

	empty, err := NewGenerationJob(validParams())
	require.NoError(t, err)
	require.NoError(t, empty.Start(now))
	status, err = empty.Finish(now)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, status)
	assert.Equal(t, ErrNothingGenerated.Error(), empty.ErrorMessage)
}

func TestStatusHelpers(t *testing.T) {
	for _, s := range TerminalJobStatuses {
		assert.True(t, s.IsTerminal(), s)
		assert.True(t, s.IsValid(), s)
	}
	for _, s := range ActiveJobStatuses {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.False(t, JobStatus("paused").IsValid())
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0s", FormatElapsed(0))
	assert.Equal(t, "0s", FormatElapsed(400*time.Millisecond))
	assert.Equal(t, "45s", FormatElapsed(45*time.Second))
	assert.Equal(t, "2m", FormatElapsed(2*time.Minute))
	assert.Equal(t, "1h 2m 3s", FormatElapsed(time.Hour+2*time.Minute+3*time.Second))
}

func TestElapsedWithoutStart(t *testing.T) {
	job, err := NewGenerationJob(validParams())
	require.NoError(t, err)
	assert.Zero(t, job.Elapsed(time.Now()))
}
