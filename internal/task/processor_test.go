package task_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/mocks"
	"github.com/phrazzld/examgen/internal/platform/docstore"
	"github.com/phrazzld/examgen/internal/summary"
	"github.com/phrazzld/examgen/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	doc  *docstore.Document
	err  error
	refs []string
}

func (f *fakeFetcher) Fetch(_ context.Context, ref string) (*docstore.Document, error) {
	f.refs = append(f.refs, ref)
	return f.doc, f.err
}

type fakeResolver struct {
	summary *domain.SourceSummary
	err     error
	docs    []summary.Document
}

func (r *fakeResolver) Resolve(
	_ context.Context,
	doc summary.Document,
	_, _ uuid.UUID,
) (*domain.SourceSummary, bool, error) {
	r.docs = append(r.docs, doc)
	if r.err != nil {
		return nil, false, r.err
	}
	return r.summary, false, nil
}

func newProcessor(t *testing.T, f *fixture, docs task.DocumentFetcher, summaries task.SummaryResolver) *task.Processor {
	t.Helper()
	p, err := task.NewProcessor(task.ProcessorDeps{
		Jobs:      f.jobs,
		Catalog:   f.catalog,
		Documents: docs,
		Summaries: summaries,
		Scheduler: f.scheduler,
	}, discardLogger())
	require.NoError(t, err)
	return p
}

// newSourceJob stores a queued source document job.
func (f *fixture) newSourceJob(t *testing.T, requested int, ref string) *domain.GenerationJob {
	t.Helper()

	exam, subject := f.catalog.AddExam("USMLE", "Pharmacology")
	job, err := domain.NewGenerationJob(domain.JobParams{
		ExternalID:        "ext-" + subject.ID.String(),
		Kind:              domain.JobKindSourceDocument,
		Subject:           subject,
		Exam:              exam,
		Requested:         requested,
		SourceDocumentRef: ref,
	})
	require.NoError(t, err)
	f.jobs.Put(job)
	return job
}

func TestProcessorCompletesJob(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{UnitSize: 50, MaxParallelUnits: 10})
	p := newProcessor(t, f, nil, nil)
	job := f.newJob(t, 60)

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID, Attempt: 1}))

	stored := f.jobs.Job(job.ID)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, 60, stored.GeneratedCount)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.Empty(t, stored.ErrorMessage)
	assert.Len(t, f.questions.ByJob(job.ID), 60)
}

func TestProcessorRedeliveryAfterTerminalIsNoOp(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	p := newProcessor(t, f, nil, nil)
	job := f.newJob(t, 20)
	msg := task.Message{JobID: job.ID, Attempt: 1}

	require.NoError(t, p.Handle(context.Background(), msg))
	before := f.jobs.Job(job.ID)
	calls := f.provider.Calls()

	msg.Attempt = 2
	require.NoError(t, p.Handle(context.Background(), msg))

	after := f.jobs.Job(job.ID)
	assert.Equal(t, calls, f.provider.Calls())
	assert.Equal(t, before.GeneratedCount, after.GeneratedCount)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CompletedAt, after.CompletedAt)
	assert.Len(t, f.questions.ByJob(job.ID), 20)
}

func TestProcessorSkipsCancelledJob(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	p := newProcessor(t, f, nil, nil)
	job := f.newJob(t, 20)
	_, err := f.jobs.MarkTerminal(context.Background(), job.ID, domain.JobStatusCancelled, time.Now(), "")
	require.NoError(t, err)

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID}))
	assert.Zero(t, f.provider.Calls())
	assert.Equal(t, domain.JobStatusCancelled, f.jobs.Job(job.ID).Status)
}

func TestProcessorUnknownJobIsAcknowledged(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	p := newProcessor(t, f, nil, nil)

	assert.NoError(t, p.Handle(context.Background(), task.Message{JobID: uuid.New()}))
	assert.Zero(t, f.provider.Calls())
}

func TestProcessorResumesRunningJob(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{UnitSize: 50})
	p := newProcessor(t, f, nil, nil)
	job := f.newJob(t, 60)

	started := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, job.Start(started))
	job.GeneratedCount = 40
	f.jobs.Put(job)

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID, Attempt: 2}))

	stored := f.jobs.Job(job.ID)
	assert.Equal(t, []int{20}, requestSizes(f.provider))
	assert.Equal(t, 60, stored.GeneratedCount)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.StartedAt)
	assert.True(t, stored.StartedAt.Equal(started), "start time is kept across redelivery")
}

func TestProcessorFailsWhenSubjectWasDeleted(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	p := newProcessor(t, f, nil, nil)
	job := f.newJob(t, 20)
	f.catalog.DeleteSubject(job.SubjectID)

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID}))

	stored := f.jobs.Job(job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "subject")
	assert.Zero(t, stored.GeneratedCount)
	assert.Zero(t, f.provider.Calls())
}

func TestProcessorFailsWhenDocumentIsMissing(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	fetcher := &fakeFetcher{err: fmt.Errorf("%w: s3://docs/gone.pdf", docstore.ErrDocumentNotFound)}
	p := newProcessor(t, f, fetcher, &fakeResolver{})
	job := f.newSourceJob(t, 20, "s3://docs/gone.pdf")

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID}))

	stored := f.jobs.Job(job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "document not found")
	assert.Equal(t, []string{"s3://docs/gone.pdf"}, fetcher.refs)
	assert.Zero(t, f.provider.Calls())
}

func TestProcessorUsesSourceSummary(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	job := f.newSourceJob(t, 10, "https://example.com/beta-blockers.html")

	s, err := domain.NewSourceSummary(job.SubjectID, job.ExamID, "Beta blockers reduce heart rate.",
		[]string{"beta blockers", "heart rate"}, nil, "doc-1")
	require.NoError(t, err)
	fetcher := &fakeFetcher{doc: &docstore.Document{ID: "ref-abc", Text: "Propranolol is a non-selective beta blocker."}}
	resolver := &fakeResolver{summary: s}
	p := newProcessor(t, f, fetcher, resolver)

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID}))

	require.Len(t, resolver.docs, 1)
	assert.Equal(t, "ref-abc", resolver.docs[0].ID, "reference id is used without a document id")
	assert.Equal(t, "Pharmacology", resolver.docs[0].SubjectName)

	reqs := f.provider.Requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].Prompt, "Beta blockers reduce heart rate.")
	assert.Contains(t, reqs[0].Prompt, "Cover these topics: beta blockers, heart rate.")
	assert.Contains(t, reqs[0].Prompt, "Propranolol is a non-selective beta blocker.")
	assert.Equal(t, domain.JobStatusCompleted, f.jobs.Job(job.ID).Status)
}

func TestProcessorFallsBackToKnowledgeWhenExtractionFails(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	job := f.newSourceJob(t, 10, "https://example.com/notes.txt")
	fetcher := &fakeFetcher{doc: &docstore.Document{ID: "ref-1", Text: "Loop diuretics act on the ascending limb."}}
	resolver := &fakeResolver{err: fmt.Errorf("%w: unparseable output", summary.ErrExtractionFailed)}
	p := newProcessor(t, f, fetcher, resolver)

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID}))

	reqs := f.provider.Requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].Prompt, "Use your own knowledge of the subject")
	assert.NotContains(t, reqs[0].Prompt, "Loop diuretics")
	assert.Equal(t, domain.JobStatusCompleted, f.jobs.Job(job.ID).Status)
}

func TestProcessorFailsWhenNothingIsGenerated(t *testing.T) {
	provider := &mocks.MockProvider{Err: fmt.Errorf("%w: prompt blocked", generation.ErrContentBlocked)}
	f := newFixture(t, provider, task.SchedulerConfig{})
	p := newProcessor(t, f, nil, nil)
	job := f.newJob(t, 20)

	require.NoError(t, p.Handle(context.Background(), task.Message{JobID: job.ID}))

	stored := f.jobs.Job(job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ErrNothingGenerated.Error(), stored.ErrorMessage)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 1, provider.Calls())
}

func TestProcessorReturnsInfrastructureErrors(t *testing.T) {
	f := newFixture(t, fullBatches(), task.SchedulerConfig{})
	p := newProcessor(t, f, nil, nil)
	job := f.newJob(t, 20)
	f.jobs.MarkRunningFn = func(context.Context, uuid.UUID, time.Time) error {
		return errors.New("connection refused")
	}

	err := p.Handle(context.Background(), task.Message{JobID: job.ID})
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, domain.JobStatusQueued, f.jobs.Job(job.ID).Status)
}

func TestProcessorOnDeadLetter(t *testing.T) {
	tests := []struct {
		name      string
		generated int
		want      domain.JobStatus
		wantMsg   bool
	}{
		{name: "some progress", generated: 12, want: domain.JobStatusPartial, wantMsg: true},
		{name: "no progress", generated: 0, want: domain.JobStatusFailed, wantMsg: true},
		{name: "all committed", generated: 30, want: domain.JobStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fullBatches(), task.SchedulerConfig{})
			p := newProcessor(t, f, nil, nil)
			job := f.newRunningJob(t, 30)
			job.GeneratedCount = tt.generated
			f.jobs.Put(job)

			p.OnDeadLetter(context.Background(), task.Message{JobID: job.ID, Attempt: 3}, errors.New("db down"))

			stored := f.jobs.Job(job.ID)
			assert.Equal(t, tt.want, stored.Status)
			if tt.wantMsg {
				assert.Contains(t, stored.ErrorMessage, "db down")
			} else {
				assert.Empty(t, stored.ErrorMessage)
			}
		})
	}
}

func TestNewProcessorRequiresDependencies(t *testing.T) {
	_, err := task.NewProcessor(task.ProcessorDeps{}, nil)
	assert.Error(t, err)
}
