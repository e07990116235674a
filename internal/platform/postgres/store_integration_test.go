//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to EXAMGEN_TEST_DATABASE_URL and applies migrations.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("EXAMGEN_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EXAMGEN_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, "up", nil))
	return db
}

func seedCatalog(t *testing.T, db *sql.DB) (domain.Subject, domain.Exam) {
	t.Helper()
	exam := domain.Exam{ID: uuid.New(), Name: "Bar Exam"}
	subject := domain.Subject{ID: uuid.New(), ExamID: exam.ID, Name: "Contracts"}

	_, err := db.Exec(`INSERT INTO exams (id, name) VALUES ($1, $2)`, exam.ID, exam.Name)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO subjects (id, exam_id, name) VALUES ($1, $2, $3)`,
		subject.ID, subject.ExamID, subject.Name)
	require.NoError(t, err)
	return subject, exam
}

func newTestJob(t *testing.T, subject domain.Subject, exam domain.Exam, requested int) *domain.GenerationJob {
	t.Helper()
	job, err := domain.NewGenerationJob(domain.JobParams{
		ExternalID: "ext-" + uuid.NewString(),
		Kind:       domain.JobKindDirectKnowledge,
		Subject:    subject,
		Exam:       exam,
		Requested:  requested,
		CreatedBy:  uuid.New(),
	})
	require.NoError(t, err)
	return job
}

func TestJobStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	subject, exam := seedCatalog(t, db)

	jobs := NewPostgresJobStore(db, nil)
	questions := NewPostgresQuestionStore(db, nil)
	committer := NewWaveCommitter(db, jobs, questions, nil)

	job := newTestJob(t, subject, exam, 3)
	require.NoError(t, jobs.Create(ctx, job))

	dup := *job
	dup.ID = uuid.New()
	assert.ErrorIs(t, jobs.Create(ctx, &dup), store.ErrJobExternalIDExists)

	started := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, jobs.MarkRunning(ctx, job.ID, started))
	require.NoError(t, jobs.MarkRunning(ctx, job.ID, started.Add(time.Hour)))

	got, err := jobs.GetByExternalID(ctx, job.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started), "start time is recorded once")

	candidate := domain.QuestionCandidate{
		Question:      "What makes an offer binding?",
		Options:       []string{"Acceptance", "Silence", "Rejection", "Delay"},
		CorrectOption: "Acceptance",
	}
	q, err := domain.NewPersistedQuestion(candidate, got)
	require.NoError(t, err)
	require.NoError(t, committer.CommitWave(ctx, job.ID, []*domain.PersistedQuestion{q}, 1))

	count, err := questions.CountByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	texts, err := questions.ListQuestionTexts(ctx, subject.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{candidate.Question}, texts)

	// Progress never decreases and never exceeds requested.
	require.NoError(t, jobs.UpdateProgress(ctx, job.ID, 0))
	require.NoError(t, jobs.UpdateProgress(ctx, job.ID, 10))
	got, err = jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.GeneratedCount)

	applied, err := jobs.MarkTerminal(ctx, job.ID, domain.JobStatusCancelled, time.Now(), "")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = jobs.MarkTerminal(ctx, job.ID, domain.JobStatusCompleted, time.Now(), "")
	require.NoError(t, err)
	assert.False(t, applied, "terminal status is never overwritten")

	assert.ErrorIs(t, jobs.MarkRunning(ctx, job.ID, time.Now()), store.ErrJobNotRunnable)

	_, err = jobs.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestJobStoreListAndStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	subject, exam := seedCatalog(t, db)
	jobs := NewPostgresJobStore(db, nil)

	job := newTestJob(t, subject, exam, 5)
	require.NoError(t, jobs.Create(ctx, job))

	listed, err := jobs.List(ctx, store.JobFilter{
		Kind:     domain.JobKindDirectKnowledge,
		Statuses: domain.ActiveJobStatuses,
		Limit:    store.MaxJobListLimit,
	})
	require.NoError(t, err)
	found := false
	for _, j := range listed {
		if j.ID == job.ID {
			found = true
		}
	}
	assert.True(t, found)

	stale, err := jobs.ListStale(ctx, []domain.JobStatus{domain.JobStatusQueued}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, stale)
}

func TestSummaryStoreAppendSource(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	subject, exam := seedCatalog(t, db)
	summaries := NewPostgresSummaryStore(db, nil)

	sum, err := domain.NewSourceSummary(subject.ID, exam.ID, "Offer and acceptance",
		[]string{"offer", "acceptance"}, []string{"consideration"}, "doc-1")
	require.NoError(t, err)
	require.NoError(t, summaries.Create(ctx, sum))

	added, err := summaries.AppendSource(ctx, sum.ID, "doc-2")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = summaries.AppendSource(ctx, sum.ID, "doc-2")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = summaries.AppendSource(ctx, uuid.New(), "doc-3")
	assert.ErrorIs(t, err, store.ErrSummaryNotFound)

	list, err := summaries.ListByTarget(ctx, subject.ID, exam.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"doc-1", "doc-2"}, list[0].SourceDocumentIDs)
}

func TestCatalogStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	subject, exam := seedCatalog(t, db)
	catalog := NewPostgresCatalogStore(db, nil)

	gotSubject, err := catalog.GetSubject(ctx, subject.ID)
	require.NoError(t, err)
	assert.Equal(t, subject, *gotSubject)

	gotExam, err := catalog.GetExam(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, exam, *gotExam)

	_, err = catalog.GetSubject(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrSubjectNotFound)
	_, err = catalog.GetExam(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrExamNotFound)
}
