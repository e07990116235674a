package mocks

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
)

// MockQuestionStore is an in-memory store.QuestionStore that keeps questions
// in insertion order.
type MockQuestionStore struct {
	CreateManyFn        func(ctx context.Context, questions []*domain.PersistedQuestion) error
	ListQuestionTextsFn func(ctx context.Context, subjectID uuid.UUID) ([]string, error)

	mu        sync.Mutex
	questions []*domain.PersistedQuestion
}

var _ store.QuestionStore = (*MockQuestionStore)(nil)

// NewMockQuestionStore creates an empty store.
func NewMockQuestionStore() *MockQuestionStore {
	return &MockQuestionStore{}
}

// CreateMany implements store.QuestionStore.
func (m *MockQuestionStore) CreateMany(ctx context.Context, questions []*domain.PersistedQuestion) error {
	if m.CreateManyFn != nil {
		return m.CreateManyFn(ctx, questions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = append(m.questions, questions...)
	return nil
}

// ListQuestionTexts implements store.QuestionStore.
func (m *MockQuestionStore) ListQuestionTexts(ctx context.Context, subjectID uuid.UUID) ([]string, error) {
	if m.ListQuestionTextsFn != nil {
		return m.ListQuestionTextsFn(ctx, subjectID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := make([]string, 0, len(m.questions))
	for _, q := range m.questions {
		if q.SubjectID == subjectID {
			texts = append(texts, q.Question)
		}
	}
	return texts, nil
}

// CountByJob implements store.QuestionStore.
func (m *MockQuestionStore) CountByJob(_ context.Context, jobID uuid.UUID) (int, error) {
	return len(m.ByJob(jobID)), nil
}

// WithTx implements store.QuestionStore.
func (m *MockQuestionStore) WithTx(*sql.Tx) store.QuestionStore {
	return m
}

// All returns every stored question in insertion order.
func (m *MockQuestionStore) All() []*domain.PersistedQuestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.PersistedQuestion(nil), m.questions...)
}

// ByJob returns the questions created by one job in insertion order.
func (m *MockQuestionStore) ByJob(jobID uuid.UUID) []*domain.PersistedQuestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.PersistedQuestion, 0)
	for _, q := range m.questions {
		if q.SourceJobID == jobID {
			out = append(out, q)
		}
	}
	return out
}

// MockWaveCommitter commits a wave into a MockQuestionStore and MockJobStore.
type MockWaveCommitter struct {
	Jobs      *MockJobStore
	Questions *MockQuestionStore

	CommitWaveFn func(ctx context.Context, jobID uuid.UUID, questions []*domain.PersistedQuestion, generated int) error

	mu      sync.Mutex
	Commits int
}

var _ store.WaveCommitter = (*MockWaveCommitter)(nil)

// NewMockWaveCommitter creates a committer over the given stores.
func NewMockWaveCommitter(jobs *MockJobStore, questions *MockQuestionStore) *MockWaveCommitter {
	return &MockWaveCommitter{Jobs: jobs, Questions: questions}
}

// CommitWave implements store.WaveCommitter.
func (m *MockWaveCommitter) CommitWave(
	ctx context.Context,
	jobID uuid.UUID,
	questions []*domain.PersistedQuestion,
	generated int,
) error {
	if m.CommitWaveFn != nil {
		return m.CommitWaveFn(ctx, jobID, questions, generated)
	}
	if m.Jobs.Job(jobID) == nil {
		return store.ErrJobNotFound
	}
	if err := m.Questions.CreateMany(ctx, questions); err != nil {
		return err
	}
	if err := m.Jobs.UpdateProgress(ctx, jobID, generated); err != nil {
		return err
	}
	m.mu.Lock()
	m.Commits++
	m.mu.Unlock()
	return nil
}
