package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
)

// MockCatalogStore is an in-memory store.CatalogStore.
type MockCatalogStore struct {
	GetSubjectFn func(ctx context.Context, id uuid.UUID) (*domain.Subject, error)
	GetExamFn    func(ctx context.Context, id uuid.UUID) (*domain.Exam, error)

	mu       sync.Mutex
	subjects map[uuid.UUID]domain.Subject
	exams    map[uuid.UUID]domain.Exam
}

var _ store.CatalogStore = (*MockCatalogStore)(nil)

// NewMockCatalogStore creates an empty catalog.
func NewMockCatalogStore() *MockCatalogStore {
	return &MockCatalogStore{
		subjects: make(map[uuid.UUID]domain.Subject),
		exams:    make(map[uuid.UUID]domain.Exam),
	}
}

// AddExam registers an exam with one subject and returns both.
func (m *MockCatalogStore) AddExam(examName, subjectName string) (domain.Exam, domain.Subject) {
	exam := domain.Exam{ID: uuid.New(), Name: examName}
	subject := domain.Subject{ID: uuid.New(), ExamID: exam.ID, Name: subjectName}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[exam.ID] = exam
	m.subjects[subject.ID] = subject
	return exam, subject
}

// DeleteSubject removes a subject, simulating a deletion by the catalog owner.
func (m *MockCatalogStore) DeleteSubject(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subjects, id)
}

// GetSubject implements store.CatalogStore.
func (m *MockCatalogStore) GetSubject(ctx context.Context, id uuid.UUID) (*domain.Subject, error) {
	if m.GetSubjectFn != nil {
		return m.GetSubjectFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, store.ErrSubjectNotFound
	}
	return &s, nil
}

// GetExam implements store.CatalogStore.
func (m *MockCatalogStore) GetExam(ctx context.Context, id uuid.UUID) (*domain.Exam, error) {
	if m.GetExamFn != nil {
		return m.GetExamFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, store.ErrExamNotFound
	}
	return &e, nil
}
