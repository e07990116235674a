package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
)

// MockSummaryStore is an in-memory store.SummaryStore.
type MockSummaryStore struct {
	CreateFn       func(ctx context.Context, summary *domain.SourceSummary) error
	ListByTargetFn func(ctx context.Context, subjectID, examID uuid.UUID) ([]*domain.SourceSummary, error)

	mu        sync.Mutex
	summaries []*domain.SourceSummary
}

var _ store.SummaryStore = (*MockSummaryStore)(nil)

// NewMockSummaryStore creates an empty store.
func NewMockSummaryStore() *MockSummaryStore {
	return &MockSummaryStore{}
}

// Create implements store.SummaryStore.
func (m *MockSummaryStore) Create(ctx context.Context, summary *domain.SourceSummary) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, summary)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, cloneSummary(summary))
	return nil
}

// ListByTarget implements store.SummaryStore.
func (m *MockSummaryStore) ListByTarget(ctx context.Context, subjectID, examID uuid.UUID) ([]*domain.SourceSummary, error) {
	if m.ListByTargetFn != nil {
		return m.ListByTargetFn(ctx, subjectID, examID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.SourceSummary, 0)
	for _, s := range m.summaries {
		if s.SubjectID == subjectID && s.ExamID == examID {
			out = append(out, cloneSummary(s))
		}
	}
	return out, nil
}

// AppendSource implements store.SummaryStore.
func (m *MockSummaryStore) AppendSource(_ context.Context, id uuid.UUID, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.summaries {
		if s.ID == id {
			added := s.AddSource(documentID)
			if added {
				s.UpdatedAt = time.Now().UTC()
			}
			return added, nil
		}
	}
	return false, store.ErrSummaryNotFound
}

// All returns copies of every stored summary.
func (m *MockSummaryStore) All() []*domain.SourceSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.SourceSummary, len(m.summaries))
	for i, s := range m.summaries {
		out[i] = cloneSummary(s)
	}
	return out
}

func cloneSummary(s *domain.SourceSummary) *domain.SourceSummary {
	cp := *s
	cp.Topics = append([]string(nil), s.Topics...)
	cp.Keywords = append([]string(nil), s.Keywords...)
	cp.SourceDocumentIDs = append([]string(nil), s.SourceDocumentIDs...)
	return &cp
}
