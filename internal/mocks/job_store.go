package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/store"
)

// MockJobStore is an in-memory store.JobStore.
type MockJobStore struct {
	CreateFn          func(ctx context.Context, job *domain.GenerationJob) error
	GetByIDFn         func(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)
	GetByExternalIDFn func(ctx context.Context, externalID string) (*domain.GenerationJob, error)
	MarkRunningFn     func(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	UpdateProgressFn  func(ctx context.Context, id uuid.UUID, generated int) error
	MarkTerminalFn    func(ctx context.Context, id uuid.UUID, status domain.JobStatus, at time.Time, msg string) (bool, error)

	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.GenerationJob
}

var _ store.JobStore = (*MockJobStore)(nil)

// NewMockJobStore creates an empty store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{jobs: make(map[uuid.UUID]*domain.GenerationJob)}
}

// Put stores a copy of job, replacing any job with the same ID.
func (m *MockJobStore) Put(job *domain.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

// Job returns a copy of the stored job or nil.
func (m *MockJobStore) Job(id uuid.UUID) *domain.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

// Create implements store.JobStore.
func (m *MockJobStore) Create(ctx context.Context, job *domain.GenerationJob) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, job)
	}
	if err := job.Validate(); err != nil {
		return store.NewStoreError("job", "create", "invalid job", store.ErrInvalidEntity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ExternalID == job.ExternalID {
			return store.ErrJobExternalIDExists
		}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// GetByID implements store.JobStore.
func (m *MockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	if j := m.Job(id); j != nil {
		return j, nil
	}
	return nil, store.ErrJobNotFound
}

// GetByExternalID implements store.JobStore.
func (m *MockJobStore) GetByExternalID(ctx context.Context, externalID string) (*domain.GenerationJob, error) {
	if m.GetByExternalIDFn != nil {
		return m.GetByExternalIDFn(ctx, externalID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ExternalID == externalID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrJobNotFound
}

// List implements store.JobStore. Jobs are returned newest first.
func (m *MockJobStore) List(_ context.Context, filter store.JobFilter) ([]*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.GenerationJob, 0)
	for _, j := range m.jobs {
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, j.Status) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRunning implements store.JobStore.
func (m *MockJobStore) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	if m.MarkRunningFn != nil {
		return m.MarkRunningFn(ctx, id, startedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if j.Status.IsTerminal() {
		return store.ErrJobNotRunnable
	}
	j.Status = domain.JobStatusRunning
	if j.StartedAt == nil {
		at := startedAt.UTC()
		j.StartedAt = &at
	}
	j.UpdatedAt = startedAt.UTC()
	return nil
}

// UpdateProgress implements store.JobStore. Progress never decreases and is
// capped at the requested count.
func (m *MockJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, generated int) error {
	if m.UpdateProgressFn != nil {
		return m.UpdateProgressFn(ctx, id, generated)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.GeneratedCount = max(j.GeneratedCount, min(generated, j.RequestedCount))
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkTerminal implements store.JobStore. A job that is already terminal is left untouched.
func (m *MockJobStore) MarkTerminal(
	ctx context.Context,
	id uuid.UUID,
	status domain.JobStatus,
	completedAt time.Time,
	errorMessage string,
) (bool, error) {
	if m.MarkTerminalFn != nil {
		return m.MarkTerminalFn(ctx, id, status, completedAt, errorMessage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return false, store.ErrJobNotFound
	}
	if j.Status.IsTerminal() {
		return false, nil
	}
	at := completedAt.UTC()
	j.Status = status
	j.CompletedAt = &at
	j.UpdatedAt = at
	j.ErrorMessage = errorMessage
	return true, nil
}

// ListStale implements store.JobStore.
func (m *MockJobStore) ListStale(
	_ context.Context,
	statuses []domain.JobStatus,
	updatedBefore time.Time,
) ([]*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.GenerationJob, 0)
	for _, j := range m.jobs {
		if hasStatus(statuses, j.Status) && j.UpdatedAt.Before(updatedBefore) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	return out, nil
}

// WithTx implements store.JobStore. The mock has no transactions.
func (m *MockJobStore) WithTx(*sql.Tx) store.JobStore {
	return m
}

func hasStatus(statuses []domain.JobStatus, s domain.JobStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
