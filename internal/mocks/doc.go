// Package mocks provides centralized mock implementations for testing.
//
// Stores are in-memory and mirror the semantics of the Postgres stores
// (conditional terminal updates, monotonic progress, duplicate external IDs),
// so pipeline tests exercise realistic behavior without a database. Every mock
// also exposes function fields that override the default behavior:
//
//	jobs := mocks.NewMockJobStore()
//	jobs.GetByIDFn = func(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
//	    return nil, errors.New("connection refused")
//	}
package mocks
