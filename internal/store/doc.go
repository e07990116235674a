// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the job pipeline, so the scheduler and worker depend on behavior
// (conditional status updates, atomic wave commits) rather than on a
// particular database.
package store
