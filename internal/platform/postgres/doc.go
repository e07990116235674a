// Package postgres provides PostgreSQL implementations of the persistence
// interfaces defined in internal/store: generation jobs, questions, source
// summaries, the read-only catalog, and the atomic wave commit. It also owns
// the embedded goose migrations for those tables.
package postgres
