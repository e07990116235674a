package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/store"
)

const jobColumns = `id, external_id, kind, subject_id, subject_name, exam_id, exam_name,
	source_document_id, source_document_ref, requested_count, generated_count, status,
	error_message, created_by, created_at, updated_at, started_at, completed_at`

// terminalStatusList is the SQL list of terminal statuses used by conditional updates.
const terminalStatusList = `('completed', 'failed', 'partial', 'cancelled')`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// WithTx implements store.JobStore.WithTx
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{db: tx, logger: s.logger}
}

// Create implements store.JobStore.Create
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.GenerationJob) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("external_id", job.ExternalID))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO generation_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.ExternalID,
		string(job.Kind),
		job.SubjectID,
		job.SubjectName,
		job.ExamID,
		job.ExamName,
		job.SourceDocumentID,
		job.SourceDocumentRef,
		job.RequestedCount,
		job.GeneratedCount,
		string(job.Status),
		job.ErrorMessage,
		job.CreatedBy,
		job.CreatedAt,
		job.UpdatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Info("job external id already exists", slog.String("external_id", job.ExternalID))
			return fmt.Errorf("%w: %s", store.ErrJobExternalIDExists, job.ExternalID)
		}
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return MapError(err)
	}

	log.Debug("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("external_id", job.ExternalID),
		slog.Int("requested", job.RequestedCount))
	return nil
}

// GetByID implements store.JobStore.GetByID
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`
	return s.getOne(ctx, query, id)
}

// GetByExternalID implements store.JobStore.GetByExternalID
func (s *PostgresJobStore) GetByExternalID(
	ctx context.Context,
	externalID string,
) (*domain.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE external_id = $1`
	return s.getOne(ctx, query, externalID)
}

func (s *PostgresJobStore) getOne(ctx context.Context, query string, arg any) (*domain.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get job",
			slog.String("error", err.Error()),
			slog.Any("key", arg))
		return nil, MapError(err)
	}
	return job, nil
}

// List implements store.JobStore.List
func (s *PostgresJobStore) List(ctx context.Context, filter store.JobFilter) ([]*domain.GenerationJob, error) {
	query, args := buildJobListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list jobs",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return collectJobs(rows)
}

// buildJobListQuery renders the listing query for filter with positional arguments.
func buildJobListQuery(filter store.JobFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			args = append(args, string(st))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(jobColumns)
	b.WriteString(" FROM generation_jobs")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, filter.EffectiveLimit())
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))
	return b.String(), args
}

// MarkRunning implements store.JobStore.MarkRunning
func (s *PostgresJobStore) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE generation_jobs
		SET status = 'running', started_at = COALESCE(started_at, $2), updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')
	`
	result, err := s.db.ExecContext(ctx, query, id, startedAt.UTC())
	if err != nil {
		return MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return store.ErrJobNotRunnable
	}
	return nil
}

// UpdateProgress implements store.JobStore.UpdateProgress
func (s *PostgresJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, generated int) error {
	query := `
		UPDATE generation_jobs
		SET generated_count = GREATEST(generated_count, LEAST($2, requested_count)),
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, generated)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to update job progress",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()),
			slog.Int("generated", generated))
		return MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

// MarkTerminal implements store.JobStore.MarkTerminal
func (s *PostgresJobStore) MarkTerminal(
	ctx context.Context,
	id uuid.UUID,
	status domain.JobStatus,
	completedAt time.Time,
	errorMessage string,
) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not a terminal status", store.ErrInvalidEntity, status)
	}

	query := `
		UPDATE generation_jobs
		SET status = $2, completed_at = $3, updated_at = $3, error_message = $4
		WHERE id = $1 AND status NOT IN ` + terminalStatusList
	result, err := s.db.ExecContext(ctx, query, id, string(status), completedAt.UTC(), errorMessage)
	if err != nil {
		return false, MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return false, err
		}
		logger.FromContextOrDefault(ctx, s.logger).Info("job already terminal, status not changed",
			slog.String("job_id", id.String()),
			slog.String("requested_status", string(status)))
		return false, nil
	}
	return true, nil
}

// ListStale implements store.JobStore.ListStale
func (s *PostgresJobStore) ListStale(
	ctx context.Context,
	statuses []domain.JobStatus,
	updatedBefore time.Time,
) ([]*domain.GenerationJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{updatedBefore.UTC()}
	placeholders := make([]string, len(statuses))
	for i, st := range statuses {
		args = append(args, string(st))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := `SELECT ` + jobColumns + ` FROM generation_jobs
		WHERE updated_at < $1 AND status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list stale jobs",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.GenerationJob, error) {
	var (
		job                    domain.GenerationJob
		kind, status           string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.ExternalID,
		&kind,
		&job.SubjectID,
		&job.SubjectName,
		&job.ExamID,
		&job.ExamName,
		&job.SourceDocumentID,
		&job.SourceDocumentRef,
		&job.RequestedCount,
		&job.GeneratedCount,
		&status,
		&job.ErrorMessage,
		&job.CreatedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*domain.GenerationJob, error) {
	defer func() { _ = rows.Close() }()

	jobs := make([]*domain.GenerationJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
