package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/api/shared"
	"github.com/phrazzld/examgen/internal/platform/logger"
	"github.com/phrazzld/examgen/internal/task"
)

// JobAPI is the job service surface served over HTTP. *task.JobService implements it.
type JobAPI interface {
	Enqueue(ctx context.Context, req task.EnqueueRequest) (task.EnqueueResult, error)
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (*task.JobStatusView, error)
	GetJobStatusByExternalID(ctx context.Context, externalID string) (*task.JobStatusView, error)
	ListActiveJobs(ctx context.Context, filter task.ListJobsFilter) ([]*task.JobStatusView, error)
}

var _ JobAPI = (*task.JobService)(nil)

// JobHandler handles generation job requests.
type JobHandler struct {
	jobs   JobAPI
	logger *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs JobAPI, log *slog.Logger) *JobHandler {
	if log == nil {
		log = slog.Default()
	}
	return &JobHandler{jobs: jobs, logger: log.With(slog.String("component", "job_handler"))}
}

// CreateJob handles POST /v1/jobs. A new job is answered with 202 Accepted;
// a request whose external ID is already known returns that job with 200 OK.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	enqueue, err := ToEnqueueRequest(req)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	res, err := h.jobs.Enqueue(r.Context(), enqueue)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	status := http.StatusAccepted
	if res.Existing {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/v1/jobs/"+res.JobID.String())
	shared.RespondWithJSON(w, r, status, CreateJobResponse{
		JobID:      res.JobID,
		ExternalID: res.ExternalID,
		Existing:   res.Existing,
	})
}

// GetJob handles GET /v1/jobs/{id}. The id is a job UUID or, failing to
// parse as one, the job's external ID.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "id"))
	if ref == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Job id is required")
		return
	}

	var (
		view *task.JobStatusView
		err  error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		view, err = h.jobs.GetJobStatus(r.Context(), id)
	} else {
		view, err = h.jobs.GetJobStatusByExternalID(r.Context(), ref)
	}
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// ListJobs handles GET /v1/jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	views, err := h.jobs.ListActiveJobs(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if views == nil {
		views = []*task.JobStatusView{}
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("listed jobs",
		slog.Int("count", len(views)),
		slog.String("kind", string(filter.Kind)))
	shared.RespondWithJSON(w, r, http.StatusOK, ListJobsResponse{Jobs: views, Count: len(views)})
}
