package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/task"
)

// ToEnqueueRequest converts a validated CreateJobRequest.
func ToEnqueueRequest(req CreateJobRequest) (task.EnqueueRequest, error) {
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		return task.EnqueueRequest{}, fmt.Errorf("%w: subject_id has invalid format", domain.ErrInvalidID)
	}
	examID, err := uuid.Parse(req.ExamID)
	if err != nil {
		return task.EnqueueRequest{}, fmt.Errorf("%w: exam_id has invalid format", domain.ErrInvalidID)
	}
	var createdBy uuid.UUID
	if req.CreatedBy != "" {
		if createdBy, err = uuid.Parse(req.CreatedBy); err != nil {
			return task.EnqueueRequest{}, fmt.Errorf("%w: created_by has invalid format", domain.ErrInvalidID)
		}
	}

	return task.EnqueueRequest{
		ExternalID:        req.ExternalID,
		Kind:              domain.JobKind(req.Kind),
		SubjectID:         subjectID,
		ExamID:            examID,
		Requested:         req.Requested,
		SourceDocumentID:  req.SourceDocumentID,
		SourceDocumentRef: req.SourceDocumentRef,
		CreatedBy:         createdBy,
	}, nil
}

// parseListFilter reads kind, status and limit query parameters. status may
// repeat or hold a comma-separated list.
func parseListFilter(r *http.Request) (task.ListJobsFilter, error) {
	q := r.URL.Query()
	filter := task.ListJobsFilter{Kind: domain.JobKind(q.Get("kind"))}

	for _, value := range q["status"] {
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, domain.JobStatus(s))
			}
		}
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return task.ListJobsFilter{}, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation)
		}
		filter.Limit = limit
	}
	return filter, nil
}
