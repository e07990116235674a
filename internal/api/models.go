package api

import (
	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/task"
)

// CreateJobRequest is the payload of POST /v1/jobs.
type CreateJobRequest struct {
	// ExternalID makes the request idempotent. Generated when empty.
	ExternalID        string `json:"external_id"         validate:"omitempty,max=255"`
	Kind              string `json:"kind"                validate:"required,oneof=direct_knowledge from_source_document"`
	SubjectID         string `json:"subject_id"          validate:"required,uuid"`
	ExamID            string `json:"exam_id"             validate:"required,uuid"`
	Requested         int    `json:"requested"           validate:"required,gt=0,lte=10000"`
	SourceDocumentID  string `json:"source_document_id"  validate:"omitempty,max=255"`
	SourceDocumentRef string `json:"source_document_ref" validate:"required_if=Kind from_source_document"`
	CreatedBy         string `json:"created_by"          validate:"omitempty,uuid"`
}

// CreateJobResponse identifies the job that will serve a CreateJobRequest.
type CreateJobResponse struct {
	JobID      uuid.UUID `json:"job_id"`
	ExternalID string    `json:"external_id"`
	// Existing is true when the external ID was already in use.
	Existing bool `json:"existing"`
}

// ListJobsResponse is the body of GET /v1/jobs.
type ListJobsResponse struct {
	Jobs  []*task.JobStatusView `json:"jobs"`
	Count int                   `json:"count"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
