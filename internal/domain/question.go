package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OptionsPerQuestion is the number of answer options every question carries.
const OptionsPerQuestion = 4

// Question validation errors
var (
	ErrEmptyQuestionText   = errors.New("question text cannot be empty")
	ErrWrongOptionCount    = errors.New("question must have exactly 4 options")
	ErrEmptyOption         = errors.New("question options cannot be empty")
	ErrCorrectNotInOptions = errors.New("correct option must match one option verbatim")
	ErrEmptyQuestionJob    = errors.New("question source job cannot be empty")
)

// QuestionCandidate is an unpersisted question produced by one generation
// unit. It only becomes a PersistedQuestion after it survives duplicate
// filtering.
type QuestionCandidate struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correct_option"`
	// Topics are lightweight tags used for generation balance, never for correctness.
	Topics []string `json:"topics,omitempty"`
}

// Validate checks the structural invariants of a candidate. Invalid
// candidates are dropped by callers rather than failing a job.
func (c QuestionCandidate) Validate() error {
	if strings.TrimSpace(c.Question) == "" {
		return ErrEmptyQuestionText
	}
	if len(c.Options) != OptionsPerQuestion {
		return ErrWrongOptionCount
	}
	found := false
	for _, opt := range c.Options {
		if strings.TrimSpace(opt) == "" {
			return ErrEmptyOption
		}
		if opt == c.CorrectOption {
			found = true
		}
	}
	if !found {
		return ErrCorrectNotInOptions
	}
	return nil
}

// PersistedQuestion is a stored exam question together with its provenance.
type PersistedQuestion struct {
	ID            uuid.UUID `json:"id"`
	SubjectID     uuid.UUID `json:"subject_id"`
	ExamID        uuid.UUID `json:"exam_id"`
	Question      string    `json:"question"`
	Options       []string  `json:"options"`
	CorrectOption string    `json:"correct_option"`
	Topics        []string  `json:"topics,omitempty"`
	CreatedBy     uuid.UUID `json:"created_by"`
	SourceJobID   uuid.UUID `json:"source_job_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewPersistedQuestion builds a question record for a candidate accepted by the given job.
func NewPersistedQuestion(c QuestionCandidate, job *GenerationJob) (*PersistedQuestion, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if job == nil || job.ID == uuid.Nil {
		return nil, ErrEmptyQuestionJob
	}

	options := make([]string, len(c.Options))
	copy(options, c.Options)

	return &PersistedQuestion{
		ID:            uuid.New(),
		SubjectID:     job.SubjectID,
		ExamID:        job.ExamID,
		Question:      strings.TrimSpace(c.Question),
		Options:       options,
		CorrectOption: c.CorrectOption,
		Topics:        c.Topics,
		CreatedBy:     job.CreatedBy,
		SourceJobID:   job.ID,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
