package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Summary validation errors
var (
	ErrEmptySummaryText   = errors.New("summary text cannot be empty")
	ErrEmptySummaryTopics = errors.New("summary must have at least one topic")
)

// SourceSummary is a reusable digest of one or more source documents. It
// belongs to exactly one (subject, exam) pair and is shared by every document
// whose topics overlap it closely enough.
type SourceSummary struct {
	ID                uuid.UUID `json:"id"`
	SubjectID         uuid.UUID `json:"subject_id"`
	ExamID            uuid.UUID `json:"exam_id"`
	Summary           string    `json:"summary"`
	Topics            []string  `json:"topics"`
	Keywords          []string  `json:"keywords"`
	SourceDocumentIDs []string  `json:"source_document_ids"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewSourceSummary creates a summary owned by the given subject and exam with
// documentID as its first source.
func NewSourceSummary(
	subjectID, examID uuid.UUID,
	summary string,
	topics, keywords []string,
	documentID string,
) (*SourceSummary, error) {
	now := time.Now().UTC()
	s := &SourceSummary{
		ID:        uuid.New(),
		SubjectID: subjectID,
		ExamID:    examID,
		Summary:   strings.TrimSpace(summary),
		Topics:    topics,
		Keywords:  keywords,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if documentID != "" {
		s.SourceDocumentIDs = []string{documentID}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks if the summary has valid data.
func (s *SourceSummary) Validate() error {
	if s.ID == uuid.Nil {
		return ErrInvalidID
	}
	if s.SubjectID == uuid.Nil {
		return ErrEmptyJobSubject
	}
	if s.ExamID == uuid.Nil {
		return ErrEmptyJobExam
	}
	if s.Summary == "" {
		return ErrEmptySummaryText
	}
	if len(s.Topics) == 0 {
		return ErrEmptySummaryTopics
	}
	return nil
}

// HasSource reports whether documentID already contributed to the summary.
func (s *SourceSummary) HasSource(documentID string) bool {
	for _, id := range s.SourceDocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// AddSource appends documentID to the source list. It returns false when the
// document was already listed.
func (s *SourceSummary) AddSource(documentID string) bool {
	if documentID == "" || s.HasSource(documentID) {
		return false
	}
	s.SourceDocumentIDs = append(s.SourceDocumentIDs, documentID)
	s.UpdatedAt = time.Now().UTC()
	return true
}
