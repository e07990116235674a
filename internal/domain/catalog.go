package domain

import "github.com/google/uuid"

// Subject is a read-only view of a catalog subject. Subjects are managed
// elsewhere; generation only reads them.
type Subject struct {
	ID     uuid.UUID `json:"id"`
	ExamID uuid.UUID `json:"exam_id"`
	Name   string    `json:"name"`
}

// Exam is a read-only view of a catalog exam.
type Exam struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
