package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message is the queue payload for one generation job. The job record is the
// source of truth, so the message only carries its ID.
type Message struct {
	JobID uuid.UUID `json:"job_id"`

	// Attempt is the 1-based delivery attempt, set by the queue on delivery.
	Attempt int `json:"attempt,omitempty"`
}

// Encode serializes the message for queues that carry raw bytes.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a message produced by Encode.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode job message: %w", err)
	}
	if m.JobID == uuid.Nil {
		return Message{}, fmt.Errorf("failed to decode job message: missing job id")
	}
	return m, nil
}

// Handler processes one delivered message. Returning nil acknowledges the
// message; returning an error asks the queue to deliver it again.
type Handler func(ctx context.Context, msg Message) error

// DeadLetterFunc is called once a message has failed its last attempt.
type DeadLetterFunc func(ctx context.Context, msg Message, cause error)

// Publisher is the write side of a Queue.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Queue delivers job messages at least once.
type Queue interface {
	Publisher

	// Consume runs workers concurrent handlers until ctx is cancelled or the
	// queue is closed. It blocks until every handler has returned.
	Consume(ctx context.Context, workers int, handler Handler) error

	// Close stops accepting messages.
	Close() error
}
