package mocks

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/phrazzld/examgen/internal/generation"
)

// MockProvider implements generation.Provider for testing.
type MockProvider struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, req generation.Request) (*generation.Response, error)

	// Default response values
	Text string
	Err  error

	mu       sync.Mutex
	requests []generation.Request
}

var _ generation.Provider = (*MockProvider)(nil)

// Generate implements generation.Provider.
func (m *MockProvider) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &generation.Response{Text: m.Text}, nil
}

// Calls returns how many times Generate was called.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []generation.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.Request(nil), m.requests...)
}

// QuestionsJSON renders n distinct, valid questions as the JSON array a model
// is asked to return. Question texts are prefix followed by a digest of
// (prefix, i), so no two of them are near-duplicates of each other.
func QuestionsJSON(prefix string, n int) string {
	type item struct {
		Question      string   `json:"question"`
		Options       []string `json:"options"`
		CorrectOption string   `json:"correct_option"`
		Topics        []string `json:"topics"`
	}
	items := make([]item, n)
	for i := range items {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", prefix, i)))
		items[i] = item{
			Question:      fmt.Sprintf("%s %x", prefix, sum[:16]),
			Options:       []string{"first", "second", "third", "fourth"},
			CorrectOption: "second",
			Topics:        []string{prefix},
		}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
