package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/generation"
	"github.com/phrazzld/examgen/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	cmd.ErrWriter = &out
	err := cmd.Run(context.Background(), append([]string{"examgen"}, args...))
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	cmd := newCommand()
	var names []string
	for _, sub := range cmd.Commands {
		names = append(names, sub.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "worker", "migrate", "enqueue", "status", "jobs"}, names)
}

func TestUsageErrorsFailBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"status without id", []string{"status"}},
		{"unknown migration", []string{"migrate", "sideways"}},
		{"invalid subject", []string{"enqueue", "--subject", "nope", "--exam", uuid.NewString(), "--count", "5"}},
		{"zero count", []string{"enqueue", "--subject", uuid.NewString(), "--exam", uuid.NewString(), "--count", "0"}},
		{"source job without document", []string{
			"enqueue", "--kind", "from_source_document",
			"--subject", uuid.NewString(), "--exam", uuid.NewString(), "--count", "5",
		}},
		{"negative limit", []string{"jobs", "--limit=-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestParseStatuses(t *testing.T) {
	assert.Nil(t, parseStatuses(nil))
	assert.Equal(t,
		[]domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusPartial},
		parseStatuses([]string{"queued, running", "", "partial"}))
}

func TestClosedPublisher(t *testing.T) {
	err := closedPublisher{}.Publish(context.Background(), task.Message{JobID: uuid.New()})
	assert.ErrorIs(t, err, task.ErrQueueClosed)
}

func TestNewProviderRejectsUnknownProvider(t *testing.T) {
	_, err := newProvider(context.Background(), config.LLMConfig{Provider: "claude"}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, map[string]int{"count": 2}))
	assert.JSONEq(t, `{"count":2}`, out.String())
}
