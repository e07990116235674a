package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionCandidateValidate(t *testing.T) {
	valid := QuestionCandidate{
		Question:      "Which gas do plants absorb?",
		Options:       []string{"Oxygen", "Carbon dioxide", "Nitrogen", "Helium"},
		CorrectOption: "Carbon dioxide",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *QuestionCandidate)
		want   error
	}{
		{name: "empty text", mutate: func(c *QuestionCandidate) { c.Question = " " }, want: ErrEmptyQuestionText},
		{name: "three options", mutate: func(c *QuestionCandidate) { c.Options = c.Options[:3] }, want: ErrWrongOptionCount},
		{
			name:   "blank option",
			mutate: func(c *QuestionCandidate) { c.Options = []string{"a", "", "c", "d"}; c.CorrectOption = "a" },
			want:   ErrEmptyOption,
		},
		{
			name:   "correct option not verbatim",
			mutate: func(c *QuestionCandidate) { c.CorrectOption = "carbon dioxide" },
			want:   ErrCorrectNotInOptions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			c.Options = append([]string(nil), valid.Options...)
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tt.want)
		})
	}
}

func TestNewPersistedQuestion(t *testing.T) {
	job, err := NewGenerationJob(validParams())
	require.NoError(t, err)

	c := QuestionCandidate{
		Question:      "  Which gas do plants absorb?  ",
		Options:       []string{"Oxygen", "Carbon dioxide", "Nitrogen", "Helium"},
		CorrectOption: "Carbon dioxide",
		Topics:        []string{"photosynthesis"},
	}
	q, err := NewPersistedQuestion(c, job)
	require.NoError(t, err)

	assert.Equal(t, "Which gas do plants absorb?", q.Question)
	assert.Equal(t, job.ID, q.SourceJobID)
	assert.Equal(t, job.SubjectID, q.SubjectID)
	assert.Equal(t, job.ExamID, q.ExamID)
	assert.Equal(t, job.CreatedBy, q.CreatedBy)

	c.Options[0] = "changed"
	assert.Equal(t, "Oxygen", q.Options[0], "options are copied")

	_, err = NewPersistedQuestion(c, &GenerationJob{})
	assert.Error(t, err)
	_, err = NewPersistedQuestion(QuestionCandidate{Question: "q"}, job)
	assert.ErrorIs(t, err, ErrWrongOptionCount)
}

func TestSourceSummaryAddSource(t *testing.T) {
	s, err := NewSourceSummary(uuid.New(), uuid.New(), "Photosynthesis overview",
		[]string{"photosynthesis"}, nil, "doc-1")
	require.NoError(t, err)
	assert.True(t, s.HasSource("doc-1"))

	assert.True(t, s.AddSource("doc-2"))
	assert.False(t, s.AddSource("doc-2"))
	assert.False(t, s.AddSource(""))
	assert.Equal(t, []string{"doc-1", "doc-2"}, s.SourceDocumentIDs)

	_, err = NewSourceSummary(uuid.New(), uuid.New(), "text", nil, nil, "doc")
	assert.ErrorIs(t, err, ErrEmptySummaryTopics)
	_, err = NewSourceSummary(uuid.New(), uuid.New(), "  ", []string{"t"}, nil, "doc")
	assert.ErrorIs(t, err, ErrEmptySummaryText)
}
