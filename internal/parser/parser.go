package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/phrazzld/examgen/internal/domain"
)

// ErrNoJSON is returned when the text contains no bracketed JSON value at all.
var ErrNoJSON = errors.New("no JSON value found in response")

// ParseError reports that a response could not be decoded even after every
// repair. Stage is the last stage attempted and Offset the failing byte
// offset within the text that stage produced.
type ParseError struct {
	Stage  Stage
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed at stage %s (offset %d): %v", e.Stage, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StripFences returns the body of the first fenced code block in s, or s
// unchanged when it has none.
func StripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	// Drop the language tag line ("json", "JSON", ...).
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "[{") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

// Extract strips code fences and surrounding prose, returning the text from
// the first open byte to the last close byte.
func Extract(raw string, open, close byte) (string, error) {
	s := StripFences(raw)
	first := strings.IndexByte(s, open)
	last := strings.LastIndexByte(s, close)
	if first < 0 || last < first {
		return "", &ParseError{Stage: StageExtract, Offset: 0, Err: ErrNoJSON}
	}
	return s[first : last+1], nil
}

// Decode extracts the bracketed value delimited by open and close from raw
// and unmarshals it into v, applying Repairs cumulatively until one parse
// succeeds. It returns the stage that succeeded.
func Decode(raw string, open, close byte, v any) (Stage, error) {
	text, err := Extract(raw, open, close)
	if err != nil {
		return StageExtract, err
	}

	lastErr := json.Unmarshal([]byte(text), v)
	if lastErr == nil {
		return StageDirect, nil
	}
	lastStage := StageDirect

	for _, r := range Repairs {
		text = r.Apply(text)
		lastStage = r.Stage
		if lastErr = json.Unmarshal([]byte(text), v); lastErr == nil {
			return r.Stage, nil
		}
	}

	return lastStage, &ParseError{Stage: lastStage, Offset: errorOffset(lastErr), Err: lastErr}
}

func errorOffset(err error) int64 {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Offset
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Offset
	}
	return -1
}

// ParseObject decodes the first JSON object found in raw into v.
func ParseObject(raw string, v any) error {
	_, err := Decode(raw, '{', '}', v)
	return err
}

// ParseQuestions decodes a JSON array of question objects. Elements that do
// not decode as a question, such as an answer given as an object, are skipped
// without losing their siblings; a ParseError is returned only when no element
// decodes. The returned candidates are not validated; callers drop the ones
// that fail domain.QuestionCandidate.Validate.
func ParseQuestions(raw string) ([]domain.QuestionCandidate, Stage, error) {
	var items []json.RawMessage
	stage, err := Decode(raw, '[', ']', &items)
	if err != nil {
		return nil, stage, err
	}

	candidates := make([]domain.QuestionCandidate, 0, len(items))
	var itemErr error
	for _, item := range items {
		var q rawQuestion
		if err := json.Unmarshal(item, &q); err != nil {
			itemErr = err
			continue
		}
		candidates = append(candidates, q.toCandidate())
	}
	if len(candidates) == 0 && itemErr != nil {
		return nil, stage, &ParseError{Stage: stage, Offset: errorOffset(itemErr), Err: itemErr}
	}
	return candidates, stage, nil
}

// rawQuestion is the loose shape the model is asked to emit. Either "answer"
// or "correct_option" may carry the correct option.
type rawQuestion struct {
	Question      string      `json:"question"`
	Options       []textValue `json:"options"`
	Answer        textValue   `json:"answer"`
	CorrectOption textValue   `json:"correct_option"`
	Topics        []textValue `json:"topics"`
}

func (r rawQuestion) toCandidate() domain.QuestionCandidate {
	options := make([]string, len(r.Options))
	for i, o := range r.Options {
		options[i] = strings.TrimSpace(string(o))
	}

	answer := strings.TrimSpace(string(r.CorrectOption))
	if answer == "" {
		answer = strings.TrimSpace(string(r.Answer))
	}

	topics := make([]string, 0, len(r.Topics))
	for _, t := range r.Topics {
		if t := strings.TrimSpace(string(t)); t != "" {
			topics = append(topics, t)
		}
	}

	return domain.QuestionCandidate{
		Question:      strings.TrimSpace(r.Question),
		Options:       options,
		CorrectOption: resolveAnswer(answer, options),
		Topics:        topics,
	}
}

// resolveAnswer maps an answer given as a letter ("B") or a 1-based index
// ("2") to the option text when it does not already match an option.
func resolveAnswer(answer string, options []string) string {
	for _, o := range options {
		if o == answer {
			return answer
		}
	}

	key := strings.TrimSuffix(strings.TrimSuffix(answer, ")"), ".")
	if len(key) == 1 {
		c := key[0] | 0x20 // lower case
		if c >= 'a' && int(c-'a') < len(options) {
			return options[c-'a']
		}
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	return answer
}

// textValue accepts a JSON string, number or boolean as text. Numeric
// options are common in math questions.
type textValue string

func (t *textValue) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = textValue(s)
		return nil
	}
	if string(b) == "null" {
		*t = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = textValue(n.String())
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("expected text value, got %s", string(b))
	}
	*t = textValue(strconv.FormatBool(v))
	return nil
}
