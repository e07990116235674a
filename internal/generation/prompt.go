package generation

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var embeddedPrompts embed.FS

const (
	systemTemplate    = "system.tmpl"
	questionsTemplate = "questions.tmpl"
)

// PromptData is the input of the question prompt templates.
type PromptData struct {
	SubjectName  string
	ExamName     string
	Count        int
	DocumentText string
	Summary      string
	Topics       []string
	AvoidTopics  []string
}

// Prompts renders the system and question prompts.
type Prompts struct {
	tmpl *template.Template
}

// LoadPrompts parses the embedded templates. When dir is not empty, templates
// found there replace the embedded ones of the same name.
func LoadPrompts(dir string) (*Prompts, error) {
	funcs := template.FuncMap{"join": strings.Join}

	tmpl, err := template.New("prompts").Funcs(funcs).ParseFS(embeddedPrompts, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse embedded prompts: %v", ErrInvalidConfig, err)
	}

	if dir != "" {
		overrides, err := fs.Glob(os.DirFS(dir), "*.tmpl")
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list prompt templates in %s: %v", ErrInvalidConfig, dir, err)
		}
		if len(overrides) > 0 {
			if tmpl, err = tmpl.ParseFS(os.DirFS(dir), overrides...); err != nil {
				return nil, fmt.Errorf("%w: failed to parse prompt templates in %s: %v", ErrInvalidConfig, dir, err)
			}
		}
	}

	return &Prompts{tmpl: tmpl}, nil
}

// System renders the system prompt.
func (p *Prompts) System(data PromptData) (string, error) {
	return p.render(systemTemplate, data)
}

// Questions renders the question generation prompt.
func (p *Prompts) Questions(data PromptData) (string, error) {
	return p.render(questionsTemplate, data)
}

func (p *Prompts) render(name string, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
