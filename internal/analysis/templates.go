package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultTemplate is used when a request names no template.
const DefaultTemplate = "decisiveMoments"

// maxContentRunes bounds how much document text is placed in a prompt.
const maxContentRunes = 12000

//go:embed templates.yaml
var builtinTemplates []byte

// Template is an analysis prompt. User may reference {{content}},
// {{fileName}} and {{categories}}.
type Template struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	System      string  `yaml:"system" json:"system"`
	User        string  `yaml:"user" json:"user"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"maxTokens" json:"maxTokens"`
	Builtin     bool    `yaml:"-" json:"builtin"`
}

// Prompts holds the available templates. Safe for concurrent use.
type Prompts struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewPrompts returns the built-in templates.
func NewPrompts() *Prompts {
	var list []Template
	if err := yaml.Unmarshal(builtinTemplates, &list); err != nil {
		panic(fmt.Sprintf("analysis: parsing built-in templates: %v", err))
	}
	p := &Prompts{templates: make(map[string]Template, len(list))}
	for _, t := range list {
		t.Builtin = true
		p.templates[t.ID] = t
	}
	return p
}

// LoadFile adds or overrides templates from a YAML list. Fields missing from
// an override of a built-in template keep their built-in values.
func (p *Prompts) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading templates: %w", err)
	}
	return p.Load(data)
}

func (p *Prompts) Load(data []byte) error {
	var list []Template
	if err := yaml.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parsing templates: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range list {
		if t.ID == "" {
			return fmt.Errorf("template %d has no id", i)
		}
		base, ok := p.templates[t.ID]
		if !ok {
			if t.User == "" {
				return fmt.Errorf("template %q has no user prompt", t.ID)
			}
			p.templates[t.ID] = t
			continue
		}
		merged := base
		if t.Name != "" {
			merged.Name = t.Name
		}
		if t.Description != "" {
			merged.Description = t.Description
		}
		if t.System != "" {
			merged.System = t.System
		}
		if t.User != "" {
			merged.User = t.User
		}
		if t.Temperature != 0 {
			merged.Temperature = t.Temperature
		}
		if t.MaxTokens != 0 {
			merged.MaxTokens = t.MaxTokens
		}
		p.templates[t.ID] = merged
	}
	return nil
}

// Get returns a template by id. An empty id selects DefaultTemplate.
func (p *Prompts) Get(id string) (Template, error) {
	if id == "" {
		id = DefaultTemplate
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("unknown template %q", id)
	}
	return t, nil
}

// List returns all templates ordered by id.
func (p *Prompts) List() []Template {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Template, 0, len(p.templates))
	for _, t := range p.templates {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Template) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Render fills the user prompt placeholders.
func (t Template) Render(fileName, content string, categories []string) string {
	cats := "none"
	if len(categories) > 0 {
		cats = strings.Join(categories, ", ")
	}
	if r := []rune(content); len(r) > maxContentRunes {
		content = string(r[:maxContentRunes]) + "\n[...]"
	}
	return strings.NewReplacer(
		"{{content}}", content,
		"{{fileName}}", fileName,
		"{{categories}}", cats,
	).Replace(t.User)
}
