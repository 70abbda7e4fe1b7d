// Package prompts provides the embedded prompt templates for each workflow
// stage and a renderer for filling them in per request.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// StageTemplate identifies one embedded prompt template.
type StageTemplate string

const (
	// SupervisorTemplate is the routing prompt for the supervisor stage.
	SupervisorTemplate StageTemplate = "supervisor.tpl.md"
	// InformationTemplate is the system prompt for the information handler.
	InformationTemplate StageTemplate = "information.tpl.md"
	// BookingTemplate is the system prompt for the booking handler.
	BookingTemplate StageTemplate = "booking.tpl.md"
	// MemoryExtractionTemplate is the fact extraction prompt used during
	// memory storage.
	MemoryExtractionTemplate StageTemplate = "memory_extraction.tpl.md"
)

// TemplateData holds the per-request values templates can reference.
type TemplateData struct {
	SubjectID   string
	TenantID    string
	MemoryBlock string
	Reasoning   string
	Request     string
	Response    string
}

// Renderer parses the embedded templates once and renders them on demand.
type Renderer struct {
	templates map[StageTemplate]*template.Template
}

// NewRenderer parses all embedded stage templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[StageTemplate]*template.Template)}

	names := []StageTemplate{
		SupervisorTemplate,
		InformationTemplate,
		BookingTemplate,
		MemoryExtractionTemplate,
	}
	for _, name := range names {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render fills the named template with the given data.
func (r *Renderer) Render(name StageTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
