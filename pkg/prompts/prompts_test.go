package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendererLoadsAllTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	for _, name := range []StageTemplate{
		SupervisorTemplate,
		InformationTemplate,
		BookingTemplate,
		MemoryExtractionTemplate,
	} {
		out, err := r.Render(name, &TemplateData{SubjectID: "1000001"})
		require.NoError(t, err, "template %s", name)
		assert.NotEmpty(t, out)
	}
}

func TestSupervisorTemplateIncludesMemoryBlock(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	withMemory, err := r.Render(SupervisorTemplate, &TemplateData{
		SubjectID:   "1000001",
		MemoryBlock: "=== PATIENT MEMORY CONTEXT ===",
	})
	require.NoError(t, err)
	assert.Contains(t, withMemory, "PATIENT MEMORY CONTEXT")

	withoutMemory, err := r.Render(SupervisorTemplate, &TemplateData{SubjectID: "1000001"})
	require.NoError(t, err)
	assert.NotContains(t, withoutMemory, "PATIENT MEMORY CONTEXT")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, err = r.Render(StageTemplate("missing.tpl.md"), &TemplateData{})
	assert.Error(t, err)
}
