// Package memory defines the long-term memory collaborator contract and a
// client for an external memory service. Memory is always optional: when
// the service is disabled or unhealthy, requests degrade to an empty
// memory context instead of failing.
package memory

import (
	"context"
	"fmt"
	"strings"
)

// Standard categories for patient memory classification.
const (
	CategoryPreference         = "preference"          // Scheduling and doctor preferences
	CategoryMedicalContext     = "medical_context"     // Conditions, allergies, ongoing treatments
	CategoryAppointmentHistory = "appointment_history" // Past bookings, cancellations
	CategoryCommunication      = "communication"       // Language, tone, accessibility needs
	CategoryGeneral            = "general"             // Catch-all for unclassified memories
)

// Snippet is one retrieved memory with its classification.
type Snippet struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Fact is one durable fact extracted from an exchange, to be written back.
type Fact struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Store is the memory collaborator contract the workflow consumes. The
// resilience layer tracks reads and writes as separate dependencies
// ("memory_read", "memory_write") so a failing write path does not block
// retrieval.
type Store interface {
	// Query semantically searches the subject's memories for the query text.
	Query(ctx context.Context, subjectID, tenantID, query string) ([]Snippet, error)

	// Store writes extracted facts back to the subject's memory.
	Store(ctx context.Context, subjectID, tenantID string, facts []Fact) error
}

// PromptBlock formats retrieved snippets into a structured block for
// injection into system prompts, grouped by category with section headers.
func PromptBlock(subjectID string, snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}

	byCategory := make(map[string][]string)
	for _, s := range snippets {
		cat := s.Category
		if cat == "" {
			cat = CategoryGeneral
		}
		byCategory[cat] = append(byCategory[cat], s.Text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== PATIENT MEMORY CONTEXT (subject %s) ===\n", subjectID)
	b.WriteString("The following is known about this patient from previous interactions. " +
		"Use this context to provide personalized, continuity-aware care.\n")

	sections := []struct {
		category string
		header   string
	}{
		{CategoryPreference, "Scheduling & Doctor Preferences"},
		{CategoryMedicalContext, "Medical Context"},
		{CategoryAppointmentHistory, "Appointment History"},
		{CategoryCommunication, "Communication Notes"},
		{CategoryGeneral, "General Notes"},
	}
	for _, sec := range sections {
		items := byCategory[sec.category]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", sec.header)
		for _, item := range items {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
	}

	return b.String()
}
