package tools

import "context"

type subjectKey struct{}

// WithSubjectID returns a context carrying the requesting patient's
// identifier. The handler stage sets it before invoking tools so booking
// mutations are always scoped to the current patient, never to an
// identifier the model supplies.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subjectID)
}

// SubjectIDFrom returns the patient identifier carried by the context.
func SubjectIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey{}).(string); ok {
		return v
	}
	return ""
}
