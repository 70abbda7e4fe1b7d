package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careflow/pkg/memory"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	rc, err := NewContext("clinic-a", "sess-1", "1000001", []Message{
		{Role: "user", Content: "Book me with Dr. Chen tomorrow morning"},
	})
	require.NoError(t, err)
	return rc
}

func TestNewContextValidation(t *testing.T) {
	cases := []struct {
		name                string
		tenant, sess, subj  string
		conversation        []Message
	}{
		{"empty tenant", "", "s", "p", []Message{{Role: "user", Content: "hi"}}},
		{"empty session", "t", "", "p", []Message{{Role: "user", Content: "hi"}}},
		{"empty subject", "t", "s", "", []Message{{Role: "user", Content: "hi"}}},
		{"empty conversation", "t", "s", "p", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewContext(tc.tenant, tc.sess, tc.subj, tc.conversation)
			assert.Error(t, err)
		})
	}
}

func TestContextGeneratesRequestID(t *testing.T) {
	a := newTestContext(t)
	b := newTestContext(t)
	assert.NotEmpty(t, a.RequestID())
	assert.NotEqual(t, a.RequestID(), b.RequestID())
}

func TestWithMessageDoesNotAliasOriginal(t *testing.T) {
	rc := newTestContext(t)
	next := rc.WithMessage("assistant", "Sure, checking availability.")

	assert.Len(t, rc.Conversation(), 1)
	assert.Len(t, next.Conversation(), 2)
}

func TestWithRouteSetsExactlyOnce(t *testing.T) {
	rc := newTestContext(t)

	routed, err := rc.WithRoute(RouteBooking, "patient wants to book")
	require.NoError(t, err)
	assert.Equal(t, RouteBooking, routed.Route())
	assert.Equal(t, "patient wants to book", routed.Reasoning())

	_, err = routed.WithRoute(RouteInformation, "second attempt")
	assert.Error(t, err)
}

func TestWithRouteRejectsInvalidRoute(t *testing.T) {
	rc := newTestContext(t)
	_, err := rc.WithRoute(Route("escalation"), "made up")
	assert.Error(t, err)
}

func TestWithResult(t *testing.T) {
	rc := newTestContext(t)
	assert.False(t, rc.HasResult())

	done := rc.WithResult("Booked for 09:00.")
	assert.True(t, done.HasResult())
	assert.Equal(t, "Booked for 09:00.", done.Result())
	assert.False(t, rc.HasResult())
}

func TestWithMemoryContextCopies(t *testing.T) {
	rc := newTestContext(t)
	snippets := []memory.Snippet{{Text: "Prefers Dr. Chen", Category: memory.CategoryPreference}}

	next := rc.WithMemoryContext(snippets)
	snippets[0].Text = "mutated"

	assert.Equal(t, "Prefers Dr. Chen", next.MemoryContext()[0].Text)
	assert.Empty(t, rc.MemoryContext())
}

func TestLatestUserMessage(t *testing.T) {
	rc := newTestContext(t)
	rc = rc.WithMessage("assistant", "Which doctor?").WithMessage("user", "Dr. Chen please")
	assert.Equal(t, "Dr. Chen please", rc.LatestUserMessage())
}
