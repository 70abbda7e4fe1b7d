package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.Positive(t, counter.CountTokens("Book me with Dr. Chen tomorrow morning"))

	short := counter.CountTokens("hello")
	long := counter.CountTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)
}

func TestCountTokensSimple(t *testing.T) {
	assert.Positive(t, CountTokensSimple("When is Dr. Chen available?"))
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	text := strings.Repeat("appointment scheduling ", 200)
	truncated := counter.TruncateToTokenLimit(text, 50)
	assert.Less(t, len(truncated), len(text))
	assert.LessOrEqual(t, counter.CountTokens(truncated), 50)

	short := "short text"
	assert.Equal(t, short, counter.TruncateToTokenLimit(short, 100))
}
