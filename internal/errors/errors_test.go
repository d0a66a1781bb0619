package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	cause := fmt.Errorf("unexpected token")
	err := CompileFailure("greeting", cause)

	msg := err.Error()
	assert.Contains(t, msg, "[compile]")
	assert.Contains(t, msg, "prompt:greeting")
	assert.Contains(t, msg, "unexpected token")
}

func TestCircularReferenceChain(t *testing.T) {
	err := CircularReference("a", []string{"a", "b", "a"})
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.True(t, IsCircularReference(err))
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := ParseFailure("prompts.yaml", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		want      bool
	}{
		{"not found matches", NotFound("x"), IsNotFound, true},
		{"not found rejects other kinds", CompileFailure("x", nil), IsNotFound, false},
		{"parse matches", ParseFailure("r", nil), IsParseFailure, true},
		{"compile matches", CompileFailure("x", nil), IsCompileFailure, true},
		{"circular counts as compile", CircularReference("x", nil), IsCompileFailure, true},
		{"compile is not circular", CompileFailure("x", nil), IsCircularReference, false},
		{"render matches", RenderFailure("x", nil), IsRenderFailure, true},
		{"plain error matches nothing", fmt.Errorf("boom"), IsCompileFailure, false},
		{"nil matches nothing", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.predicate(tt.err))
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("loading prompt: %w", NotFound("greeting"))
	assert.True(t, IsNotFound(wrapped))
}

func TestIsMatchesOnKind(t *testing.T) {
	assert.True(t, stderrors.Is(NotFound("a"), NotFound("b")))
	assert.False(t, stderrors.Is(NotFound("a"), CompileFailure("a", nil)))
}
