package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestUnmarshalYAMLDeclaredFields(t *testing.T) {
	input := `
id: greeting
model: gpt-4o
temperature: 0.7
max_tokens: 256
timeout: 30s
template: "Hello {{name}}"
description: says hello
`
	var meta PromptMeta
	require.NoError(t, yaml.Unmarshal([]byte(input), &meta))

	assert.Equal(t, "greeting", meta.ID)
	assert.Equal(t, "gpt-4o", meta.Model)
	require.NotNil(t, meta.Temperature)
	assert.InDelta(t, 0.7, *meta.Temperature, 1e-9)
	require.NotNil(t, meta.MaxTokens)
	assert.Equal(t, 256, *meta.MaxTokens)
	assert.Equal(t, 30*time.Second, meta.Timeout)
	assert.Equal(t, "Hello {{name}}", meta.Template)
	assert.Equal(t, "says hello", meta.Description)
	assert.Empty(t, meta.Extensions)
}

func TestUnmarshalYAMLExtensions(t *testing.T) {
	input := `
template: hi
top_p: 0.9
presence_penalty: 0.1
custom_tag: experimental
`
	var meta PromptMeta
	require.NoError(t, yaml.Unmarshal([]byte(input), &meta))

	require.Len(t, meta.Extensions, 3)
	assert.Equal(t, 0.9, meta.Extensions["top_p"])
	assert.Equal(t, "experimental", meta.Extensions["custom_tag"])
}

func TestUnmarshalYAMLTimeoutForms(t *testing.T) {
	var fromString PromptMeta
	require.NoError(t, yaml.Unmarshal([]byte("template: x\ntimeout: 1m30s"), &fromString))
	assert.Equal(t, 90*time.Second, fromString.Timeout)

	var fromMillis PromptMeta
	require.NoError(t, yaml.Unmarshal([]byte("template: x\ntimeout: 1500"), &fromMillis))
	assert.Equal(t, 1500*time.Millisecond, fromMillis.Timeout)

	var bad PromptMeta
	assert.Error(t, yaml.Unmarshal([]byte("template: x\ntimeout: [1]"), &bad))
}

func TestUnmarshalYAMLMaxTokensAlias(t *testing.T) {
	var meta PromptMeta
	require.NoError(t, yaml.Unmarshal([]byte("template: x\nmaxTokens: 42"), &meta))
	require.NotNil(t, meta.MaxTokens)
	assert.Equal(t, 42, *meta.MaxTokens)
}

func TestValidate(t *testing.T) {
	temp := func(v float64) *float64 { return &v }
	tokens := func(v int) *int { return &v }

	tests := []struct {
		name    string
		meta    PromptMeta
		wantErr bool
	}{
		{"valid minimal", PromptMeta{ID: "a", Template: "x"}, false},
		{"empty template", PromptMeta{ID: "a"}, true},
		{"temperature low", PromptMeta{ID: "a", Template: "x", Temperature: temp(-0.1)}, true},
		{"temperature high", PromptMeta{ID: "a", Template: "x", Temperature: temp(2.1)}, true},
		{"temperature boundary", PromptMeta{ID: "a", Template: "x", Temperature: temp(2.0)}, false},
		{"max tokens zero", PromptMeta{ID: "a", Template: "x", MaxTokens: tokens(0)}, true},
		{"max tokens positive", PromptMeta{ID: "a", Template: "x", MaxTokens: tokens(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStripTemplate(t *testing.T) {
	meta := &PromptMeta{
		ID:         "a",
		Template:   "a long template body",
		Extensions: map[string]any{"top_p": 0.9},
	}

	lean := meta.StripTemplate()
	assert.Empty(t, lean.Template)
	assert.Equal(t, "a", lean.ID)
	assert.Equal(t, "a long template body", meta.Template)

	// The copy must not share the extensions map.
	lean.Extensions["top_p"] = 0.1
	assert.Equal(t, 0.9, meta.Extensions["top_p"])
}

func TestChangeEventEmpty(t *testing.T) {
	assert.True(t, (ChangeEvent{}).Empty())
	assert.False(t, (ChangeEvent{Updated: map[string]*PromptMeta{"a": {}}}).Empty())
	assert.False(t, (ChangeEvent{Removed: map[string]struct{}{"a": {}}}).Empty())
}
