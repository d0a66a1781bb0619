// Package types holds the shared data model for prompt definitions and
// change events. Definitions are produced transiently by the parser and are
// not retained after compilation.
package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// PromptMeta is one named template definition together with its model
// metadata. It corresponds to one entry in a YAML/JSON prompt file, or to
// the front matter plus body of a Markdown prompt file.
type PromptMeta struct {
	// ID is the unique name of the prompt, independent of which resource
	// defines it.
	ID string

	// Model names the target model, e.g. "gpt-4o" or "claude-sonnet".
	Model string

	// Temperature controls sampling randomness. Nil means engine default.
	Temperature *float64

	// MaxTokens caps generation length. Nil means engine default.
	MaxTokens *int

	// Timeout is the suggested call timeout. Zero means no suggestion.
	Timeout time.Duration

	// Template is the raw template source. Cleared once compiled; cache
	// entries never retain it.
	Template string

	// Description is free-form documentation for the prompt.
	Description string

	// Extensions holds keys present in the definition file that are not
	// mapped to a declared field (top_p, presence_penalty, ...). They are
	// passed through untouched for callers that talk to a model API.
	Extensions map[string]any
}

// declared is the set of YAML keys mapped to struct fields; everything else
// lands in Extensions.
var declared = map[string]bool{
	"id":          true,
	"model":       true,
	"temperature": true,
	"max_tokens":  true,
	"maxTokens":   true,
	"timeout":     true,
	"template":    true,
	"description": true,
}

// UnmarshalYAML decodes a prompt definition, collecting undeclared keys into
// Extensions instead of dropping them.
func (m *PromptMeta) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}

	for key, val := range raw {
		switch key {
		case "id":
			s, err := asString(key, val)
			if err != nil {
				return err
			}
			m.ID = s
		case "model":
			s, err := asString(key, val)
			if err != nil {
				return err
			}
			m.Model = s
		case "temperature":
			f, err := asFloat(key, val)
			if err != nil {
				return err
			}
			m.Temperature = &f
		case "max_tokens", "maxTokens":
			n, err := asInt(key, val)
			if err != nil {
				return err
			}
			m.MaxTokens = &n
		case "timeout":
			// Accepts a duration string ("30s") or a millisecond count,
			// matching both hand-written and generated prompt files.
			d, err := asDuration(key, val)
			if err != nil {
				return err
			}
			m.Timeout = d
		case "template":
			s, err := asString(key, val)
			if err != nil {
				return err
			}
			m.Template = s
		case "description":
			s, err := asString(key, val)
			if err != nil {
				return err
			}
			m.Description = s
		default:
			if m.Extensions == nil {
				m.Extensions = make(map[string]any)
			}
			m.Extensions[key] = val
		}
	}

	return nil
}

// Validate checks the definition for the constraints every prompt must
// satisfy before it is admitted to the index.
func (m *PromptMeta) Validate() error {
	if m.Template == "" {
		if m.ID != "" {
			return fmt.Errorf("prompt %q has an empty template", m.ID)
		}
		return fmt.Errorf("prompt has an empty template")
	}
	if m.Temperature != nil && (*m.Temperature < 0.0 || *m.Temperature > 2.0) {
		return fmt.Errorf("prompt %q temperature %v out of range [0.0, 2.0]", m.ID, *m.Temperature)
	}
	if m.MaxTokens != nil && *m.MaxTokens <= 0 {
		return fmt.Errorf("prompt %q max_tokens must be positive", m.ID)
	}
	return nil
}

// StripTemplate returns a copy with the template source cleared, suitable
// for long-lived cache entries.
func (m *PromptMeta) StripTemplate() *PromptMeta {
	lean := *m
	lean.Template = ""
	if m.Extensions != nil {
		lean.Extensions = make(map[string]any, len(m.Extensions))
		for k, v := range m.Extensions {
			lean.Extensions[k] = v
		}
	}
	return &lean
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

func asFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("field %q: expected number, got %T", key, v)
	}
}

func asInt(key string, v any) (int, error) {
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("field %q: expected integer, got %T", key, v)
	}
	return n, nil
}

func asDuration(key string, v any) (time.Duration, error) {
	switch n := v.(type) {
	case string:
		d, err := time.ParseDuration(n)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(n) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("field %q: expected duration string or milliseconds, got %T", key, v)
	}
}
