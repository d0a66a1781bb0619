// Package errors defines the structured error taxonomy for prompt loading,
// compilation, and rendering. Background failures degrade a single prompt to
// its last good artifact; they are never fatal to the process.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a prompt error.
type Kind string

const (
	// KindNotFound: the name has no definition after a lazy-load attempt.
	KindNotFound Kind = "not_found"
	// KindParse: a resource could not be parsed (malformed or oversized).
	KindParse Kind = "parse"
	// KindCompile: the engine rejected a template source.
	KindCompile Kind = "compile"
	// KindCircular: a compilation chain revisited a name already being
	// compiled in the same chain.
	KindCircular Kind = "circular_reference"
	// KindRender: the engine failed executing an artifact against the
	// supplied variables.
	KindRender Kind = "render"
)

// PromptError is the structured error type used across the module.
type PromptError struct {
	Kind     Kind
	Name     string // prompt name, when the failure is per-name
	Resource string // resource id, when the failure is per-resource
	Chain    []string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *PromptError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Name != "" {
		parts = append(parts, "prompt:"+e.Name)
	}
	if e.Resource != "" {
		parts = append(parts, "resource:"+e.Resource)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(e.Chain) > 0 {
		parts = append(parts, "chain:"+strings.Join(e.Chain, " -> "))
	}
	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += ": " + e.Cause.Error()
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *PromptError) Unwrap() error {
	return e.Cause
}

// Is matches on kind, so callers can compare against a bare kind sentinel.
func (e *PromptError) Is(target error) bool {
	var t *PromptError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// NotFound reports that a name has no definition.
func NotFound(name string) *PromptError {
	return &PromptError{Kind: KindNotFound, Name: name, Message: "no such prompt"}
}

// ParseFailure reports a malformed or oversized resource.
func ParseFailure(resource string, cause error) *PromptError {
	return &PromptError{Kind: KindParse, Resource: resource, Message: "failed to parse resource", Cause: cause}
}

// CompileFailure reports an engine compilation failure for one name.
func CompileFailure(name string, cause error) *PromptError {
	return &PromptError{Kind: KindCompile, Name: name, Message: "failed to compile prompt", Cause: cause}
}

// CircularReference reports a reference chain that revisits a name.
func CircularReference(name string, chain []string) *PromptError {
	return &PromptError{Kind: KindCircular, Name: name, Chain: chain, Message: "circular partial reference"}
}

// RenderFailure reports an execution failure against supplied variables.
func RenderFailure(name string, cause error) *PromptError {
	return &PromptError{Kind: KindRender, Name: name, Message: "failed to render prompt", Cause: cause}
}

// IsNotFound reports whether err is a not-found prompt error.
func IsNotFound(err error) bool {
	return hasKind(err, KindNotFound)
}

// IsParseFailure reports whether err is a parse failure.
func IsParseFailure(err error) bool {
	return hasKind(err, KindParse)
}

// IsCompileFailure reports whether err is a compile failure. Circular
// references count: they are a compile failure variant.
func IsCompileFailure(err error) bool {
	return hasKind(err, KindCompile) || hasKind(err, KindCircular)
}

// IsCircularReference reports whether err is a circular reference failure.
func IsCircularReference(err error) bool {
	return hasKind(err, KindCircular)
}

// IsRenderFailure reports whether err is a render failure.
func IsRenderFailure(err error) bool {
	return hasKind(err, KindRender)
}

func hasKind(err error, kind Kind) bool {
	var pe *PromptError
	return errors.As(err, &pe) && pe.Kind == kind
}
