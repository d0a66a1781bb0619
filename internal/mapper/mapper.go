// Package mapper exposes named prompts as typed function calls. Instead of
// reflective proxies, call sites register an explicit descriptor (prompt
// name, ordered parameter bindings, result shape) and every descriptor is
// validated at registration time, so a misconfigured binding fails fast
// rather than on first use.
package mapper

import (
	"fmt"
	"sync"

	"github.com/conneroisu/promptweave/internal/types"
)

// ResultKind selects what a bound call returns.
type ResultKind int

const (
	// ResultText returns the rendered template text.
	ResultText ResultKind = iota
	// ResultMeta returns the prompt's metadata with the rendered text in
	// its Template field, for callers that also need model parameters.
	ResultMeta
)

// Descriptor declares one prompt-backed call.
type Descriptor struct {
	// Prompt is the name of the backing prompt.
	Prompt string
	// Params are the template variable names, in call-argument order.
	Params []string
	// Result selects the return shape.
	Result ResultKind
}

// Renderer is the subset of the manager the registry needs.
type Renderer interface {
	Render(name string, variables map[string]any) (string, error)
	Meta(name string) (*types.PromptMeta, bool)
}

// Resolver checks that a prompt name is resolvable at registration time.
type Resolver interface {
	Load(name string) (*types.PromptMeta, bool)
}

// Registry maps call names to validated prompt bindings.
type Registry struct {
	renderer Renderer
	resolver Resolver

	mu    sync.RWMutex
	calls map[string]Descriptor
}

// New creates a registry. resolver may be nil, in which case prompt
// existence is checked against the renderer's cached metadata only.
func New(renderer Renderer, resolver Resolver) *Registry {
	return &Registry{
		renderer: renderer,
		resolver: resolver,
		calls:    make(map[string]Descriptor),
	}
}

// Register validates and stores a call descriptor. It fails when the call
// name is taken, a parameter name is empty or duplicated, the result kind
// is unknown, or the backing prompt cannot be resolved.
func (r *Registry) Register(callName string, d Descriptor) error {
	if callName == "" {
		return fmt.Errorf("call name must not be empty")
	}
	if d.Prompt == "" {
		return fmt.Errorf("call %q: prompt name must not be empty", callName)
	}
	if d.Result != ResultText && d.Result != ResultMeta {
		return fmt.Errorf("call %q: unknown result kind %d", callName, d.Result)
	}

	seen := make(map[string]struct{}, len(d.Params))
	for i, param := range d.Params {
		if param == "" {
			return fmt.Errorf("call %q: parameter %d has no name", callName, i)
		}
		if _, dup := seen[param]; dup {
			return fmt.Errorf("call %q: duplicate parameter %q", callName, param)
		}
		seen[param] = struct{}{}
	}

	if !r.resolvable(d.Prompt) {
		return fmt.Errorf("call %q: prompt %q is not defined", callName, d.Prompt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[callName]; exists {
		return fmt.Errorf("call %q is already registered", callName)
	}
	r.calls[callName] = d
	return nil
}

// Call invokes a registered binding with positional arguments, returning
// the rendered text.
func (r *Registry) Call(callName string, args ...any) (string, error) {
	d, vars, err := r.bind(callName, args)
	if err != nil {
		return "", err
	}
	return r.renderer.Render(d.Prompt, vars)
}

// CallMeta invokes a registered binding and returns the prompt metadata
// with the rendered text in its Template field.
func (r *Registry) CallMeta(callName string, args ...any) (*types.PromptMeta, error) {
	d, vars, err := r.bind(callName, args)
	if err != nil {
		return nil, err
	}

	text, err := r.renderer.Render(d.Prompt, vars)
	if err != nil {
		return nil, err
	}

	meta, ok := r.renderer.Meta(d.Prompt)
	if !ok {
		meta = &types.PromptMeta{ID: d.Prompt}
	}
	result := *meta
	result.Template = text
	return &result, nil
}

// Func returns the binding as a closure, for callers that want to hold a
// plain function value.
func (r *Registry) Func(callName string) (func(args ...any) (string, error), error) {
	r.mu.RLock()
	_, ok := r.calls[callName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("call %q is not registered", callName)
	}
	return func(args ...any) (string, error) {
		return r.Call(callName, args...)
	}, nil
}

// Names returns the registered call names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.calls))
	for name := range r.calls {
		names = append(names, name)
	}
	return names
}

func (r *Registry) bind(callName string, args []any) (Descriptor, map[string]any, error) {
	r.mu.RLock()
	d, ok := r.calls[callName]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, nil, fmt.Errorf("call %q is not registered", callName)
	}
	if len(args) != len(d.Params) {
		return Descriptor{}, nil, fmt.Errorf("call %q: got %d arguments, want %d", callName, len(args), len(d.Params))
	}

	vars := make(map[string]any, len(args))
	for i, param := range d.Params {
		vars[param] = args[i]
	}
	return d, vars, nil
}

func (r *Registry) resolvable(prompt string) bool {
	if _, ok := r.renderer.Meta(prompt); ok {
		return true
	}
	if r.resolver != nil {
		if _, ok := r.resolver.Load(prompt); ok {
			return true
		}
	}
	return false
}
