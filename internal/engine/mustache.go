package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cbroglie/mustache"

	pwerrors "github.com/conneroisu/promptweave/internal/errors"
	"github.com/conneroisu/promptweave/internal/logging"
)

// partialTagPattern matches mustache partial tags: {{> name}} and the
// unindented {{>name}} form.
var partialTagPattern = regexp.MustCompile(`\{\{>\s*([^}\s]+)\s*\}\}`)

// MustacheEngine compiles prompts with mustache syntax: {{variable}},
// {{#section}}...{{/section}}, and {{> partial}} inclusion of other prompts.
//
// Partials are resolved once, at compile time: the engine walks the partial
// references transitively, snapshots every referenced source into the
// artifact, and records each referenced name as a dependency. Renders never
// consult the resolver again, so an artifact keeps producing its compiled
// output even after the backing files change, until the manager commits a
// recompiled replacement.
type MustacheEngine struct {
	logger logging.Logger
}

// NewMustacheEngine creates the default engine. A nil logger discards logs.
func NewMustacheEngine(logger logging.Logger) *MustacheEngine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MustacheEngine{logger: logger.WithComponent("engine")}
}

// mustacheArtifact is the opaque compiled form: the parsed root template
// with an immutable partial snapshot.
type mustacheArtifact struct {
	name     string
	template *mustache.Template
}

// Compile implements Engine.
func (e *MustacheEngine) Compile(source, name string, resolver PartialResolver) (*CompiledPrompt, error) {
	deps := make(map[string]struct{})
	snapshot := make(map[string]string)

	visiting := []string{name}
	if err := e.collectPartials(source, resolver, visiting, deps, snapshot); err != nil {
		// The dependencies gathered so far are still reported through the
		// returned CompiledPrompt so the graph stays accurate for rejected
		// compilations.
		return &CompiledPrompt{Dependencies: deps}, err
	}

	provider := &mustache.StaticProvider{Partials: snapshot}

	tmpl, err := mustache.ParseStringPartials(source, provider)
	if err != nil {
		e.logger.Debug(context.Background(), "compile failed", "prompt", name, "error", err.Error())
		return &CompiledPrompt{Dependencies: deps}, pwerrors.CompileFailure(name, err)
	}

	// Partials are parsed lazily at render time, so validate each snapshot
	// entry now to surface syntax errors as compile failures.
	for ref, content := range snapshot {
		if _, err := mustache.ParseStringPartials(content, provider); err != nil {
			return &CompiledPrompt{Dependencies: deps},
				pwerrors.CompileFailure(name, fmt.Errorf("partial %q: %w", ref, err))
		}
	}

	return &CompiledPrompt{
		Artifact:     &mustacheArtifact{name: name, template: tmpl},
		Dependencies: deps,
	}, nil
}

// collectPartials walks {{> name}} references depth-first, recording every
// requested name as a dependency and snapshotting resolved sources. The
// visiting slice is the current inclusion chain; revisiting any name on it
// is a circular reference.
func (e *MustacheEngine) collectPartials(source string, resolver PartialResolver, visiting []string, deps map[string]struct{}, snapshot map[string]string) error {
	for _, match := range partialTagPattern.FindAllStringSubmatch(source, -1) {
		ref := match[1]

		// Record the dependency before any failure is raised.
		deps[ref] = struct{}{}

		for _, ancestor := range visiting {
			if ancestor == ref {
				chain := append(append([]string{}, visiting...), ref)
				return pwerrors.CircularReference(visiting[0], chain)
			}
		}

		if _, done := snapshot[ref]; done {
			continue
		}

		if resolver == nil {
			return pwerrors.CompileFailure(visiting[0], fmt.Errorf("partial %q referenced but no resolver supplied", ref))
		}
		content, ok := resolver(ref)
		if !ok {
			return pwerrors.CompileFailure(visiting[0], fmt.Errorf("partial %q not found", ref))
		}

		snapshot[ref] = content
		if err := e.collectPartials(content, resolver, append(visiting, ref), deps, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// Render implements Engine. Artifacts are shared across concurrent renders
// and are never mutated here.
func (e *MustacheEngine) Render(artifact any, variables map[string]any) (string, error) {
	art, ok := artifact.(*mustacheArtifact)
	if !ok || art.template == nil {
		return "", pwerrors.RenderFailure("", fmt.Errorf("artifact is not a mustache template (%T)", artifact))
	}

	out, err := art.template.Render(normalizeVariables(variables))
	if err != nil {
		return "", pwerrors.RenderFailure(art.name, err)
	}
	return out, nil
}

// normalizeVariables guards against a nil variable map; mustache treats a
// missing variable as empty output, which is an engine-level semantic.
func normalizeVariables(variables map[string]any) map[string]any {
	if variables == nil {
		return map[string]any{}
	}
	return variables
}

// ReferencedNames returns the partial names a source references directly,
// without resolving them. Used by validation tooling.
func ReferencedNames(source string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, match := range partialTagPattern.FindAllStringSubmatch(source, -1) {
		if _, ok := seen[match[1]]; ok {
			continue
		}
		seen[match[1]] = struct{}{}
		names = append(names, match[1])
	}
	return names
}

// String returns a diagnostic description of an artifact.
func (a *mustacheArtifact) String() string {
	return strings.Join([]string{"mustache", a.name}, ":")
}
