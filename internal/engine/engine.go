// Package engine defines the pluggable template engine contract and its
// Mustache implementation. The manager treats compiled artifacts as opaque;
// the engine additionally reports which other prompt names a template
// references, which feeds the dependency graph.
package engine

// PartialResolver supplies the source text of another named prompt while one
// is being compiled. The second return is false when no such prompt exists.
type PartialResolver func(name string) (string, bool)

// CompiledPrompt is an engine artifact plus the names it references. The
// artifact must be safe for concurrent renders and must never be mutated by
// Render.
type CompiledPrompt struct {
	Artifact     any
	Dependencies map[string]struct{}
}

// Engine compiles template source into immutable artifacts and renders them
// against variable maps.
type Engine interface {
	// Compile parses source under the given root name. The resolver is
	// invoked for every referenced name; each requested name is recorded
	// as a dependency whether or not resolution succeeds, so the
	// dependency graph stays accurate even for rejected compilations.
	// A reference chain that revisits a name fails with a circular
	// reference error rather than recursing.
	Compile(source, name string, resolver PartialResolver) (*CompiledPrompt, error)

	// Render executes a compiled artifact against the supplied variables.
	Render(artifact any, variables map[string]any) (string, error)
}
