// Package graph tracks which prompts reference which other prompts.
//
// The graph keeps a forward edge set (name -> names it references) and its
// transpose (name -> names that reference it). The two are always updated
// together, so the transpose invariant holds after every operation. The
// reverse edges drive cascading recompilation: when a partial changes, the
// closure over reverse edges is exactly the set of prompts whose compiled
// artifacts are stale.
package graph

import "sync"

// DependencyGraph is a thread-safe bidirectional dependency index.
type DependencyGraph struct {
	mu sync.RWMutex
	// forward: name -> set of names it references
	forward map[string]map[string]struct{}
	// reverse: name -> set of names that reference it
	reverse map[string]map[string]struct{}
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// Update replaces name's forward edge set. Edges no longer present are
// pruned from their targets' reverse sets; new edges are added. Cost is
// O(old + new edge count), never O(total graph size).
func (g *DependencyGraph) Update(name string, deps map[string]struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for old := range g.forward[name] {
		if _, still := deps[old]; !still {
			g.dropReverse(old, name)
		}
	}

	if len(deps) == 0 {
		delete(g.forward, name)
		return
	}

	next := make(map[string]struct{}, len(deps))
	for dep := range deps {
		next[dep] = struct{}{}
		parents, ok := g.reverse[dep]
		if !ok {
			parents = make(map[string]struct{})
			g.reverse[dep] = parents
		}
		parents[name] = struct{}{}
	}
	g.forward[name] = next
}

// Remove deletes name from the graph: its forward edges are pruned from the
// reverse index, and its own reverse entry is dropped since nobody can
// depend on a removed name anymore.
func (g *DependencyGraph) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.reverse, name)

	for dep := range g.forward[name] {
		g.dropReverse(dep, name)
	}
	delete(g.forward, name)
}

// dropReverse removes parent from dep's reverse set, pruning the entry when
// it empties. Caller holds the write lock.
func (g *DependencyGraph) dropReverse(dep, parent string) {
	parents, ok := g.reverse[dep]
	if !ok {
		return
	}
	delete(parents, parent)
	if len(parents) == 0 {
		delete(g.reverse, dep)
	}
}

// Dependents returns the set of names that directly reference name.
func (g *DependencyGraph) Dependents(name string) map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make(map[string]struct{}, len(g.reverse[name]))
	for parent := range g.reverse[name] {
		result[parent] = struct{}{}
	}
	return result
}

// Dependencies returns the set of names that name directly references.
func (g *DependencyGraph) Dependencies(name string) map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make(map[string]struct{}, len(g.forward[name]))
	for dep := range g.forward[name] {
		result[dep] = struct{}{}
	}
	return result
}

// Closure returns seeds plus every name transitively reverse-reachable from
// them: the full set that must be recompiled when the seeds change.
func (g *DependencyGraph) Closure(seeds map[string]struct{}) map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	affected := make(map[string]struct{}, len(seeds))
	queue := make([]string, 0, len(seeds))
	for seed := range seeds {
		queue = append(queue, seed)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := affected[current]; seen {
			continue
		}
		affected[current] = struct{}{}
		for parent := range g.reverse[current] {
			queue = append(queue, parent)
		}
	}
	return affected
}

// Clear drops every edge.
func (g *DependencyGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forward = make(map[string]map[string]struct{})
	g.reverse = make(map[string]map[string]struct{})
}

// Len returns the number of names with outgoing edges.
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.forward)
}
