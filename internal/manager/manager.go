// Package manager coordinates the indexed source, the template engine, the
// compiled-artifact cache, and the dependency graph.
//
// The concurrency discipline is two-phase: applying a change event computes
// the affected closure and processes removals under the write lock (fast,
// O(batch)), compiles outside any lock (slow, file I/O plus engine work),
// and commits the whole compiled batch under the write lock again (fast,
// map insertions). Renders take the read lock only for the cache lookup, so
// a cache hit is never blocked by compilation work, and at most one
// compilation per name runs at a time via per-name locks.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/promptweave/internal/engine"
	pwerrors "github.com/conneroisu/promptweave/internal/errors"
	"github.com/conneroisu/promptweave/internal/graph"
	"github.com/conneroisu/promptweave/internal/logging"
	"github.com/conneroisu/promptweave/internal/metrics"
	"github.com/conneroisu/promptweave/internal/types"
)

// DefaultCacheMaxSize bounds the artifact cache entry count.
const DefaultCacheMaxSize = 10_000

// DefaultCacheIdleExpiry drops artifacts unused for this long; the next
// render lazily recompiles them.
const DefaultCacheIdleExpiry = 24 * time.Hour

// Source is the prompt definition provider the manager consumes. The
// concrete implementation is source.IndexedSource; tests substitute fakes.
type Source interface {
	// LoadAll returns the full definition snapshot by re-parsing every
	// tracked resource.
	LoadAll() map[string]*types.PromptMeta
	// Load returns the definition for one name, or false.
	Load(name string) (*types.PromptMeta, bool)
	// OnChange registers the consumer of settled change events, replaying
	// any events produced before registration.
	OnChange(func(types.ChangeEvent))
	// LoadErrors exposes the per-resource load error map, read-only.
	LoadErrors() map[string]error
	// Close releases watch resources.
	Close() error
}

// AppliedFunc observes committed hot-update batches.
type AppliedFunc func(updated, removed []string)

// Options configures a Manager.
type Options struct {
	// Engine compiles and renders templates. Nil selects the Mustache
	// engine.
	Engine engine.Engine
	// Recorder receives one sample per render. Nil selects a no-op.
	Recorder metrics.Recorder
	// Logger receives structured logs. Nil discards them.
	Logger logging.Logger
	// CacheMaxSize bounds cache entries. Zero selects the default.
	CacheMaxSize int
	// CacheIdleExpiry is the access-based expiry. Zero selects the
	// default; negative disables expiry.
	CacheIdleExpiry time.Duration
}

// Manager serves renders from a compiled-artifact cache and keeps the cache
// consistent with the source through settled change events.
type Manager struct {
	source   Source
	engine   engine.Engine
	recorder metrics.Recorder
	logger   logging.Logger

	// rw guards cache commits against reads. Held exclusively only for
	// the fast phases of a hot update, never across I/O or compilation.
	rw    sync.RWMutex
	cache *artifactCache
	graph *graph.DependencyGraph
	locks *nameLocks

	appliedMu sync.Mutex
	applied   []AppliedFunc
}

// compiled is one phase-2 result awaiting commit.
type compiled struct {
	name     string
	meta     *types.PromptMeta
	artifact any
	deps     map[string]struct{}
}

// New builds a manager, performs the startup full load, and registers for
// change events. Per-resource startup failures are isolated; the manager
// comes up with whatever compiled.
func New(src Source, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	eng := opts.Engine
	if eng == nil {
		eng = engine.NewMustacheEngine(logger)
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	maxSize := opts.CacheMaxSize
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	idle := opts.CacheIdleExpiry
	if idle == 0 {
		idle = DefaultCacheIdleExpiry
	}

	m := &Manager{
		source:   src,
		engine:   eng,
		recorder: recorder,
		logger:   logger.WithComponent("manager"),
		cache:    newArtifactCache(maxSize, idle),
		graph:    graph.New(),
		locks:    newNameLocks(),
	}

	m.reloadAll()
	src.OnChange(m.handleChange)
	return m
}

// Render renders the named prompt against the supplied variables. A cache
// miss triggers a lazy load and compile under the per-name lock; if the
// source has no definition the call fails with a NotFound error.
func (m *Manager) Render(name string, variables map[string]any) (string, error) {
	// Fast path: shared lock for the lookup only, then render outside it.
	m.rw.RLock()
	entry, ok := m.cache.get(name)
	m.rw.RUnlock()
	if ok {
		return m.renderArtifact(name, entry.artifact, variables)
	}

	// Slow path: serialize compilation per name.
	lock := m.locks.acquire(name)
	lock.mu.Lock()
	defer func() {
		lock.mu.Unlock()
		m.locks.release(name, lock)
	}()

	// Another caller may have compiled while we waited.
	m.rw.RLock()
	entry, ok = m.cache.get(name)
	m.rw.RUnlock()
	if ok {
		return m.renderArtifact(name, entry.artifact, variables)
	}

	meta, ok := m.source.Load(name)
	if !ok {
		return "", pwerrors.NotFound(name)
	}

	direct := map[string]*types.PromptMeta{name: meta}
	result, err := m.compileOne(name, meta, m.partialResolver(direct))
	if err != nil {
		return "", err
	}
	m.commit([]compiled{result})

	return m.renderArtifact(name, result.artifact, variables)
}

// Meta returns the cached lean metadata for a name. The template source is
// never included; cache entries do not retain it.
func (m *Manager) Meta(name string) (*types.PromptMeta, bool) {
	m.rw.RLock()
	defer m.rw.RUnlock()

	entry, ok := m.cache.get(name)
	if !ok {
		return nil, false
	}
	return entry.meta, true
}

// CachedNames returns the names currently resident in the cache.
func (m *Manager) CachedNames() []string {
	m.rw.RLock()
	defer m.rw.RUnlock()
	return m.cache.names()
}

// DefinedNames returns every name the source currently defines, whether or
// not it compiled. This re-parses tracked resources; intended for tooling,
// not the render path.
func (m *Manager) DefinedNames() []string {
	all := m.source.LoadAll()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names
}

// Stats returns cache effectiveness counters.
func (m *Manager) Stats() CacheStats {
	return m.cache.stats()
}

// LoadErrors exposes the source's per-resource error map for health
// reporting.
func (m *Manager) LoadErrors() map[string]error {
	return m.source.LoadErrors()
}

// OnApplied registers an observer of committed hot-update batches.
func (m *Manager) OnApplied(fn AppliedFunc) {
	m.appliedMu.Lock()
	defer m.appliedMu.Unlock()
	m.applied = append(m.applied, fn)
}

// Close shuts down the source. In-flight compilations finish; they have no
// partial side effects to roll back.
func (m *Manager) Close() error {
	return m.source.Close()
}

// handleChange applies one settled change event with the two-phase
// protocol.
func (m *Manager) handleChange(event types.ChangeEvent) {
	// Phase 1, under the exclusive lock: evict removals and compute the
	// affected closure. Removals apply before recompilation starts, so a
	// name removed by one resource and redefined by another in the same
	// batch resolves to the redefinition.
	m.rw.Lock()
	for name := range event.Removed {
		m.cache.remove(name)
		m.graph.Remove(name)
		m.logger.Info(context.Background(), "prompt removed", "prompt", name)
	}
	seeds := make(map[string]struct{}, len(event.Updated))
	for name := range event.Updated {
		seeds[name] = struct{}{}
	}
	affected := m.graph.Closure(seeds)
	m.rw.Unlock()

	if len(affected) == 0 && len(event.Removed) == 0 {
		return
	}

	// Phase 2, lock-free: resolve definitions and compile the batch.
	batch := m.compileBatch(affected, event.Updated, event.Removed)

	// Commit, under the exclusive lock again: one step, so readers never
	// observe a partially applied batch.
	m.commit(batch)

	m.logger.Info(context.Background(), "hot update applied",
		"recompiled", len(batch), "removed", len(event.Removed))
	m.notifyApplied(batch, event.Removed)
}

// compileBatch compiles every affected name outside any lock. Failures are
// isolated per name: the name is dropped from the batch and its previous
// artifact, if any, stays servable.
func (m *Manager) compileBatch(affected map[string]struct{}, direct map[string]*types.PromptMeta, removed map[string]struct{}) []compiled {
	resolver := m.partialResolver(direct)
	batch := make([]compiled, 0, len(affected))

	for name := range affected {
		// A name both removed and redefined in one batch resolves to the
		// redefinition; skip only names that are gone outright.
		if _, gone := removed[name]; gone {
			if _, redefined := direct[name]; !redefined {
				continue
			}
		}

		meta := direct[name]
		if meta == nil {
			loaded, ok := m.source.Load(name)
			if !ok {
				m.logger.Warn(context.Background(), nil, "definition vanished during recompilation", "prompt", name)
				continue
			}
			meta = loaded
		}

		result, err := m.compileOne(name, meta, resolver)
		if err != nil {
			m.logger.Error(context.Background(), err, "recompilation failed, keeping previous artifact", "prompt", name)
			continue
		}
		batch = append(batch, result)
	}
	return batch
}

// compileOne compiles a single definition. The dependency set reported by
// the engine is carried even for failed compilations via the returned
// error; callers that keep the old artifact simply do not commit.
func (m *Manager) compileOne(name string, meta *types.PromptMeta, resolver engine.PartialResolver) (compiled, error) {
	cp, err := m.engine.Compile(meta.Template, name, resolver)
	if err != nil {
		return compiled{}, err
	}
	return compiled{
		name:     name,
		meta:     meta.StripTemplate(),
		artifact: cp.Artifact,
		deps:     cp.Dependencies,
	}, nil
}

// commit applies a compiled batch to the cache and the dependency graph in
// one critical section.
func (m *Manager) commit(batch []compiled) {
	if len(batch) == 0 {
		return
	}

	m.rw.Lock()
	defer m.rw.Unlock()
	for _, result := range batch {
		m.cache.put(result.name, result.meta, result.artifact)
		m.graph.Update(result.name, result.deps)
	}
}

// partialResolver builds the engine's partial resolver: in-flight batch
// data first, then the indexed source. This covers names pulled into a
// batch only because a dependency changed.
func (m *Manager) partialResolver(direct map[string]*types.PromptMeta) engine.PartialResolver {
	return func(name string) (string, bool) {
		if meta, ok := direct[name]; ok && meta != nil {
			return meta.Template, true
		}
		meta, ok := m.source.Load(name)
		if !ok {
			return "", false
		}
		return meta.Template, true
	}
}

// reloadAll performs the startup full load through the same batch pipeline
// as hot updates.
func (m *Manager) reloadAll() {
	all := m.source.LoadAll()
	names := make(map[string]struct{}, len(all))
	for name := range all {
		names[name] = struct{}{}
	}
	batch := m.compileBatch(names, all, nil)
	m.commit(batch)
	m.logger.Info(context.Background(), "initialized prompts", "count", len(batch))
}

// renderArtifact runs the engine render and records the metrics sample.
func (m *Manager) renderArtifact(name string, artifact any, variables map[string]any) (string, error) {
	start := time.Now()
	out, err := m.engine.Render(artifact, variables)
	m.recorder.RecordRender(name, time.Since(start), err == nil)
	return out, err
}

func (m *Manager) notifyApplied(batch []compiled, removed map[string]struct{}) {
	m.appliedMu.Lock()
	observers := make([]AppliedFunc, len(m.applied))
	copy(observers, m.applied)
	m.appliedMu.Unlock()

	if len(observers) == 0 {
		return
	}

	updatedNames := make([]string, 0, len(batch))
	for _, result := range batch {
		updatedNames = append(updatedNames, result.name)
	}
	removedNames := make([]string, 0, len(removed))
	for name := range removed {
		removedNames = append(removedNames, name)
	}

	for _, fn := range observers {
		fn(updatedNames, removedNames)
	}
}
