package manager

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/promptweave/internal/engine"
	pwerrors "github.com/conneroisu/promptweave/internal/errors"
	"github.com/conneroisu/promptweave/internal/types"
)

// fakeSource is an in-memory Source with a controllable definition set. Tests
// drive hot updates by calling emit directly.
type fakeSource struct {
	mu       sync.Mutex
	defs     map[string]*types.PromptMeta
	listener func(types.ChangeEvent)
	loadErrs map[string]error
	closed   bool
}

func newFakeSource(defs map[string]*types.PromptMeta) *fakeSource {
	if defs == nil {
		defs = make(map[string]*types.PromptMeta)
	}
	return &fakeSource{defs: defs}
}

func (f *fakeSource) LoadAll() map[string]*types.PromptMeta {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make(map[string]*types.PromptMeta, len(f.defs))
	for name, meta := range f.defs {
		all[name] = meta
	}
	return all
}

func (f *fakeSource) Load(name string) (*types.PromptMeta, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.defs[name]
	return meta, ok
}

func (f *fakeSource) OnChange(listener func(types.ChangeEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = listener
}

func (f *fakeSource) LoadErrors() map[string]error {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]error, len(f.loadErrs))
	for id, err := range f.loadErrs {
		result[id] = err
	}
	return result
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// set updates the backing definitions without emitting an event.
func (f *fakeSource) set(name, template string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defs[name] = &types.PromptMeta{ID: name, Template: template}
}

func (f *fakeSource) delete(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.defs, name)
}

// emit delivers a settled change event synchronously, the way the real
// source's settle path does.
func (f *fakeSource) emit(event types.ChangeEvent) {
	f.mu.Lock()
	listener := f.listener
	f.mu.Unlock()
	listener(event)
}

// emitUpdate is the common case: names changed, definitions already in defs.
func (f *fakeSource) emitUpdate(names ...string) {
	updated := make(map[string]*types.PromptMeta, len(names))
	f.mu.Lock()
	for _, name := range names {
		updated[name] = f.defs[name]
	}
	f.mu.Unlock()
	f.emit(types.ChangeEvent{Updated: updated})
}

func (f *fakeSource) emitRemove(names ...string) {
	removed := make(map[string]struct{}, len(names))
	for _, name := range names {
		removed[name] = struct{}{}
	}
	f.emit(types.ChangeEvent{Removed: removed})
}

func def(name, template string) *types.PromptMeta {
	return &types.PromptMeta{ID: name, Template: template}
}

// countingEngine wraps the mustache engine and counts compiles per name.
type countingEngine struct {
	inner    engine.Engine
	mu       sync.Mutex
	compiles map[string]int
	delay    time.Duration
}

func newCountingEngine(delay time.Duration) *countingEngine {
	return &countingEngine{
		inner:    engine.NewMustacheEngine(nil),
		compiles: make(map[string]int),
		delay:    delay,
	}
}

func (c *countingEngine) Compile(source, name string, resolver engine.PartialResolver) (*engine.CompiledPrompt, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.compiles[name]++
	c.mu.Unlock()
	return c.inner.Compile(source, name, resolver)
}

func (c *countingEngine) Render(artifact any, variables map[string]any) (string, error) {
	return c.inner.Render(artifact, variables)
}

func (c *countingEngine) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles[name]
}

func TestStartupFullLoad(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"greeting": def("greeting", "Hello {{name}}"),
		"farewell": def("farewell", "Bye {{name}}"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	assert.ElementsMatch(t, []string{"greeting", "farewell"}, m.CachedNames())

	out, err := m.Render("greeting", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", out)
}

func TestRenderUnknownName(t *testing.T) {
	m := New(newFakeSource(nil), Options{})
	defer func() { _ = m.Close() }()

	_, err := m.Render("ghost", nil)
	require.Error(t, err)
	assert.True(t, pwerrors.IsNotFound(err))
}

func TestHotSwapReplacesArtifact(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"greeting": def("greeting", "v1 {{name}}"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	out, err := m.Render("greeting", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "v1 x", out)

	src.set("greeting", "v2 {{name}}")
	src.emitUpdate("greeting")

	out, err = m.Render("greeting", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "v2 x", out)
}

func TestDependencyCascade(t *testing.T) {
	// parent includes base; changing base alone must recompile parent.
	src := newFakeSource(map[string]*types.PromptMeta{
		"base":   def("base", "base-v1"),
		"parent": def("parent", "parent: {{> base}}"),
	})
	eng := newCountingEngine(0)
	m := New(src, Options{Engine: eng})
	defer func() { _ = m.Close() }()

	out, err := m.Render("parent", nil)
	require.NoError(t, err)
	assert.Equal(t, "parent: base-v1", out)

	src.set("base", "base-v2")
	src.emitUpdate("base")

	out, err = m.Render("parent", nil)
	require.NoError(t, err)
	assert.Equal(t, "parent: base-v2", out)
	assert.GreaterOrEqual(t, eng.count("parent"), 2, "parent was not recompiled on dependency change")
}

func TestTransitiveCascade(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"leaf":   def("leaf", "L1"),
		"middle": def("middle", "m({{> leaf}})"),
		"top":    def("top", "t({{> middle}})"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	src.set("leaf", "L2")
	src.emitUpdate("leaf")

	out, err := m.Render("top", nil)
	require.NoError(t, err)
	assert.Equal(t, "t(m(L2))", out)
}

func TestRemovalEvictsAndFailsRenders(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"doomed": def("doomed", "x"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	_, err := m.Render("doomed", nil)
	require.NoError(t, err)

	src.delete("doomed")
	src.emitRemove("doomed")

	_, err = m.Render("doomed", nil)
	require.Error(t, err)
	assert.True(t, pwerrors.IsNotFound(err))
	assert.NotContains(t, m.CachedNames(), "doomed")
}

func TestRemoveThenRedefineInOneBatch(t *testing.T) {
	// One resource stops defining the name while another starts: the
	// same batch carries both the removal and the fresh definition, and
	// the definition must win.
	src := newFakeSource(map[string]*types.PromptMeta{
		"moved": def("moved", "old home"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	src.set("moved", "new home")
	src.emit(types.ChangeEvent{
		Updated: map[string]*types.PromptMeta{"moved": def("moved", "new home")},
		Removed: map[string]struct{}{"moved": {}},
	})

	out, err := m.Render("moved", nil)
	require.NoError(t, err)
	assert.Equal(t, "new home", out)
}

func TestFailedRecompileKeepsPreviousArtifact(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"greeting": def("greeting", "good {{name}}"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	out, err := m.Render("greeting", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "good x", out)

	// The new template is syntactically broken; the swap must not happen.
	src.set("greeting", "{{#broken}} unclosed")
	src.emitUpdate("greeting")

	out, err = m.Render("greeting", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "good x", out, "stale-but-valid artifact should keep serving")
}

func TestLazyLoadOnCacheMiss(t *testing.T) {
	src := newFakeSource(nil)
	eng := newCountingEngine(0)
	m := New(src, Options{Engine: eng})
	defer func() { _ = m.Close() }()

	// The definition appears after startup without any event.
	src.set("late", "late {{x}}")

	out, err := m.Render("late", map[string]any{"x": "1"})
	require.NoError(t, err)
	assert.Equal(t, "late 1", out)
	assert.Equal(t, 1, eng.count("late"))

	// Second render is a cache hit.
	_, err = m.Render("late", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, eng.count("late"))
}

func TestConcurrentMissesCompileOnce(t *testing.T) {
	src := newFakeSource(nil)
	eng := newCountingEngine(20 * time.Millisecond)
	m := New(src, Options{Engine: eng})
	defer func() { _ = m.Close() }()

	src.set("contested", "c {{n}}")

	const callers = 16
	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Render("contested", map[string]any{"n": "v"}); err != nil {
				atomic.AddInt32(&failures, 1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures)
	assert.Equal(t, 1, eng.count("contested"), "per-name lock should allow exactly one compilation")
}

func TestEvictionTriggersLazyRecompile(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"a": def("a", "A"),
		"b": def("b", "B"),
	})
	m := New(src, Options{CacheMaxSize: 1})
	defer func() { _ = m.Close() }()

	// Only one of the two startup compiles survives the size bound.
	assert.Len(t, m.CachedNames(), 1)

	// Both names render regardless; evicted ones recompile on demand.
	outA, err := m.Render("a", nil)
	require.NoError(t, err)
	assert.Equal(t, "A", outA)

	outB, err := m.Render("b", nil)
	require.NoError(t, err)
	assert.Equal(t, "B", outB)
}

func TestMetaIsLean(t *testing.T) {
	temp := 0.5
	src := newFakeSource(map[string]*types.PromptMeta{
		"greeting": {ID: "greeting", Model: "gpt-4o", Temperature: &temp, Template: "Hello"},
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	meta, ok := m.Meta("greeting")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", meta.Model)
	assert.Empty(t, meta.Template, "cache entries must not retain template source")

	_, ok = m.Meta("ghost")
	assert.False(t, ok)
}

func TestDefinedNames(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"a": def("a", "x"),
		"b": def("b", "{{#broken}} unclosed"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	assert.ElementsMatch(t, []string{"a", "b"}, m.DefinedNames())
	// b failed to compile, so only a is cached.
	assert.ElementsMatch(t, []string{"a"}, m.CachedNames())
}

func TestOnAppliedObserver(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"greeting": def("greeting", "v1"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	var mu sync.Mutex
	var gotUpdated, gotRemoved []string
	m.OnApplied(func(updated, removed []string) {
		mu.Lock()
		defer mu.Unlock()
		gotUpdated = append(gotUpdated, updated...)
		gotRemoved = append(gotRemoved, removed...)
	})

	src.set("greeting", "v2")
	src.emit(types.ChangeEvent{
		Updated: map[string]*types.PromptMeta{"greeting": def("greeting", "v2")},
		Removed: map[string]struct{}{"gone": {}},
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, gotUpdated, "greeting")
	assert.Contains(t, gotRemoved, "gone")
}

func TestStats(t *testing.T) {
	src := newFakeSource(map[string]*types.PromptMeta{
		"a": def("a", "x"),
	})
	m := New(src, Options{})
	defer func() { _ = m.Close() }()

	_, _ = m.Render("a", nil)
	_, _ = m.Render("a", nil)
	_, _ = m.Render("missing", nil)

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.Hits, int64(2))
	assert.GreaterOrEqual(t, stats.Misses, int64(1))
}

func TestCloseClosesSource(t *testing.T) {
	src := newFakeSource(nil)
	m := New(src, Options{})

	require.NoError(t, m.Close())
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.True(t, src.closed)
}
