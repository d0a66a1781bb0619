package source

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/promptweave/internal/logging"
	"github.com/conneroisu/promptweave/internal/parser"
	"github.com/conneroisu/promptweave/internal/types"
	"github.com/conneroisu/promptweave/internal/watcher"
)

// Listener consumes settled change events.
type Listener func(types.ChangeEvent)

// IndexedSource maintains the prompt indexes over a set of resources and
// emits one ChangeEvent per settled batch of file activity.
//
// Refreshes triggered by the watcher's per-file callback update the indexes
// immediately and accumulate the per-name deltas into pending sets; when the
// watcher signals settlement, the pending sets are snapshotted and emitted
// as a single event. Events produced before a listener registers are queued
// and replayed on registration, so no startup-time change is lost.
type IndexedSource struct {
	parser *parser.Parser
	logger logging.Logger

	mu sync.Mutex
	// nameToResource is the forward index: prompt name -> owning resource
	// id. One owner at a time; on a conflict the last writer wins and a
	// warning names both resources.
	nameToResource map[string]string
	// resourceNames is the reverse index: resource id -> names it
	// currently defines. For every name in resourceNames[r],
	// nameToResource[name] == r.
	resourceNames map[string]map[string]struct{}
	// resources holds the live handle for each tracked resource id.
	resources map[string]Resource

	pendingUpdates map[string]*types.PromptMeta
	pendingRemoves map[string]struct{}
	loadErrors     map[string]error

	// emitMu serializes event delivery: at most one ChangeEvent is
	// in flight at a time, in snapshot order.
	emitMu   sync.Mutex
	listener Listener
	replay   []types.ChangeEvent

	fw *watcher.DebouncedWatcher
}

// Options configures an IndexedSource.
type Options struct {
	// Locations are the patterns to scan: directories, single files, or
	// zip archives ("prompts.zip!team/").
	Locations []string
	// DebounceDelay is the settle quiet period. Zero selects the default.
	DebounceDelay time.Duration
	// MaxFileSize is the parser size ceiling. Zero selects the default.
	MaxFileSize int64
	// Logger receives structured logs. Nil discards them.
	Logger logging.Logger
}

// New scans the configured locations, builds the initial indexes, and
// starts watching filesystem locations for changes.
func New(opts Options) (*IndexedSource, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &IndexedSource{
		parser:         parser.New(opts.MaxFileSize),
		logger:         logger.WithComponent("source"),
		nameToResource: make(map[string]string),
		resourceNames:  make(map[string]map[string]struct{}),
		resources:      make(map[string]Resource),
		pendingUpdates: make(map[string]*types.PromptMeta),
		pendingRemoves: make(map[string]struct{}),
		loadErrors:     make(map[string]error),
	}

	fw, err := watcher.New(s.handleFileChange, s.settle, opts.DebounceDelay, func(path string) bool {
		return parser.IsSupportedFile(path)
	}, logger)
	if err != nil {
		return nil, err
	}
	s.fw = fw

	for _, location := range opts.Locations {
		result, err := scanLocation(location)
		if err != nil {
			s.logger.Warn(context.Background(), err, "failed to scan location", "location", location)
			continue
		}
		for _, res := range result.resources {
			s.refreshResource(res, false)
		}
		for _, dir := range result.watchDirs {
			if err := fw.Register(dir); err != nil {
				s.logger.Warn(context.Background(), err, "failed to watch directory", "dir", dir)
			}
		}
	}

	fw.Start()
	return s, nil
}

// LoadAll re-parses every tracked resource and returns the full definition
// snapshot. Used for the startup full load, not for the hot path.
func (s *IndexedSource) LoadAll() map[string]*types.PromptMeta {
	s.mu.Lock()
	resources := make([]Resource, 0, len(s.resources))
	for _, res := range s.resources {
		resources = append(resources, res)
	}
	s.mu.Unlock()

	all := make(map[string]*types.PromptMeta)
	for _, res := range resources {
		defs, err := s.parseResource(res)
		if err != nil {
			// Already recorded by the refresh path; surfaced here so a
			// startup failure is visible even with debug logging off.
			s.logger.Warn(context.Background(), err, "failed to parse resource during full load", "resource", res.ID())
			continue
		}
		for name, meta := range defs {
			all[name] = meta
		}
	}
	return all
}

// Load looks up one name via the forward index and re-parses exactly one
// resource. The second return is false when no resource defines the name.
func (s *IndexedSource) Load(name string) (*types.PromptMeta, bool) {
	s.mu.Lock()
	id, ok := s.nameToResource[name]
	var res Resource
	if ok {
		res, ok = s.resources[id]
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	defs, err := s.parseResource(res)
	if err != nil {
		s.logger.Error(context.Background(), err, "failed to load prompt", "prompt", name)
		return nil, false
	}
	meta, ok := defs[name]
	return meta, ok
}

// OnChange registers the single change listener, replaying any events
// emitted before registration.
func (s *IndexedSource) OnChange(listener func(types.ChangeEvent)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.listener = listener
	if len(s.replay) == 0 {
		return
	}
	s.logger.Info(context.Background(), "replaying queued change events", "count", len(s.replay))
	for _, event := range s.replay {
		listener(event)
	}
	s.replay = nil
}

// LoadErrors returns a copy of the per-resource load error map.
func (s *IndexedSource) LoadErrors() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]error, len(s.loadErrors))
	for id, err := range s.loadErrors {
		result[id] = err
	}
	return result
}

// Close stops the watcher. In-flight refreshes finish; no settle fires
// afterwards.
func (s *IndexedSource) Close() error {
	return s.fw.Close()
}

// handleFileChange is the watcher's immediate per-file callback. It runs on
// the watch event loop, so a file's refresh always completes before the
// settle batch that includes it.
func (s *IndexedSource) handleFileChange(path string) {
	s.refreshResource(NewFileResource(path), true)
}

// refreshResource re-indexes one resource. incremental is true for
// watcher-driven refreshes, where deltas accumulate into the pending sets;
// the startup scan passes false and stages nothing.
func (s *IndexedSource) refreshResource(res Resource, incremental bool) {
	id := res.ID()

	if !res.Exists() {
		s.removeResource(id, incremental)
		return
	}

	defs, err := s.parseResource(res)
	if err != nil {
		// Parse failures are isolated per resource: the previous index
		// entries stay servable and nothing is staged.
		s.mu.Lock()
		s.loadErrors[id] = err
		s.mu.Unlock()
		s.logger.Error(context.Background(), err, "failed to refresh resource", "resource", id)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldNames := s.resourceNames[id]
	currentNames := make(map[string]struct{}, len(defs))

	s.resources[id] = res

	for name, meta := range defs {
		currentNames[name] = struct{}{}
		if owner, ok := s.nameToResource[name]; ok && owner != id {
			s.logger.Warn(context.Background(), nil, "prompt defined by multiple resources, last writer wins",
				"prompt", name, "previous", owner, "current", id)
		}
		s.nameToResource[name] = id
		if incremental {
			s.pendingUpdates[name] = meta
			delete(s.pendingRemoves, name)
		}
	}

	// Names this resource used to define but no longer does.
	for name := range oldNames {
		if _, still := currentNames[name]; still {
			continue
		}
		if s.nameToResource[name] == id {
			delete(s.nameToResource, name)
		}
		if incremental {
			s.pendingRemoves[name] = struct{}{}
			delete(s.pendingUpdates, name)
		}
	}

	s.resourceNames[id] = currentNames
	delete(s.loadErrors, id)
}

// removeResource clears every index entry owned by a deleted resource.
func (s *IndexedSource) removeResource(id string, incremental bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.resourceNames[id]
	delete(s.resourceNames, id)
	delete(s.resources, id)
	delete(s.loadErrors, id)

	for name := range removed {
		if s.nameToResource[name] == id {
			delete(s.nameToResource, name)
		}
		if incremental {
			// Update-then-delete race: a staged update for the name is
			// superseded by the removal.
			s.pendingRemoves[name] = struct{}{}
			delete(s.pendingUpdates, name)
		}
	}

	if len(removed) > 0 {
		s.logger.Info(context.Background(), "resource removed", "resource", id, "prompts", len(removed))
	}
}

// settle fires when the watcher's quiet period elapses. It snapshots and
// clears the pending sets atomically and emits at most one ChangeEvent.
func (s *IndexedSource) settle() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if len(s.pendingUpdates) == 0 && len(s.pendingRemoves) == 0 {
		s.mu.Unlock()
		return
	}
	event := types.ChangeEvent{
		Updated: s.pendingUpdates,
		Removed: s.pendingRemoves,
	}
	s.pendingUpdates = make(map[string]*types.PromptMeta)
	s.pendingRemoves = make(map[string]struct{})
	s.mu.Unlock()

	if s.listener == nil {
		s.replay = append(s.replay, event)
		s.logger.Debug(context.Background(), "no listener registered, queuing change event",
			"updated", len(event.Updated), "removed", len(event.Removed))
		return
	}

	s.logger.Info(context.Background(), "change batch settled",
		"updated", len(event.Updated), "removed", len(event.Removed))
	s.listener(event)
}

func (s *IndexedSource) parseResource(res Resource) (map[string]*types.PromptMeta, error) {
	rc, err := res.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return s.parser.Parse(rc, res.Filename())
}
