package loader

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/plugkit/plugkit/errors"
)

// Registry makes physical load state a single process-wide fact shared
// by every handle bound to the same path. It guarantees the primitive's
// open and close run exactly at the empty/non-empty transitions of a
// path's owner set, regardless of how many handles claim the path.
//
// Construct one Registry per process (or per test) and share it by
// reference with every handle. The registry lock is distinct from any
// handle's locks; handles never hold it across their own critical
// sections.
type Registry struct {
	opener Opener

	mu      sync.Mutex
	entries map[string]*libraryEntry

	obsMu     sync.RWMutex
	observers []Observer

	unmanagedInstances atomic.Int64
}

type libraryEntry struct {
	module Module
	owners map[*Handle]struct{}
}

// NewRegistry creates a registry that delegates physical transitions
// to op.
func NewRegistry(op Opener) *Registry {
	return &Registry{
		opener:  op,
		entries: make(map[string]*libraryEntry),
	}
}

// Acquire adds h to path's owner set. If the set was empty beforehand
// the primitive's open runs; otherwise the already-loaded module is
// reused. Open errors propagate unmodified and leave the owner set
// untouched.
func (r *Registry) Acquire(ctx context.Context, path string, h *Handle) (Module, error) {
	if path == "" || h == nil {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "acquire requires a path and a handle")
	}

	r.mu.Lock()
	entry, ok := r.entries[path]
	if !ok {
		mod, err := r.opener.Open(ctx, path)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		entry = &libraryEntry{
			module: mod,
			owners: make(map[*Handle]struct{}),
		}
		r.entries[path] = entry
		Logger().Debug("library physically loaded",
			zap.String("library", path),
			zap.String("handle", h.id))
	}
	entry.owners[h] = struct{}{}
	owners := len(entry.owners)
	mod := entry.module
	r.mu.Unlock()

	r.notify(Event{Type: EventLoaded, Path: path, HandleID: h.id, Owners: owners})
	return mod, nil
}

// Release removes h from path's owner set. If the set becomes empty the
// primitive's close runs and the module reference is invalidated. Close
// errors propagate unmodified; the owner set is already updated by then,
// so the path counts as unloaded either way.
func (r *Registry) Release(ctx context.Context, path string, h *Handle) error {
	if path == "" || h == nil {
		return errors.InvalidInput(errors.PhaseRegistry, "release requires a path and a handle")
	}

	r.mu.Lock()
	entry, ok := r.entries[path]
	if !ok {
		r.mu.Unlock()
		Logger().Warn("release of a library the registry never loaded",
			zap.String("library", path),
			zap.String("handle", h.id))
		return errors.NotOwned(path)
	}
	if _, owner := entry.owners[h]; !owner {
		r.mu.Unlock()
		Logger().Warn("release by a handle that does not own the library",
			zap.String("library", path),
			zap.String("handle", h.id))
		return errors.NotOwned(path)
	}

	delete(entry.owners, h)
	owners := len(entry.owners)
	var closeErr error
	if owners == 0 {
		delete(r.entries, path)
		closeErr = r.opener.Close(ctx, entry.module)
		Logger().Debug("library physically unloaded",
			zap.String("library", path),
			zap.String("handle", h.id))
	}
	r.mu.Unlock()

	if owners == 0 {
		r.notify(Event{Type: EventUnloaded, Path: path, HandleID: h.id})
	}
	return closeErr
}

// IsLoadedByAnybody reports whether any handle currently holds path
// loaded.
func (r *Registry) IsLoadedByAnybody(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path]
	return ok && len(entry.owners) > 0
}

// IsLoaded reports whether h is a member of path's owner set.
func (r *Registry) IsLoaded(path string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path]
	if !ok {
		return false
	}
	_, owner := entry.owners[h]
	return owner
}

// OwnerCount returns the size of path's owner set.
func (r *Registry) OwnerCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path]
	if !ok {
		return 0
	}
	return len(entry.owners)
}

// LoadedModule returns the opaque module reference for a path that is
// currently held loaded.
func (r *Registry) LoadedModule(path string) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path]
	if !ok {
		return nil, false
	}
	return entry.module, true
}

// LoadedPaths returns the paths currently held loaded, sorted.
func (r *Registry) LoadedPaths() []string {
	r.mu.Lock()
	paths := make([]string, 0, len(r.entries))
	for path := range r.entries {
		paths = append(paths, path)
	}
	r.mu.Unlock()

	sort.Strings(paths)
	return paths
}

// Subscribe adds an observer for library lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, obs := range r.observers {
		if obs == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

// NoteUnmanagedInstance records that a plugin instance was created
// outside the tracked ownership path. Such instances make unload safety
// unverifiable; handles stop auto-unloading on last instance destruction
// once any is recorded. Best-effort diagnostic only.
func (r *Registry) NoteUnmanagedInstance() {
	r.unmanagedInstances.Add(1)
	r.notify(Event{Type: EventUnmanagedInstance})
}

// UnmanagedInstanceCount returns how many unmanaged instances were
// recorded.
func (r *Registry) UnmanagedInstanceCount() int64 {
	return r.unmanagedInstances.Load()
}

// HasUnmanagedInstanceBeenCreated reports whether any instance was ever
// created outside the tracked ownership path.
func (r *Registry) HasUnmanagedInstanceBeenCreated() bool {
	return r.unmanagedInstances.Load() > 0
}

// SetUnmanagedInstanceBeenCreated forces the diagnostic state, mainly
// so tests can reset it.
func (r *Registry) SetUnmanagedInstanceBeenCreated(state bool) {
	if state {
		r.unmanagedInstances.CompareAndSwap(0, 1)
		return
	}
	r.unmanagedInstances.Store(0)
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnLibraryEvent(e)
	}
}
