package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plugkit/plugkit/errors"
)

// Handle tracks one binding to a logical library path. It counts load
// requests and live plugin instances, and delegates the physical
// transitions to the shared Registry, so many independent handles can
// reference the same underlying module without double-loading it or
// unloading it out from under each other.
//
// An empty path is a sentinel for statically linked code that is not
// dynamically managed: every operation on such a handle is a no-op.
//
// Lock order is loadMu then pluginMu, always. No method acquires them
// in the reverse order.
type Handle struct {
	id       string
	path     string
	onDemand bool
	registry *Registry

	loadMu       sync.Mutex
	loadRefCount int

	pluginMu       sync.Mutex
	pluginRefCount int
}

// NewHandle creates a handle bound to path. With onDemand false, one
// load is issued immediately and a load failure surfaces here.
func NewHandle(ctx context.Context, registry *Registry, path string, onDemand bool) (*Handle, error) {
	if registry == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "handle requires a registry")
	}

	h := &Handle{
		id:       uuid.NewString(),
		path:     path,
		onDemand: onDemand,
		registry: registry,
	}
	Logger().Debug("constructed handle",
		zap.String("handle", h.id),
		zap.String("library", path),
		zap.Bool("on_demand", onDemand))

	if !onDemand {
		if err := h.Load(ctx); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ID returns the handle's unique identifier, used for registry
// attribution in logs and events.
func (h *Handle) ID() string { return h.id }

// LibraryPath returns the logical library path this handle is bound to.
func (h *Handle) LibraryPath() string { return h.path }

// IsOnDemandLoadUnloadEnabled reports whether loading was deferred to
// the first explicit request instead of construction time.
func (h *Handle) IsOnDemandLoadUnloadEnabled() bool { return h.onDemand }

// Load requests the library be resident, incrementing this handle's
// load ref count. The physical load happens only if this handle becomes
// the path's first current owner. Open errors from the primitive
// propagate unmodified; the request still counts and is balanced by a
// later Unload.
func (h *Handle) Load(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	h.loadRefCount++
	_, err := h.registry.Acquire(ctx, h.path, h)
	return err
}

// Unload withdraws one load request. When the last request on this
// handle is withdrawn and no live plugin instances remain, the handle
// releases the path; the physical unload happens only if it was the
// last owner process-wide. With live instances the request is refused:
// the result reports OutcomeRetained and the load ref count is
// unchanged.
func (h *Handle) Unload(ctx context.Context) (UnloadResult, error) {
	if h.path == "" {
		return UnloadResult{Outcome: OutcomeUnloaded}, nil
	}
	return h.unload(ctx)
}

// Close attempts one unconditional unload, for teardown paths. A
// retained refusal is accepted silently here; the warning was already
// logged. Only primitive close failures surface.
func (h *Handle) Close(ctx context.Context) error {
	if h.path == "" {
		return nil
	}
	_, err := h.unload(ctx)
	return err
}

func (h *Handle) unload(ctx context.Context) (UnloadResult, error) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	h.pluginMu.Lock()
	defer h.pluginMu.Unlock()

	if h.pluginRefCount > 0 {
		reason := fmt.Sprintf("%d live plugin instance(s)", h.pluginRefCount)
		Logger().Warn("refusing to unload library while plugin instances created from it are still alive; destroy the instances first, the library stays resident",
			zap.String("handle", h.id),
			zap.String("library", h.path),
			zap.Int("plugin_ref_count", h.pluginRefCount),
			zap.Int("load_ref_count", h.loadRefCount))
		h.registry.notify(Event{Type: EventRetained, Path: h.path, HandleID: h.id})
		return UnloadResult{
			Outcome:   OutcomeRetained,
			Remaining: h.loadRefCount,
			Reason:    reason,
		}, nil
	}

	h.loadRefCount--
	if h.loadRefCount == 0 {
		if err := h.registry.Release(ctx, h.path, h); err != nil {
			return UnloadResult{Outcome: OutcomeUnloaded}, err
		}
	} else if h.loadRefCount < 0 {
		h.loadRefCount = 0
	}

	outcome := OutcomeUnloaded
	if h.loadRefCount > 0 {
		outcome = OutcomeStillRequested
	}
	return UnloadResult{Outcome: outcome, Remaining: h.loadRefCount}, nil
}

// IsLibraryLoaded reports whether the library is loaded and attributed
// to this handle.
func (h *Handle) IsLibraryLoaded() bool {
	return h.registry.IsLoaded(h.path, h)
}

// IsLibraryLoadedByAnyHandle reports whether any handle process-wide
// holds the library loaded.
func (h *Handle) IsLibraryLoadedByAnyHandle() bool {
	return h.registry.IsLoadedByAnybody(h.path)
}

// LoadRefCount returns this handle's outstanding load requests.
func (h *Handle) LoadRefCount() int {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	return h.loadRefCount
}

// PluginRefCount returns the number of live plugin instances tracked
// against this handle.
func (h *Handle) PluginRefCount() int {
	h.pluginMu.Lock()
	defer h.pluginMu.Unlock()
	return h.pluginRefCount
}

// IncrementPluginRefCount records a plugin instance created from this
// library, pinning it resident. Called by the factory layer on
// instance creation. Returns the new count.
func (h *Handle) IncrementPluginRefCount() int {
	h.pluginMu.Lock()
	defer h.pluginMu.Unlock()
	h.pluginRefCount++
	return h.pluginRefCount
}

// DecrementPluginRefCount records a plugin instance destruction.
// When the last instance on an on-demand handle goes away, one unload
// is attempted automatically, unless an unmanaged instance was ever
// recorded (unload safety is unverifiable then). Returns the new count.
//
// The plugin lock is released before the unload attempt so the fixed
// loadMu-then-pluginMu order holds; an instance created in that window
// simply turns the attempt into a refusal.
func (h *Handle) DecrementPluginRefCount(ctx context.Context) int {
	h.pluginMu.Lock()
	if h.pluginRefCount > 0 {
		h.pluginRefCount--
	}
	n := h.pluginRefCount
	h.pluginMu.Unlock()

	if n == 0 && h.onDemand && h.path != "" && !h.registry.HasUnmanagedInstanceBeenCreated() {
		if _, err := h.unload(ctx); err != nil {
			Logger().Warn("automatic unload after last plugin instance failed",
				zap.String("handle", h.id),
				zap.String("library", h.path),
				zap.Error(err))
		}
	}
	return n
}
