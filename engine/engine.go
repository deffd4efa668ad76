package engine

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/plugkit/plugkit/errors"
	"github.com/plugkit/plugkit/loader"
)

// Engine is a dynamic-module primitive backed by wazero. It opens
// plugin libraries shipped as WebAssembly binaries: Open compiles and
// instantiates the file, Close tears the instance down and invalidates
// its exports. One Engine typically serves one loader.Registry for the
// lifetime of the process.
type Engine struct {
	runtime wazero.Runtime

	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool

	closed atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per module in pages
	// (64KB each). 0 means the wazero default.
	MemoryLimitPages uint32

	// EnableWASI instantiates the WASI preview1 host module so plugins
	// compiled against it can be opened.
	EnableWASI bool
}

// New creates a wazero-backed engine.
func New(ctx context.Context) (*Engine, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}

	if cfg != nil && cfg.EnableWASI {
		if err := e.initWASI(ctx); err != nil {
			_ = e.runtime.Close(ctx)
			return nil, err
		}
	}
	return e, nil
}

// initWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls.
func (e *Engine) initWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}
	if e.runtime.Module("wasi_snapshot_preview1") == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindOpenFailed, err, "instantiate WASI")
		}
	}
	e.wasiInitDone.Store(true)
	return nil
}

// Open implements loader.Opener. It reads, compiles, and instantiates
// the WebAssembly binary at path. The module's start function is not
// run; opening a library has no side effects beyond making its exports
// resolvable.
func (e *Engine) Open(ctx context.Context, path string) (loader.Module, error) {
	if e.closed.Load() {
		return nil, errors.AlreadyClosed("engine")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(path, err)
		}
		return nil, errors.OpenFailed(path, err)
	}

	compiled, err := e.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.OpenFailed(path, err)
	}

	// Module name doubles as the wazero instance name; the registry
	// loads each path at most once, so the path is unique here.
	modCfg := wazero.NewModuleConfig().
		WithName(path).
		WithStartFunctions()

	instance, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.OpenFailed(path, err)
	}

	Logger().Debug("opened wasm library",
		zap.String("library", path),
		zap.Int("size_bytes", len(data)))

	return &Module{path: path, compiled: compiled, instance: instance}, nil
}

// Close implements loader.Opener. Symbol lookups against the module
// fail after Close returns.
func (e *Engine) Close(ctx context.Context, mod loader.Module) error {
	m, ok := mod.(*Module)
	if !ok {
		return errors.InvalidInput(errors.PhaseUnload, "module was not opened by this engine")
	}

	if err := m.instance.Close(ctx); err != nil {
		return errors.CloseFailed(m.path, err)
	}
	if err := m.compiled.Close(ctx); err != nil {
		return errors.CloseFailed(m.path, err)
	}

	Logger().Debug("closed wasm library", zap.String("library", m.path))
	return nil
}

// Shutdown releases the wazero runtime. All modules must be released
// through their registry before calling this.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.runtime.Close(ctx)
}

// Module is a loaded WebAssembly plugin library.
type Module struct {
	path     string
	compiled wazero.CompiledModule
	instance api.Module
}

// Path returns the library path the module was opened from.
func (m *Module) Path() string { return m.path }

// ExportNames returns the names of all exported functions, sorted.
func (m *Module) ExportNames() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
