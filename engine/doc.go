// Package engine provides the production dynamic-module primitive for
// the loader package, backed by the wazero WebAssembly runtime.
//
// Plugin libraries are WebAssembly binaries on disk. Open compiles and
// instantiates one without running its start function; Close tears the
// instance down so its exports stop resolving. The engine implements
// loader.Opener and is normally wired into a single loader.Registry:
//
//	eng, err := engine.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Shutdown(ctx)
//
//	reg := loader.NewRegistry(eng)
//
// Plugins compiled against WASI preview1 need EnableWASI:
//
//	eng, err := engine.NewWithConfig(ctx, &engine.Config{EnableWASI: true})
package engine
