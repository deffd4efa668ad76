// Package plugkit provides a thread-safe, reference-counted lifecycle
// manager for dynamically loaded plugin libraries.
//
// It decides when a shared library is physically loaded or unloaded and
// prevents unloading while plugin instances created from it are still
// alive, coordinating load-request and live-instance counters across
// any number of handles bound to the same library path.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	plugkit/            Root package overview
//	├── loader/         Handles, the shared registry, and lifecycle events
//	├── engine/         wazero-backed dynamic-module primitive
//	└── errors/         Structured error types for debugging
//
// # Quick Start
//
//	eng, err := engine.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Shutdown(ctx)
//
//	reg := loader.NewRegistry(eng)
//
//	h, err := loader.NewHandle(ctx, reg, "/plugins/calc.wasm", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(ctx)
//
// # Lifecycle Rules
//
// A library is physically loaded while at least one handle owns it and
// physically unloaded when the last owner releases it. A handle refuses
// to release while plugin instances created from its library are alive;
// the refusal is an expected outcome, reported as OutcomeRetained, never
// an error.
package plugkit
