// Package loader manages the lifecycle of dynamically loaded plugin
// libraries.
//
// Two independent counters decide when a library is physically loaded
// or unloaded. Each Handle counts its own load requests and the live
// plugin instances created from the library; the shared Registry tracks
// which handles currently own each path and runs the real open/close
// exactly at the empty/non-empty transitions of a path's owner set.
//
// # Quick Start
//
//	ctx := context.Background()
//	reg := loader.NewRegistry(myOpener)
//
//	h, err := loader.NewHandle(ctx, reg, "/plugins/libfoo.so", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(ctx)
//
//	// The factory layer pins the library while instances are alive:
//	h.IncrementPluginRefCount()
//	res, _ := h.Unload(ctx)
//	// res.Outcome == loader.OutcomeRetained: refused, library resident
//	h.DecrementPluginRefCount(ctx)
//
// # Sharing a path
//
// Any number of handles may bind the same path through one Registry.
// The primitive's Open runs once when the first owner appears and Close
// runs once when the last owner leaves, no matter how the handles'
// load/unload calls interleave.
//
// # Unload refusal
//
// Unloading a library whose plugin instances are still alive would
// leave dangling code references, so Unload refuses and reports
// OutcomeRetained instead of failing. The refusal is logged as a
// warning through the package logger (see SetLogger).
//
// # Thread Safety
//
// Handle and Registry are safe for concurrent use. Handles take their
// load lock before their plugin lock, never the reverse; the registry
// lock is independent of both.
package loader
