package loader

import (
	"context"
	"fmt"
)

// Module is an opaque reference to a physically loaded library. Symbol
// resolution and richer module surfaces are provided by the concrete
// Opener implementation; the lifecycle layer only tracks identity.
type Module interface {
	Path() string
}

// Opener is the dynamic-module primitive: it performs the real OS-level
// (or runtime-level) open and close of a library file. Implementations
// must not call back into the Registry from Open or Close; both are
// invoked with the registry lock held.
type Opener interface {
	// Open loads the library at path. It fails with a load error on a
	// missing file, unresolved imports, or a binary format mismatch.
	Open(ctx context.Context, path string) (Module, error)

	// Close invalidates mod. Subsequent symbol lookups against the same
	// path must fail until the path is re-acquired.
	Close(ctx context.Context, mod Module) error
}

// Outcome describes what an unload request did.
type Outcome int

const (
	// OutcomeUnloaded means this handle no longer requests the library.
	// The physical unload happened only if this handle was the last
	// owner process-wide.
	OutcomeUnloaded Outcome = iota

	// OutcomeStillRequested means outstanding load requests remain on
	// this handle; the library stays resident.
	OutcomeStillRequested

	// OutcomeRetained means live plugin instances pinned the library.
	// The request was refused and the load ref count is unchanged.
	OutcomeRetained
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnloaded:
		return "unloaded"
	case OutcomeStillRequested:
		return "still-requested"
	case OutcomeRetained:
		return "retained"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// UnloadResult reports the effect of an Unload call. Retained is an
// expected outcome, never an error: forcing the unload would leave
// dangling code references inside live plugin instances, so callers
// that need the library gone must first destroy their instances and
// choose their own escalation policy.
type UnloadResult struct {
	Outcome   Outcome
	Remaining int    // load ref count after the call
	Reason    string // set when Outcome == OutcomeRetained
}
