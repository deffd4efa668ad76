package loader

// Event types for library lifecycle notifications.
type EventType uint8

const (
	// EventLoaded fires on every successful Acquire. Owners reports the
	// owner-set size after the call; Owners == 1 means the physical open
	// happened in this call.
	EventLoaded EventType = iota

	// EventUnloaded fires when the last owner released the path and the
	// physical close ran.
	EventUnloaded

	// EventRetained fires when an unload request was refused because
	// live plugin instances still pin the library.
	EventRetained

	// EventUnmanagedInstance fires when an instance was created outside
	// the tracked ownership path.
	EventUnmanagedInstance
)

// Event represents a library lifecycle event.
type Event struct {
	Path     string
	HandleID string
	Owners   int
	Type     EventType
}

// Observer receives notifications about library lifecycle events.
// Callbacks run outside the registry lock, on the goroutine that
// triggered the transition, but may run inside a handle's critical
// section: implementations must not call back into handles or the
// registry.
type Observer interface {
	OnLibraryEvent(Event)
}
