package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the library lifecycle the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // physical library loading
	PhaseUnload   Phase = "unload"   // physical library unloading
	PhaseRegistry Phase = "registry" // owner-set bookkeeping
	PhaseRuntime  Phase = "runtime"  // everything after load
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound      Kind = "not_found"      // library file does not exist
	KindOpenFailed    Kind = "open_failed"    // primitive open rejected the library
	KindCloseFailed   Kind = "close_failed"   // primitive close failed
	KindNotOwned      Kind = "not_owned"      // handle does not own the path
	KindInvalidInput  Kind = "invalid_input"
	KindAlreadyClosed Kind = "already_closed"
)

// Error is the structured error type used throughout plugkit
type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Library string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Library != "" {
		b.WriteString(" library ")
		b.WriteString(e.Library)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Library sets the library path the error concerns
func (b *Builder) Library(path string) *Builder {
	b.err.Library = path
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a load error for a library file that does not exist
func NotFound(path string, cause error) *Error {
	return &Error{
		Phase:   PhaseLoad,
		Kind:    KindNotFound,
		Library: path,
		Detail:  "library file not found",
		Cause:   cause,
	}
}

// OpenFailed creates a load error for a library the primitive rejected
// (unresolved symbols, binary format mismatch, and similar)
func OpenFailed(path string, cause error) *Error {
	return &Error{
		Phase:   PhaseLoad,
		Kind:    KindOpenFailed,
		Library: path,
		Detail:  "open library",
		Cause:   cause,
	}
}

// CloseFailed creates an unload error for a close the primitive refused
func CloseFailed(path string, cause error) *Error {
	return &Error{
		Phase:   PhaseUnload,
		Kind:    KindCloseFailed,
		Library: path,
		Detail:  "close library",
		Cause:   cause,
	}
}

// NotOwned creates a registry error for releasing a path the handle
// never acquired
func NotOwned(path string) *Error {
	return &Error{
		Phase:   PhaseRegistry,
		Kind:    KindNotOwned,
		Library: path,
		Detail:  "handle does not hold this library",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// AlreadyClosed creates an error for operating on a closed object
func AlreadyClosed(what string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindAlreadyClosed,
		Detail: fmt.Sprintf("%s already closed", what),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
