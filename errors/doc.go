// Package errors provides structured error types for the plugkit library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes the library path it concerns and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindOpenFailed).
//		Library("/plugins/libfoo.so").
//		Detail("unresolved import %q", "host.alloc").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(path, cause)
//	err := errors.CloseFailed(path, cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
