// Package errors provides structured error types for the native bridge.
//
// Errors are categorized by Phase (which bridge component raised the error),
// Kind (error category) and Class (misuse, exhaustion or integrity). The Error
// type carries the operation name, the OS thread and the offending handle so
// that a logged violation is enough to locate the native call that caused it.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCheck, errors.KindInvalidRef).
//		Op("DeleteLocalRef").
//		Thread(tid).
//		Handle(uint64(h)).
//		Detail("reference is not in any live table").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TableFull(errors.PhaseGlobal, "global", 51200)
//	err := errors.OutOfBounds(errors.PhaseCheck, "GetArrayRegion", 10, 4, 12)
//
// Integrity errors (Class == ClassIntegrity) are always fatal to the bridge.
// All errors implement the standard error interface and support errors.Is/As.
package errors
