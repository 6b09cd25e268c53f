// Package errors provides structured error types for the componentize pipeline.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: field path, script/WIT type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLower, errors.KindTypeMismatch).
//		Path("user", "age").
//		ScriptType("String").
//		WitType("u32").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseLower, path, "String", "u32")
//	err := errors.OutOfBounds(errors.PhaseLift, path, 10, 5)
//
// Build-time kinds (missing_export_function, script_evaluation_error,
// snapshot_nondeterminism, invalid_world) abort the build; the remaining
// marshaling kinds surface at call time and trap unless the declared result
// type absorbs them as an err case.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
