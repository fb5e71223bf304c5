// Package errors provides structured error types for the interop runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The kinds form the boundary taxonomy: a fault that crosses from
// one side to the other keeps its kind, so callers on either side can match
// it with errors.Is against the exported sentinels.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
//		Path("args", "0").
//		GoType("bool").
//		Detail("expected text").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownMethod("Test", "Missing")
//	err := errors.DoubleFree(errors.PhaseHandle, 7)
//
// Sentinels carry no phase and match any error of the same kind:
//
//	if errors.Is(err, wasmerrors.ErrDoubleFree) { ... }
package errors
