// Package errors provides structured error types for the clearcut bridge.
//
// Errors are categorized by Phase (where in the bridge lifecycle the error
// occurred) and Kind (error category). The Error type carries the remote type
// and member that failed to resolve, when there is one, plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindNotFound).
//		Type("com/google/android/gms/clearcut/ClearcutLogger").
//		Member("newEvent").
//		Signature("func(bytes) -> builder").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unavailable(status)
//	err := errors.RemoteException(errors.PhaseInvoke, description)
//
// All errors implement the standard error interface and support errors.Is/As.
// The bridge never hands these to its callers; they are logged and collapsed
// into a boolean at the public surface.
package errors
