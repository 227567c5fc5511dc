package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the bridge lifecycle the error occurred
type Phase string

const (
	PhaseCapability Phase = "capability" // availability probe
	PhaseInit       Phase = "init"       // one-time setup
	PhaseResolve    Phase = "resolve"    // type/method/field lookup
	PhaseAttach     Phase = "attach"     // thread attach/detach
	PhaseMarshal    Phase = "marshal"    // payload copy into the runtime
	PhaseInvoke     Phase = "invoke"     // remote calls
	PhaseRuntime    Phase = "runtime"    // managed runtime internals
	PhaseConfig     Phase = "config"     // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindNotFound              Kind = "not_found"
	KindAttachFailed          Kind = "attach_failed"
	KindVersionMismatch       Kind = "version_mismatch"
	KindRemoteException       Kind = "remote_exception"
	KindNotInitialized        Kind = "not_initialized"
	KindAlreadyInitialized    Kind = "already_initialized"
	KindNilReference          Kind = "nil_reference"
	KindInvalidInput          Kind = "invalid_input"
	KindSignatureMismatch     Kind = "signature_mismatch"
	KindOutOfBounds           Kind = "out_of_bounds"
	KindAllocation            Kind = "allocation"
	KindInstantiation         Kind = "instantiation"
	KindInvalidData           Kind = "invalid_data"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Type      string
	Member    string
	Signature string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Type != "" {
		b.WriteString(" at ")
		b.WriteString(e.Type)
		if e.Member != "" {
			b.WriteByte('.')
			b.WriteString(e.Member)
		}
		if e.Signature != "" {
			b.WriteByte(' ')
			b.WriteString(e.Signature)
		}
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

// Type sets the remote type name
func (b *Builder) Type(name string) *Builder {
	b.err.Type = name
	return b
}

// Member sets the method or field name
func (b *Builder) Member(name string) *Builder {
	b.err.Member = name
	return b
}

// Signature sets the member signature
func (b *Builder) Signature(sig string) *Builder {
	b.err.Signature = sig
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
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

// Unavailable creates a capability-unavailable error carrying the reported status
func Unavailable(status int32) *Error {
	return &Error{
		Phase:  PhaseCapability,
		Kind:   KindCapabilityUnavailable,
		Detail: fmt.Sprintf("service reported status %d", status),
		Value:  status,
	}
}

// NotFound creates a resolution failure for a type or member
func NotFound(phase Phase, typeName, member, sig string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindNotFound,
		Type:      typeName,
		Member:    member,
		Signature: sig,
	}
}

// RemoteException creates an error for an exception raised on the remote side
func RemoteException(phase Phase, description string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRemoteException,
		Detail: description,
	}
}

// AttachFailed creates a thread attach error carrying the runtime status code
func AttachFailed(status int, detail string) *Error {
	return &Error{
		Phase:  PhaseAttach,
		Kind:   KindAttachFailed,
		Detail: detail,
		Value:  status,
	}
}

// VersionMismatch creates an error for an unsupported runtime interface version
func VersionMismatch(requested int32) *Error {
	return &Error{
		Phase:  PhaseAttach,
		Kind:   KindVersionMismatch,
		Detail: fmt.Sprintf("interface version %#x not supported", requested),
		Value:  requested,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// AlreadyInitialized creates an error for a repeated one-time setup
func AlreadyInitialized(component string) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindAlreadyInitialized,
		Detail: fmt.Sprintf("%s already initialized", component),
	}
}

// NilReference creates an error for a required reference that came back null
func NilReference(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilReference,
		Detail: fmt.Sprintf("%s is null", what),
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

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length, capacity int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("region [%d, %d) out of bounds (length %d)", offset, offset+length, capacity),
		Value:  offset,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
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
