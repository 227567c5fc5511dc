package managed

import (
	"context"
	"fmt"
)

// Ref is an opaque reference to an object living in the managed runtime.
// The zero Ref is the null reference. Local refs are only valid on the
// thread that created them and die when that thread detaches; global refs
// live until DeleteGlobalRef.
type Ref uint64

// Null is the null reference.
const Null Ref = 0

// MethodID identifies a resolved method. IDs stay valid for the lifetime of
// the runtime and may be shared between threads.
type MethodID uint64

// FieldID identifies a resolved static field.
type FieldID uint64

// Version is the runtime interface version requested by a caller.
type Version int32

// Version1_6 is the interface version the bridge is written against.
const Version1_6 Version = 0x00010006

// Constructor is the method name under which constructors are resolved.
const Constructor = "<init>"

// Built-in class names every runtime resolves.
const (
	StringClass    = "java/lang/String"
	ByteArrayClass = "[B"
	ClassClass     = "java/lang/Class"
)

// Status is the result code of thread attach operations.
type Status int

const (
	StatusOK       Status = 0
	StatusError    Status = -1
	StatusDetached Status = -2
	StatusVersion  Status = -3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusDetached:
		return "detached"
	case StatusVersion:
		return "version"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// VM is the process-wide managed runtime. Implementations must be safe for
// concurrent use; each OS thread gets its own Env.
type VM interface {
	// Env returns the calling thread's Env if it is attached.
	// StatusDetached means the thread is unknown to the runtime and
	// StatusVersion means version is not supported.
	Env(ctx context.Context, version Version) (Env, Status)

	// AttachCurrentThread attaches the calling thread, or returns its
	// existing Env when already attached.
	AttachCurrentThread(ctx context.Context) (Env, Status)

	// DetachCurrentThread releases the calling thread's Env and every local
	// ref it holds. Detaching a thread that is not attached is a no-op.
	DetachCurrentThread(ctx context.Context) Status
}

// Env is a per-thread execution context. Failures inside an Env never
// surface as Go errors: they leave a pending exception that callers must
// poll with ExceptionCheck. While an exception is pending every call other
// than the Exception* family is a no-op returning zero values.
type Env interface {
	VM() VM

	FindClass(name string) Ref
	ObjectClass(obj Ref) Ref
	MethodID(cls Ref, name, sig string) MethodID
	StaticMethodID(cls Ref, name, sig string) MethodID
	StaticFieldID(cls Ref, name, sig string) FieldID

	CallObjectMethod(obj Ref, m MethodID, args ...Ref) Ref
	CallIntMethod(obj Ref, m MethodID, args ...Ref) int32
	CallVoidMethod(obj Ref, m MethodID, args ...Ref)
	CallStaticObjectMethod(cls Ref, m MethodID, args ...Ref) Ref
	NewObject(cls Ref, ctor MethodID, args ...Ref) Ref
	StaticIntField(cls Ref, f FieldID) int32

	NewByteArray(length int) Ref
	SetByteArrayRegion(arr Ref, offset int, data []byte)
	NewString(s string) Ref

	NewGlobalRef(obj Ref) Ref
	DeleteGlobalRef(obj Ref)
	DeleteLocalRef(obj Ref)

	ExceptionCheck() bool
	// ExceptionDescribe returns a human-readable description of the pending
	// exception, or "" when none is pending. It does not clear it.
	ExceptionDescribe() string
	ExceptionClear()
}
