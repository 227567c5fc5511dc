// Package managed defines the contract between native Go callers and a
// managed runtime that hosts remote objects.
//
// A VM is process-wide. Every OS thread that wants to call into it must hold
// an Env, obtained with VM.Env when the thread is already attached or with
// VM.AttachCurrentThread otherwise, and give it back with
// VM.DetachCurrentThread:
//
//	env, status := vm.Env(ctx, managed.Version1_6)
//	if status == managed.StatusDetached {
//	    env, status = vm.AttachCurrentThread(ctx)
//	}
//	if status != managed.StatusOK {
//	    return
//	}
//	defer vm.DetachCurrentThread(ctx)
//
// Types, methods and fields are addressed by name and signature. Remote
// failures do not unwind the Go stack: they leave a pending exception on the
// Env that must be polled with ExceptionCheck after each call.
//
// Two runtimes implement the contract: memvm (classes written in Go) and
// wasmvm (classes exported by a WebAssembly guest).
package managed
