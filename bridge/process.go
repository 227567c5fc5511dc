package bridge

import (
	"context"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wippyai/clearcut-bridge/errors"
	"github.com/wippyai/clearcut-bridge/managed"
)

// Process submits payload as one event. The bytes are copied into the
// runtime before the call returns, so the caller may reuse the slice. It
// reports false on any failure and never panics; details are logged.
//
// The calling goroutine is pinned to its OS thread for the duration of the
// call. A thread the call attaches is detached again before returning.
func (b *Bridge) Process(ctx context.Context, payload []byte) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := b.tracer.Start(ctx, "clearcut.process")
	defer span.End()
	span.SetAttributes(attribute.Int("clearcut.payload_bytes", len(payload)))

	err := b.process(ctx, payload)
	b.metrics.recordEvent(len(payload), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event not delivered")
		return false
	}
	return true
}

func (b *Bridge) process(ctx context.Context, payload []byte) error {
	if state(b.state.Load()) != stateReady {
		err := errors.NotInitialized(errors.PhaseInvoke, "clearcut bridge")
		b.log.Warn("process called before successful init", zap.Error(err))
		return err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	env, release, err := b.acquire(pinThread(ctx))
	if err != nil {
		return err
	}
	defer release()

	arr := env.NewByteArray(len(payload))
	if err := b.checkException(env, errors.PhaseMarshal, "byte array", ""); err != nil {
		return err
	}
	if arr == managed.Null {
		return errors.NilReference(errors.PhaseMarshal, "event buffer")
	}
	defer env.DeleteLocalRef(arr)

	env.SetByteArrayRegion(arr, 0, payload)
	if err := b.checkException(env, errors.PhaseMarshal, "byte array", ""); err != nil {
		return err
	}

	c := b.cfg.Contract
	builder := env.CallObjectMethod(b.logger, b.newEvent, arr)
	if builder != managed.Null {
		defer env.DeleteLocalRef(builder)
	}
	if err := b.checkException(env, errors.PhaseInvoke, c.LoggerType, c.NewEvent.Name); err != nil {
		return err
	}
	if builder == managed.Null {
		return errors.NilReference(errors.PhaseInvoke, "event builder")
	}

	env.CallVoidMethod(builder, b.submit)
	if err := b.checkException(env, errors.PhaseInvoke, c.BuilderType, c.Submit.Name); err != nil {
		return err
	}

	b.log.Info("Message was sent to clearcut", zap.Int("bytes", len(payload)))
	return nil
}

// acquire returns an Env for the calling thread, attaching it if needed.
// The release func detaches according to the detach policy and must run
// on the same OS thread.
func (b *Bridge) acquire(ctx context.Context) (managed.Env, func(), error) {
	env, status := b.vm.Env(ctx, managed.Version1_6)
	attached := false

	switch status {
	case managed.StatusOK:
		if env == nil {
			b.log.Warn("JNIEnv is not OK, status", zap.Stringer("status", status))
			return nil, nil, errors.AttachFailed(int(status), "get env")
		}
	case managed.StatusVersion:
		b.log.Warn("JNI Version is not supported, status", zap.Stringer("status", status))
		return nil, nil, errors.VersionMismatch(int32(managed.Version1_6))
	case managed.StatusDetached:
		env, status = b.vm.AttachCurrentThread(ctx)
		if status != managed.StatusOK || env == nil {
			b.log.Warn("Thread is not attached, status", zap.Stringer("status", status))
			return nil, nil, errors.AttachFailed(int(status), "attach current thread")
		}
		attached = true
	default:
		b.log.Warn("JNIEnv is not OK, status", zap.Stringer("status", status))
		return nil, nil, errors.AttachFailed(int(status), "get env")
	}

	release := func() {
		if !attached && b.cfg.DetachPolicy != DetachAlways {
			return
		}
		if st := b.vm.DetachCurrentThread(ctx); st != managed.StatusOK {
			b.log.Debug("detach failed", zap.Stringer("status", st))
		}
	}
	return env, release, nil
}

// unknownThreads hands out identities to calls whose OS thread has none.
// They are negative so they never collide with kernel thread ids.
var unknownThreads atomic.Int64

// pinThread gives ctx an identity unique to this call when the calling
// thread reports none. The goroutine must stay locked to its thread until
// the call's attachment is released.
func pinThread(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if managed.ThreadID(ctx) != 0 {
		return ctx
	}
	return managed.WithThread(ctx, -unknownThreads.Add(1))
}
