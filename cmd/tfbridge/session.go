package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/clearcut-bridge/bridge"
	"github.com/wippyai/clearcut-bridge/config"
	"github.com/wippyai/clearcut-bridge/managed"
	"github.com/wippyai/clearcut-bridge/memvm"
	"github.com/wippyai/clearcut-bridge/sink"
)

const (
	runtimeWasm = "wasm"
	runtimeMem  = "mem"
)

// mainThread is the thread identity Init runs under.
const mainThread = 1

// session is a runtime hosting the logging service plus an initialized
// bridge talking to it.
type session struct {
	vm      managed.VM
	bridge  *bridge.Bridge
	rec     *sink.Recorder
	svc     *sink.Service
	closeVM func(context.Context) error
	runtime string
	sent    atomic.Int64
	dropped atomic.Int64
	ready   bool
}

func startSession(ctx context.Context, cfg *config.Config, runtime string, log *zap.Logger) (*session, error) {
	s := &session{
		rec:     sink.NewRecorder(),
		runtime: runtime,
	}
	s.svc = sink.NewService(cfg.Bridge.Contract, cfg.Sink, s.rec)

	var entry managed.Ref
	switch runtime {
	case runtimeMem:
		vm := memvm.New()
		entry = s.svc.InstallMem(vm)
		s.vm = vm
		s.closeVM = func(context.Context) error { return nil }
	case runtimeWasm:
		vm, e, err := s.svc.StartWasm(ctx, nil)
		if err != nil {
			return nil, err
		}
		entry = e
		s.vm = vm
		s.closeVM = vm.Close
	default:
		return nil, fmt.Errorf("unknown runtime %q", runtime)
	}

	b, err := bridge.New(cfg.Bridge, bridge.WithLogger(log))
	if err != nil {
		_ = s.closeVM(ctx)
		return nil, err
	}
	s.bridge = b

	mainCtx := managed.WithThread(ctx, mainThread)
	env, status := s.vm.AttachCurrentThread(mainCtx)
	if status != managed.StatusOK {
		_ = s.closeVM(ctx)
		return nil, fmt.Errorf("attach main thread: %s", status)
	}
	s.ready = b.Init(env, entry)
	return s, nil
}

func (s *session) send(ctx context.Context, payload []byte) bool {
	if s.bridge.Process(ctx, payload) {
		s.sent.Add(1)
		return true
	}
	s.dropped.Add(1)
	return false
}

func (s *session) failed() int {
	return int(s.dropped.Load())
}

func (s *session) close(ctx context.Context) {
	mainCtx := managed.WithThread(ctx, mainThread)
	_ = s.bridge.Close(mainCtx)
	s.vm.DetachCurrentThread(mainCtx)
	_ = s.closeVM(ctx)
}

func (s *session) summary(w io.Writer) {
	fmt.Fprintf(w, "Runtime: %s\n", s.runtime)
	fmt.Fprintf(w, "Construction: %s\n", s.bridge.Config().Construction)
	fmt.Fprintf(w, "Sent: %d, dropped: %d, delivered: %d\n", s.sent.Load(), s.dropped.Load(), s.rec.Len())
	for i, ev := range s.rec.Events() {
		fmt.Fprintf(w, "  #%d %s %d bytes %s\n", i+1, ev.Source, len(ev.Payload), preview(ev.Payload))
	}
}

// preview renders the first bytes of a payload as hex.
func preview(p []byte) string {
	const limit = 16
	if len(p) <= limit {
		return fmt.Sprintf("%x", p)
	}
	return fmt.Sprintf("%x...", p[:limit])
}
