package bridge

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/clearcut-bridge/contract"
	"github.com/wippyai/clearcut-bridge/managed"
	"github.com/wippyai/clearcut-bridge/memvm"
	"github.com/wippyai/clearcut-bridge/sink"
)

// mainThread is the thread Init runs on. It stays attached, like an
// application's main thread.
const mainThread = 100

type harness struct {
	vm      *memvm.VM
	svc     *sink.Service
	rec     *sink.Recorder
	bridge  *Bridge
	env     managed.Env
	logs    *observer.ObservedLogs
	metrics *Metrics
	spans   *tracetest.SpanRecorder
	entry   managed.Ref
}

func newHarness(t *testing.T, cfg Config, svcCfg sink.Config, opts ...memvm.Option) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	b, err := New(cfg, WithLogger(zap.New(core)), WithMetrics(metrics), WithTracerProvider(tp))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := sink.NewRecorder()
	svc := sink.NewService(contract.Default(), svcCfg, rec)
	vm := memvm.New(opts...)
	entry := svc.InstallMem(vm)

	env, status := vm.AttachCurrentThread(threadCtx(mainThread))
	if status != managed.StatusOK {
		t.Fatalf("attach main thread: %v", status)
	}

	return &harness{
		vm:      vm,
		svc:     svc,
		rec:     rec,
		bridge:  b,
		env:     env,
		logs:    logs,
		metrics: metrics,
		spans:   spans,
		entry:   entry,
	}
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	if !h.bridge.Init(h.env, h.entry) {
		t.Fatalf("Init failed: %v", h.logs.FilterMessage("clearcut init failed").All())
	}
}

func (h *harness) logged(msg string) int {
	return h.logs.FilterMessage(msg).Len()
}

func threadCtx(thread int64) context.Context {
	return managed.WithThread(context.Background(), thread)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown construction", Config{Construction: "reflective"}},
		{"unknown detach policy", Config{DetachPolicy: "never"}},
		{"dotted type name", Config{Contract: contract.Contract{LoggerType: "com.google.ClearcutLogger"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, WithMetrics(NewMetrics(prometheus.NewRegistry()))); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBridge_ProcessDeliversExactBytes(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"nil", nil},
		{"single zero", []byte{0x00}},
		{"binary", []byte{0x0A, 0x00, 0xFF}},
		{"counting", []byte{0x01, 0x02, 0x03}},
		{"large", bytes.Repeat([]byte{0x5A, 0x00}, 32*1024)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := bytes.Clone(tt.payload)
			if !h.bridge.Process(threadCtx(int64(i+1)), sent) {
				t.Fatal("Process returned false")
			}
			for j := range sent {
				sent[j] = 0xEE
			}

			ev, ok := h.rec.Last()
			if !ok {
				t.Fatal("nothing delivered")
			}
			if !bytes.Equal(ev.Payload, tt.payload) || len(ev.Payload) != len(tt.payload) {
				t.Fatalf("delivered %x, want %x", ev.Payload, tt.payload)
			}
			if ev.Source != contract.LogSource || ev.Anonymous {
				t.Fatalf("event source %q anonymous %v", ev.Source, ev.Anonymous)
			}
			if ev.Thread != int64(i+1) {
				t.Fatalf("event thread %d, want %d", ev.Thread, i+1)
			}
		})
	}

	if got := h.rec.Len(); got != len(tests) {
		t.Fatalf("delivered %d events, want %d", got, len(tests))
	}
	if got := h.logged("Message was sent to clearcut"); got != len(tests) {
		t.Fatalf("sent log lines = %d", got)
	}
	if got := testutil.ToFloat64(h.metrics.eventsTotal.WithLabelValues(resultOK)); got != float64(len(tests)) {
		t.Fatalf("events_total{ok} = %v", got)
	}
}

func TestBridge_InitLogsAndState(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	if h.bridge.Ready() {
		t.Fatal("ready before Init")
	}
	h.init(t)

	for _, msg := range []string{
		"Start searching for clearcut...",
		"Google Play Services status",
		"Clearcut is successfully found.",
		"Clearcut status: available",
	} {
		if h.logged(msg) != 1 {
			t.Errorf("missing log %q", msg)
		}
	}
	if h.logged("Google Play Services version") != 0 {
		t.Error("version logged although the service is available")
	}
	if !h.bridge.Ready() {
		t.Fatal("not ready after Init")
	}
	if n := h.vm.LocalRefs(mainThread); n != 0 {
		t.Fatalf("Init leaked %d local refs", n)
	}
	if n := h.vm.GlobalRefs(); n != 2 {
		t.Fatalf("GlobalRefs = %d, want entry point and logger", n)
	}
	if got := testutil.ToFloat64(h.metrics.initTotal.WithLabelValues(resultOK)); got != 1 {
		t.Fatalf("init_total{ok} = %v", got)
	}
}

func TestBridge_UnavailableSkipsConstruction(t *testing.T) {
	svcCfg := sink.DefaultConfig()
	svcCfg.Status = 2
	svcCfg.VersionCode = 777
	h := newHarness(t, Config{}, svcCfg)

	c := contract.Default()
	h.vm.Class(c.LoggerType).
		Constructor(c.Constructor.Signature, func(*memvm.Call) (any, error) {
			t.Error("logger constructed although the service is unavailable")
			return nil, nil
		})

	if h.bridge.Init(h.env, h.entry) {
		t.Fatal("Init succeeded with an unavailable service")
	}

	version := h.logs.FilterMessage("Google Play Services version").All()
	if len(version) != 1 || version[0].ContextMap()["version"] != int32(777) {
		t.Fatalf("version log = %v", version)
	}
	status := h.logs.FilterMessage("Google Play Services status").All()
	if len(status) != 1 || status[0].ContextMap()["status"] != int32(2) {
		t.Fatalf("status log = %v", status)
	}
	if h.logged("Google Play Service is not available") != 1 || h.logged("Clearcut status: not available") != 1 {
		t.Fatal("unavailability not logged")
	}
	if n := h.vm.GlobalRefs(); n != 1 {
		t.Fatalf("GlobalRefs = %d, want only the entry point", n)
	}
	if got := testutil.ToFloat64(h.metrics.initTotal.WithLabelValues("capability_unavailable")); got != 1 {
		t.Fatalf("init_total{capability_unavailable} = %v", got)
	}

	if h.bridge.Process(threadCtx(1), []byte("x")) {
		t.Fatal("Process succeeded after failed Init")
	}
	if h.rec.Len() != 0 {
		t.Fatal("event delivered after failed Init")
	}
}

func TestBridge_InitResolutionFailures(t *testing.T) {
	c := contract.Default()
	tests := []struct {
		name   string
		mutate func(vm *memvm.VM)
	}{
		{"availability type", func(vm *memvm.VM) { vm.Undefine(c.AvailabilityType) }},
		{"getInstance", func(vm *memvm.VM) { vm.Class(c.AvailabilityType).Remove(c.GetInstance.Name) }},
		{"isAvailable", func(vm *memvm.VM) { vm.Class(c.AvailabilityType).Remove(c.IsAvailable.Name) }},
		{"context getter", func(vm *memvm.VM) { vm.Class(sink.EntryPointType).Remove(c.ContextGetter.Name) }},
		{"logger type", func(vm *memvm.VM) { vm.Undefine(c.LoggerType) }},
		{"string type", func(vm *memvm.VM) { vm.Undefine(c.StringType) }},
		{"builder type", func(vm *memvm.VM) { vm.Undefine(c.BuilderType) }},
		{"log", func(vm *memvm.VM) { vm.Class(c.BuilderType).Remove(c.Submit.Name) }},
		{"newEvent", func(vm *memvm.VM) { vm.Class(c.LoggerType).Remove(c.NewEvent.Name) }},
		{"anonymous factory", func(vm *memvm.VM) { vm.Class(c.LoggerType).Remove(c.AnonymousFactory.Name) }},
		{"constructor", func(vm *memvm.VM) { vm.Class(c.LoggerType).Remove(c.Constructor.Name) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, sink.DefaultConfig())
			tt.mutate(h.vm)

			if h.bridge.Init(h.env, h.entry) {
				t.Fatal("Init succeeded")
			}
			if h.env.ExceptionCheck() {
				t.Fatalf("exception left pending: %s", h.env.ExceptionDescribe())
			}
			if n := h.vm.GlobalRefs(); n != 1 {
				t.Fatalf("GlobalRefs = %d, want only the entry point", n)
			}
			if n := h.vm.LocalRefs(mainThread); n != 0 {
				t.Fatalf("failed Init leaked %d local refs", n)
			}
			if got := testutil.ToFloat64(h.metrics.initTotal.WithLabelValues("not_found")); got != 1 {
				t.Fatalf("init_total{not_found} = %v", got)
			}
			if h.bridge.Process(threadCtx(1), []byte("x")) || h.rec.Len() != 0 {
				t.Fatal("event delivered after failed Init")
			}
		})
	}
}

func TestBridge_InitRemoteFailures(t *testing.T) {
	c := contract.Default()
	tests := []struct {
		name   string
		mutate func(vm *memvm.VM)
		kind   string
	}{
		{
			name: "constructor throws",
			mutate: func(vm *memvm.VM) {
				vm.Class(c.LoggerType).Constructor(c.Constructor.Signature, func(*memvm.Call) (any, error) {
					return nil, managed.Throw(managed.ErrIllegalArgument, "bad account")
				})
			},
			kind: "remote_exception",
		},
		{
			name: "availability throws",
			mutate: func(vm *memvm.VM) {
				vm.Class(c.AvailabilityType).Method(c.IsAvailable.Name, c.IsAvailable.Signature, func(*memvm.Call) (any, error) {
					return nil, stderrors.New("play services crashed")
				})
			},
			kind: "remote_exception",
		},
		{
			name: "null context",
			mutate: func(vm *memvm.VM) {
				vm.Class(sink.EntryPointType).Method(c.ContextGetter.Name, c.ContextGetter.Signature, func(*memvm.Call) (any, error) {
					return nil, nil
				})
			},
			kind: "nil_reference",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, sink.DefaultConfig())
			tt.mutate(h.vm)

			if h.bridge.Init(h.env, h.entry) {
				t.Fatal("Init succeeded")
			}
			if h.env.ExceptionCheck() {
				t.Fatalf("exception left pending: %s", h.env.ExceptionDescribe())
			}
			if got := testutil.ToFloat64(h.metrics.initTotal.WithLabelValues(tt.kind)); got != 1 {
				t.Fatalf("init_total{%s} = %v", tt.kind, got)
			}
		})
	}
}

func TestBridge_InitNilArguments(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	if h.bridge.Init(nil, h.entry) {
		t.Fatal("Init succeeded with a nil env")
	}

	h = newHarness(t, Config{}, sink.DefaultConfig())
	if h.bridge.Init(h.env, managed.Null) {
		t.Fatal("Init succeeded with a null entry point")
	}
	if got := testutil.ToFloat64(h.metrics.initTotal.WithLabelValues("nil_reference")); got != 1 {
		t.Fatalf("init_total{nil_reference} = %v", got)
	}
}

func TestBridge_InitRunsOnce(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)
	h.init(t)

	if n := h.vm.GlobalRefs(); n != 2 {
		t.Fatalf("GlobalRefs = %d after second Init", n)
	}
	if h.logged("Start searching for clearcut...") != 1 {
		t.Fatal("second Init searched again")
	}

	svcCfg := sink.DefaultConfig()
	svcCfg.Status = 1
	failed := newHarness(t, Config{}, svcCfg)
	if failed.bridge.Init(failed.env, failed.entry) {
		t.Fatal("Init succeeded with an unavailable service")
	}
	failed.svc.SetStatus(0)
	if failed.bridge.Init(failed.env, failed.entry) {
		t.Fatal("Init retried after an earlier failure")
	}
}

func TestBridge_ProcessBeforeInit(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())

	if h.bridge.Process(threadCtx(1), []byte("early")) {
		t.Fatal("Process succeeded before Init")
	}
	if h.rec.Len() != 0 {
		t.Fatal("event delivered before Init")
	}
	if attaches, _ := h.vm.Stats(); attaches != 1 {
		t.Fatalf("attaches = %d, want only the main thread", attaches)
	}
	if got := testutil.ToFloat64(h.metrics.eventsTotal.WithLabelValues("not_initialized")); got != 1 {
		t.Fatalf("events_total{not_initialized} = %v", got)
	}
}

func TestBridge_ProcessRemoteException(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)

	h.rec.Fail(stderrors.New("quota 100% exceeded"))
	if h.bridge.Process(threadCtx(3), []byte("dropped")) {
		t.Fatal("Process succeeded although log raised")
	}
	if h.vm.IsAttached(3) {
		t.Fatal("thread left attached after exception")
	}
	if h.logged("Message was sent to clearcut") != 0 {
		t.Fatal("failed submission logged as sent")
	}
	entries := h.logs.FilterMessage("remote exception").All()
	if len(entries) != 1 || entries[0].ContextMap()["member"] != contract.Default().Submit.Name {
		t.Fatalf("remote exception log = %v", entries)
	}

	h.rec.Fail(nil)
	if !h.bridge.Process(threadCtx(3), []byte("kept")) {
		t.Fatal("Process failed after recovery")
	}
	if h.rec.Len() != 1 || !h.rec.Contains([]byte("kept")) {
		t.Fatalf("recorded %d events", h.rec.Len())
	}
	if got := testutil.ToFloat64(h.metrics.eventsTotal.WithLabelValues("remote_exception")); got != 1 {
		t.Fatalf("events_total{remote_exception} = %v", got)
	}

	var (
		failed  int
		message string
	)
	for _, span := range h.spans.Ended() {
		if span.Name() != "clearcut.process" {
			t.Fatalf("span %q", span.Name())
		}
		if span.Status().Code == codes.Error {
			failed++
		}
		for _, ev := range span.Events() {
			for _, kv := range ev.Attributes {
				if kv.Key == "exception.message" {
					message = kv.Value.AsString()
				}
			}
		}
	}
	if !strings.Contains(message, "quota 100% exceeded") {
		t.Fatalf("recorded error %q lost the exception description", message)
	}
	if len(h.spans.Ended()) != 2 || failed != 1 {
		t.Fatalf("spans = %d, failed %d", len(h.spans.Ended()), failed)
	}
}

func TestBridge_ProcessAttachFailure(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)

	h.vm.FailAttach(5, managed.StatusError)
	if h.bridge.Process(threadCtx(5), []byte("x")) {
		t.Fatal("Process succeeded without an attached thread")
	}
	if h.rec.Len() != 0 {
		t.Fatal("event delivered without an attached thread")
	}
	if h.logged("Thread is not attached, status") != 1 {
		t.Fatal("attach failure not logged")
	}
	if got := testutil.ToFloat64(h.metrics.attachFailuresTotal); got != 1 {
		t.Fatalf("attach_failures_total = %v", got)
	}

	h.vm.FailAttach(5, managed.StatusOK)
	if !h.bridge.Process(threadCtx(5), []byte("x")) {
		t.Fatal("Process failed after the fault cleared")
	}
}

func TestBridge_ProcessVersionMismatch(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig(), memvm.WithMaxVersion(0x00010004))
	h.init(t)

	if h.bridge.Process(threadCtx(mainThread), []byte("x")) {
		t.Fatal("Process succeeded on an unsupported interface version")
	}
	if attaches, _ := h.vm.Stats(); attaches != 1 {
		t.Fatalf("attaches = %d, version mismatch must not attach", attaches)
	}
	if h.logged("JNI Version is not supported, status") != 1 {
		t.Fatal("version mismatch not logged")
	}
	if got := testutil.ToFloat64(h.metrics.eventsTotal.WithLabelValues("version_mismatch")); got != 1 {
		t.Fatalf("events_total{version_mismatch} = %v", got)
	}
}

func TestBridge_DetachPolicy(t *testing.T) {
	tests := []struct {
		policy      DetachPolicy
		preattached bool
		attached    bool
	}{
		{DetachOwned, false, false},
		{DetachOwned, true, true},
		{DetachAlways, false, false},
		{DetachAlways, true, false},
	}
	for _, tt := range tests {
		name := string(tt.policy)
		if tt.preattached {
			name += "/preattached"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Config{DetachPolicy: tt.policy}, sink.DefaultConfig())
			h.init(t)

			ctx := threadCtx(9)
			if tt.preattached {
				if _, status := h.vm.AttachCurrentThread(ctx); status != managed.StatusOK {
					t.Fatalf("attach: %v", status)
				}
			}
			if !h.bridge.Process(ctx, []byte("x")) {
				t.Fatal("Process failed")
			}
			if got := h.vm.IsAttached(9); got != tt.attached {
				t.Fatalf("attached after Process = %v, want %v", got, tt.attached)
			}
			if n := h.vm.LocalRefs(9); n != 0 {
				t.Fatalf("Process leaked %d local refs", n)
			}
		})
	}
}

func TestBridge_ConcurrentProcess(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)

	logger, newEvent, submit := h.bridge.logger, h.bridge.newEvent, h.bridge.submit

	// a thread that can never attach runs alongside the healthy ones
	const broken = 99
	h.vm.FailAttach(broken, managed.StatusError)

	const threads, perThread = 16, 50
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < perThread; j++ {
			if h.bridge.Process(threadCtx(broken), []byte{broken, byte(j)}) {
				t.Errorf("event %d succeeded on a thread that cannot attach", j)
			}
		}
	}()
	for i := 1; i <= threads; i++ {
		wg.Add(1)
		go func(thread int64) {
			defer wg.Done()
			ctx := threadCtx(thread)
			for j := 0; j < perThread; j++ {
				if !h.bridge.Process(ctx, []byte{byte(thread), byte(j)}) {
					t.Errorf("thread %d event %d failed", thread, j)
				}
			}
		}(int64(i))
	}
	wg.Wait()

	if got := h.rec.Len(); got != threads*perThread {
		t.Fatalf("delivered %d events, want %d", got, threads*perThread)
	}
	for _, ev := range h.rec.Events() {
		if int64(ev.Payload[0]) != ev.Thread {
			t.Fatalf("event %x delivered on thread %d", ev.Payload, ev.Thread)
		}
	}
	for i := int64(1); i <= threads; i++ {
		if h.vm.IsAttached(i) {
			t.Fatalf("thread %d left attached", i)
		}
	}
	if h.rec.Contains([]byte{broken, 0}) {
		t.Fatal("event delivered from a thread that cannot attach")
	}
	if h.bridge.logger != logger || h.bridge.newEvent != newEvent || h.bridge.submit != submit {
		t.Fatal("handles changed by Process")
	}
	if n := h.vm.GlobalRefs(); n != 2 {
		t.Fatalf("GlobalRefs = %d", n)
	}
}

func TestBridge_ConcurrentProcessUnknownThread(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker byte) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if !h.bridge.Process(threadCtx(0), []byte{worker, byte(j)}) {
					t.Errorf("worker %d event %d failed", worker, j)
				}
			}
		}(byte(i))
	}
	wg.Wait()

	if got := h.rec.Len(); got != workers*perWorker {
		t.Fatalf("delivered %d events, want %d", got, workers*perWorker)
	}
	seen := make(map[int64]bool)
	for _, ev := range h.rec.Events() {
		if ev.Thread >= 0 {
			t.Fatalf("event delivered on thread %d, want a per-call identity", ev.Thread)
		}
		if seen[ev.Thread] {
			t.Fatalf("thread identity %d used by two calls", ev.Thread)
		}
		seen[ev.Thread] = true
		if h.vm.IsAttached(ev.Thread) {
			t.Fatalf("thread %d left attached", ev.Thread)
		}
	}
	if h.vm.IsAttached(0) {
		t.Fatal("unknown thread identity attached")
	}
}

func TestBridge_ConcurrentProcessOSThreads(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker byte) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if !h.bridge.Process(context.Background(), []byte{worker, byte(j)}) {
					t.Errorf("worker %d event %d failed", worker, j)
				}
			}
		}(byte(i))
	}
	wg.Wait()

	if got := h.rec.Len(); got != workers*perWorker {
		t.Fatalf("delivered %d events, want %d", got, workers*perWorker)
	}
	for _, ev := range h.rec.Events() {
		if ev.Thread == 0 || ev.Thread == mainThread {
			t.Fatalf("event delivered on thread %d", ev.Thread)
		}
		if h.vm.IsAttached(ev.Thread) {
			t.Fatalf("thread %d left attached", ev.Thread)
		}
	}
}

// nilEnvVM reports success without handing out an Env.
type nilEnvVM struct {
	managed.VM
}

func (nilEnvVM) Env(context.Context, managed.Version) (managed.Env, managed.Status) {
	return nil, managed.StatusOK
}

func TestBridge_ProcessNilEnv(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)
	h.bridge.vm = nilEnvVM{h.vm}

	if h.bridge.Process(threadCtx(mainThread), []byte("x")) {
		t.Fatal("Process succeeded without an Env")
	}
	if h.rec.Len() != 0 {
		t.Fatal("event delivered without an Env")
	}
	if h.logged("JNIEnv is not OK, status") != 1 {
		t.Fatal("missing Env not logged")
	}
	if got := testutil.ToFloat64(h.metrics.eventsTotal.WithLabelValues("attach_failed")); got != 1 {
		t.Fatalf("events_total{attach_failed} = %v", got)
	}
}

func TestBridge_AnonymousConstruction(t *testing.T) {
	h := newHarness(t, Config{Construction: ConstructionAnonymous}, sink.DefaultConfig())

	c := contract.Default()
	h.vm.Class(c.LoggerType).
		Constructor(c.Constructor.Signature, func(*memvm.Call) (any, error) {
			t.Error("constructor used for anonymous construction")
			return nil, nil
		})
	h.init(t)

	if !h.bridge.Process(threadCtx(1), []byte("anon")) {
		t.Fatal("Process failed")
	}
	ev, _ := h.rec.Last()
	if !ev.Anonymous || ev.Source != contract.LogSource {
		t.Fatalf("event = %+v", ev)
	}
}

func TestBridge_CapabilityCheck(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	c := contract.Default()

	getter := h.env.MethodID(h.env.ObjectClass(h.entry), c.ContextGetter.Name, c.ContextGetter.Signature)
	appCtx := h.env.CallObjectMethod(h.entry, getter)

	if !h.bridge.CapabilityCheck(h.env, appCtx) {
		t.Fatal("available service reported unavailable")
	}
	h.svc.SetStatus(9)
	if h.bridge.CapabilityCheck(h.env, appCtx) {
		t.Fatal("status 9 reported available")
	}
	h.svc.SetStatus(0)
	if h.bridge.CapabilityCheck(h.env, managed.Null) {
		t.Fatal("null context reported available")
	}
	if h.env.ExceptionCheck() {
		t.Fatalf("exception left pending: %s", h.env.ExceptionDescribe())
	}
	if h.bridge.CapabilityCheck(nil, appCtx) {
		t.Fatal("nil env reported available")
	}
}

func TestBridge_GetFidelityParams(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())

	out := []byte{1, 2, 3}
	if !h.bridge.GetFidelityParams(&out, 0) {
		t.Fatal("GetFidelityParams returned false")
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("out = %v, want untouched", out)
	}
	if !h.bridge.GetFidelityParams(nil, 0) {
		t.Fatal("GetFidelityParams(nil) returned false")
	}
}

func TestBridge_Close(t *testing.T) {
	h := newHarness(t, Config{}, sink.DefaultConfig())
	h.init(t)

	if err := h.bridge.Close(threadCtx(mainThread)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := h.vm.GlobalRefs(); n != 1 {
		t.Fatalf("GlobalRefs = %d after Close", n)
	}
	if h.bridge.Ready() || h.bridge.Process(threadCtx(1), []byte("x")) {
		t.Fatal("bridge usable after Close")
	}
	if err := h.bridge.Close(threadCtx(mainThread)); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBridge_Wasm(t *testing.T) {
	ctx := context.Background()
	rec := sink.NewRecorder()
	svcCfg := sink.DefaultConfig()
	svcCfg.MemoryLimitPages = 8
	svc := sink.NewService(contract.Default(), svcCfg, rec)
	vm, entry, err := svc.StartWasm(ctx, nil)
	if err != nil {
		t.Fatalf("StartWasm: %v", err)
	}
	defer vm.Close(ctx)

	b, err := New(Config{}, WithMetrics(NewMetrics(prometheus.NewRegistry())))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env, status := vm.AttachCurrentThread(threadCtx(mainThread))
	if status != managed.StatusOK {
		t.Fatalf("attach: %v", status)
	}
	if !b.Init(env, entry) {
		t.Fatal("Init failed")
	}

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(thread int64) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if !b.Process(threadCtx(thread), bytes.Repeat([]byte{byte(thread)}, j)) {
					t.Errorf("thread %d event %d failed", thread, j)
				}
			}
		}(int64(i))
	}
	wg.Wait()

	if rec.Len() != 40 {
		t.Fatalf("delivered %d events, want 40", rec.Len())
	}
	if !rec.Contains([]byte{}) || !rec.Contains(bytes.Repeat([]byte{3}, 9)) {
		t.Fatal("payload altered in transit")
	}

	if b.Process(threadCtx(1), make([]byte, 1024*1024)) {
		t.Fatal("payload above the guest memory limit accepted")
	}
	if !b.Process(threadCtx(1), []byte("after")) {
		t.Fatal("Process failed after an oversized payload")
	}
	if n := vm.Allocations(); n != 0 {
		t.Fatalf("Allocations = %d, guest memory not reclaimed", n)
	}
}
