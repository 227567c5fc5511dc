package bridge

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/clearcut-bridge/errors"
	"github.com/wippyai/clearcut-bridge/managed"
)

// LogTag names the bridge's logger.
const LogTag = "TuningFork.Clearcut"

const tracerName = "github.com/wippyai/clearcut-bridge/bridge"

type state int32

const (
	stateUninitialized state = iota
	stateReady
	stateFailed
)

// Bridge delivers serialized events to the platform logging service through
// a managed runtime. Init must succeed once before Process does anything;
// after that Process is safe for concurrent use from any number of threads.
type Bridge struct {
	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer

	// set once by a successful Init, read-only afterwards
	vm       managed.VM
	cfg      Config
	logger   managed.Ref
	newEvent managed.MethodID
	submit   managed.MethodID

	initMu sync.Mutex
	state  atomic.Int32
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger; the bridge logs under LogTag below it.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l.Named(LogTag)
		}
	}
}

// WithMetrics sets the collectors events and inits are recorded on.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithTracerProvider sets the provider Process spans come from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) {
		if tp != nil {
			b.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates an uninitialized bridge. Empty config fields take their
// defaults.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:    cfg,
		log:    Logger().Named(LogTag),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(nil)
	}
	if err := b.metrics.Register(); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "register metrics")
	}
	return b, nil
}

// Config returns the effective configuration.
func (b *Bridge) Config() Config {
	return b.cfg
}

// Ready reports whether Init succeeded.
func (b *Bridge) Ready() bool {
	return state(b.state.Load()) == stateReady
}

// Init resolves the remote logger through env, whose thread must be
// attached, and the application entry point. It runs once: later calls
// return the outcome of the first without touching the runtime.
func (b *Bridge) Init(env managed.Env, entryPoint managed.Ref) bool {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	switch state(b.state.Load()) {
	case stateReady:
		b.log.Debug("init skipped", zap.Error(errors.AlreadyInitialized("clearcut bridge")))
		return true
	case stateFailed:
		b.log.Debug("init skipped after earlier failure")
		return false
	}

	b.log.Info("Start searching for clearcut...")
	err := b.init(env, entryPoint)
	b.metrics.recordInit(err)
	if err != nil {
		b.state.Store(int32(stateFailed))
		b.log.Warn("clearcut init failed", zap.Error(err))
		b.log.Info("Clearcut status: not available")
		return false
	}

	b.state.Store(int32(stateReady))
	b.log.Info("Clearcut is successfully found.")
	b.log.Info("Clearcut status: available")
	return true
}

// CapabilityCheck reports whether the logging service is available to the
// application behind appContext. Exceptions raised by the probe are logged
// and cleared.
func (b *Bridge) CapabilityCheck(env managed.Env, appContext managed.Ref) bool {
	if env == nil {
		return false
	}
	scope := newLocalScope(env)
	defer scope.release()

	err := b.capability(env, scope, appContext)
	if err != nil {
		b.log.Debug("capability check failed", zap.Error(err))
	}
	return err == nil
}

// GetFidelityParams does not fetch anything; it reports success and leaves
// out untouched.
func (b *Bridge) GetFidelityParams(out *[]byte, timeout time.Duration) bool {
	return true
}

// Close deletes the global logger reference. The bridge is unusable
// afterwards; callers must not Close while Process calls are in flight.
func (b *Bridge) Close(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	b.initMu.Lock()
	defer b.initMu.Unlock()

	if state(b.state.Load()) != stateReady {
		b.state.Store(int32(stateFailed))
		return nil
	}
	b.state.Store(int32(stateFailed))

	env, release, err := b.acquire(pinThread(ctx))
	if err != nil {
		return err
	}
	defer release()

	env.DeleteGlobalRef(b.logger)
	b.logger = managed.Null
	b.log.Debug("bridge closed")
	return nil
}
