package sink

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/clearcut-bridge/contract"
)

// Types of the application objects the service hands out besides the
// contract's own.
const (
	EntryPointType = "android/app/Activity"
	ContextType    = "android/content/Context"
)

// Config holds the service's reported state.
type Config struct {
	// Status is what the availability check reports; 0 means available.
	Status int32 `yaml:"status"`

	// VersionCode is the value of the static version field.
	VersionCode int32 `yaml:"version_code"`

	// MemoryLimitPages caps guest memory for the wasm runtime.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// DefaultConfig returns an available service.
func DefaultConfig() Config {
	return Config{
		VersionCode:      12451000,
		MemoryLimitPages: 16,
	}
}

// Event is one submitted log event as the service received it.
type Event struct {
	Time      time.Time
	Source    string
	Payload   []byte
	Thread    int64
	Anonymous bool
}

// Receiver accepts delivered events. An error is raised inside the runtime
// as an exception from the submit call.
type Receiver interface {
	Deliver(ev Event) error
}

// Recorder is a Receiver that keeps every event in memory.
// It is safe for concurrent use.
type Recorder struct {
	fail   error
	events []Event
	mu     sync.Mutex
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Deliver(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, ev)
	return nil
}

// Fail makes every later delivery return err. nil restores delivery.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

// Events returns a copy of the recorded events in delivery order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Contains reports whether an event with exactly payload was recorded.
func (r *Recorder) Contains(payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if bytes.Equal(ev.Payload, payload) {
			return true
		}
	}
	return false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.fail = nil
}

// Service is the logging service a runtime hosts. One Service can back
// several runtimes; loggers it opens are shared between them.
type Service struct {
	recv     Receiver
	loggers  map[uint32]loggerEntry
	contract contract.Contract
	cfg      Config
	nextID   uint32
	mu       sync.Mutex
	status   atomic.Int32
}

type loggerEntry struct {
	source    string
	anonymous bool
}

// NewService creates a service delivering to recv.
func NewService(c contract.Contract, cfg Config, recv Receiver) *Service {
	s := &Service{
		recv:     recv,
		loggers:  make(map[uint32]loggerEntry),
		contract: c.WithDefaults(),
		cfg:      cfg,
	}
	s.status.Store(cfg.Status)
	return s
}

// SetStatus changes what the availability check reports.
func (s *Service) SetStatus(status int32) {
	s.status.Store(status)
}

func (s *Service) Status() int32 {
	return s.status.Load()
}

func (s *Service) Contract() contract.Contract {
	return s.contract
}

func (s *Service) open(source string, anonymous bool) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := loggerBase | s.nextID
	s.loggers[id] = loggerEntry{source: source, anonymous: anonymous}
	Logger().Debug("logger opened", zap.String("source", source), zap.Bool("anonymous", anonymous), zap.Uint32("id", id))
	return id
}

func (s *Service) lookup(id uint32) (loggerEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loggers[id]
	return l, ok
}

// deliver copies payload and hands the event to the receiver.
func (s *Service) deliver(l loggerEntry, payload []byte, thread int64) error {
	ev := Event{
		Time:      time.Now(),
		Source:    l.source,
		Anonymous: l.anonymous,
		Payload:   bytes.Clone(payload),
		Thread:    thread,
	}
	if ev.Payload == nil {
		ev.Payload = []byte{}
	}
	if err := s.recv.Deliver(ev); err != nil {
		Logger().Debug("delivery rejected", zap.String("source", l.source), zap.Error(err))
		return err
	}
	Logger().Debug("event delivered", zap.String("source", l.source), zap.Int("bytes", len(payload)), zap.Int64("thread", thread))
	return nil
}
