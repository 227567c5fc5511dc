package bridge

import (
	stderrors "errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/clearcut-bridge/errors"
)

// Result labels
const (
	resultOK    = "ok"
	resultError = "error"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	eventsTotal         *prometheus.CounterVec
	initTotal           *prometheus.CounterVec
	attachFailuresTotal prometheus.Counter
	payloadBytes        prometheus.Histogram

	registerer prometheus.Registerer
	mu         sync.Mutex
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tuningfork",
			Subsystem: "clearcut",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. A nil registerer means
// prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:  registerer,
		eventsTotal: newCounterVec("events_total", "Events handed to Process, by result", []string{"result"}),
		initTotal:   newCounterVec("init_total", "Init attempts, by result", []string{"result"}),
		attachFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuningfork",
			Subsystem: "clearcut",
			Name:      "attach_failures_total",
			Help:      "Process calls that could not attach their thread to the runtime",
		}),
		payloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tuningfork",
			Subsystem: "clearcut",
			Name:      "payload_bytes",
			Help:      "Size of payloads submitted successfully",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}
}

// Register registers the collectors. Safe to call multiple times. When an
// identical collector is already registered, it is adopted instead, so
// bridges sharing a registerer share their series.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.eventsTotal, err = register(m.registerer, m.eventsTotal); err != nil {
		return err
	}
	if m.initTotal, err = register(m.registerer, m.initTotal); err != nil {
		return err
	}
	if m.attachFailuresTotal, err = register(m.registerer, m.attachFailuresTotal); err != nil {
		return err
	}
	if m.payloadBytes, err = register(m.registerer, m.payloadBytes); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func register[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !stderrors.As(err, &are) {
			return c, err
		}
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, nil
}

func (m *Metrics) recordEvent(size int, err error) {
	if err != nil {
		m.eventsTotal.WithLabelValues(resultLabel(err)).Inc()
		if stderrors.Is(err, errors.AttachFailed(0, "")) {
			m.attachFailuresTotal.Inc()
		}
		return
	}
	m.eventsTotal.WithLabelValues(resultOK).Inc()
	m.payloadBytes.Observe(float64(size))
}

func (m *Metrics) recordInit(err error) {
	if err != nil {
		m.initTotal.WithLabelValues(resultLabel(err)).Inc()
		return
	}
	m.initTotal.WithLabelValues(resultOK).Inc()
}

// resultLabel maps an error to its kind, keeping label cardinality bounded.
func resultLabel(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return string(e.Kind)
	}
	return resultError
}
