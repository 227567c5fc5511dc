package bridge

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/clearcut-bridge/errors"
)

func TestMetrics_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	second := NewMetrics(reg)
	if err := first.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := second.Register(); err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if err := second.Register(); err != nil {
		t.Fatalf("repeated Register: %v", err)
	}

	first.recordEvent(10, nil)
	second.recordEvent(20, nil)
	if got := testutil.ToFloat64(first.eventsTotal.WithLabelValues(resultOK)); got != 2 {
		t.Fatalf("events_total{ok} = %v, want series shared by both", got)
	}
}

func TestMetrics_Labels(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	if err := m.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.recordEvent(0, errors.AttachFailed(-1, "attach current thread"))
	m.recordEvent(0, errors.VersionMismatch(0x00010006))
	m.recordInit(errors.Unavailable(2))

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"attach_failed", m.eventsTotal.WithLabelValues("attach_failed"), 1},
		{"version_mismatch", m.eventsTotal.WithLabelValues("version_mismatch"), 1},
		{"attach_failures_total", m.attachFailuresTotal, 1},
		{"init unavailable", m.initTotal.WithLabelValues("capability_unavailable"), 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := resultLabel(stdError("plain")); got != resultError {
		t.Fatalf("resultLabel(plain) = %q", got)
	}
}

type stdError string

func (e stdError) Error() string { return string(e) }
