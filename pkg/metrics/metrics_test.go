package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	if d := timer.Duration(); d < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 20ms", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_wsrep_duration_seconds",
		Help:    "test histogram",
		Buckets: prometheus.DefBuckets,
	})
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)
	if timer.Duration() == 0 {
		t.Error("ObserveDuration left a zero-duration timer")
	}
}

func TestMetricsAreRegistered(t *testing.T) {
	for _, c := range []prometheus.Collector{
		CertificationsTotal, CertifyDuration, BFAbortsTotal, ReplaysTotal,
		CommitsTotal, FragmentsSentTotal, FragmentsAppliedTotal, ServerState,
		StreamingAppliersActive, PauseSeqno, CommitOrderDuration,
	} {
		if c == nil {
			t.Fatal("metric collector is nil")
		}
		err := prometheus.Register(c)
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			t.Errorf("metric collector is not registered: Register returned %v", err)
		}
	}
}
