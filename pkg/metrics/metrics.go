package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CertificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrep_certifications_total",
			Help: "Total number of certification attempts by outcome",
		},
		[]string{"outcome"},
	)

	CertifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wsrep_certify_duration_seconds",
			Help:    "Time spent in the provider's certify call",
			Buckets: prometheus.DefBuckets,
		},
	)

	BFAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wsrep_bf_aborts_total",
			Help: "Total number of local transactions brute-force aborted",
		},
	)

	ReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrep_replays_total",
			Help: "Total number of transaction replays by outcome",
		},
		[]string{"outcome"},
	)

	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrep_commits_total",
			Help: "Total number of local commits by outcome",
		},
		[]string{"outcome"},
	)

	FragmentsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wsrep_fragments_sent_total",
			Help: "Total number of streaming replication fragments replicated",
		},
	)

	FragmentsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrep_fragments_applied_total",
			Help: "Total number of streaming replication fragments applied, by kind",
		},
		[]string{"kind"},
	)

	ServerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsrep_server_state",
			Help: "Current server state as an integer enum value",
		},
	)

	StreamingAppliersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsrep_streaming_appliers_active",
			Help: "Number of currently registered streaming appliers",
		},
	)

	PauseSeqno = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsrep_pause_seqno",
			Help: "Seqno the cluster was paused at, or -1 when not paused",
		},
	)

	CommitOrderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wsrep_commit_order_duration_seconds",
			Help:    "Time spent between commit_order_enter and commit_order_leave",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(CertificationsTotal)
	prometheus.MustRegister(CertifyDuration)
	prometheus.MustRegister(BFAbortsTotal)
	prometheus.MustRegister(ReplaysTotal)
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(FragmentsSentTotal)
	prometheus.MustRegister(FragmentsAppliedTotal)
	prometheus.MustRegister(ServerState)
	prometheus.MustRegister(StreamingAppliersActive)
	prometheus.MustRegister(PauseSeqno)
	prometheus.MustRegister(CommitOrderDuration)
	PauseSeqno.Set(-1)
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation for later recording to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
