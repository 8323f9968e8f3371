package alert

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alert pipeline.
type Metrics struct {
	IngestsTotal     *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DispatchDropped  prometheus.Counter
	StatsTotal       *prometheus.CounterVec
	MediaBytes       *prometheus.HistogramVec
}

// NewMetrics registers and returns alert pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ingests_total",
			Help: "Total alert intake attempts by result.",
		}, []string{"result"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_transitions_total",
			Help: "Total alert status transitions by action and result.",
		}, []string{"action", "result"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_dispatches_total",
			Help: "Total bot notification deliveries by role and outcome.",
		}, []string{"role", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_dispatch_duration_seconds",
			Help:    "Duration of bot notification deliveries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"role"}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_dispatch_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full.",
		}),
		StatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_stats_queries_total",
			Help: "Total stats queries by window.",
		}, []string{"window"}),
		MediaBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_media_bytes",
			Help:    "Size of persisted alert media in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB .. ~256MB
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.IngestsTotal,
		m.TransitionsTotal,
		m.DispatchesTotal,
		m.DispatchDuration,
		m.DispatchDropped,
		m.StatsTotal,
		m.MediaBytes,
	)

	return m
}

// NopMetrics returns metrics registered on a throwaway registry, for tests.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
