package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Daemon cycle metrics
var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebbo_cycles_total",
			Help: "Total number of daemon cycles by outcome",
		},
		[]string{"outcome"},
	)

	HashesDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ebbo_settlement_hashes_discovered_total",
			Help: "Total number of settlement hashes discovered on chain",
		},
	)

	LastProcessedBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ebbo_last_processed_block",
			Help: "End block of the last completed cycle",
		},
	)
)

// Monitoring test metrics
var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ebbo_queue_depth",
			Help: "Number of hashes pending in a test queue",
		},
		[]string{"test"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebbo_test_runs_total",
			Help: "Total number of test runs by outcome (done, retry, panic)",
		},
		[]string{"test", "outcome"},
	)

	RunLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ebbo_test_run_latency_seconds",
			Help:    "Latency in seconds of a single test run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"test"},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebbo_alerts_total",
			Help: "Total number of reported findings by severity",
		},
		[]string{"test", "severity"},
	)
)

// Upstream request metrics
var (
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebbo_upstream_requests_total",
			Help: "Total number of upstream HTTP requests by service and status",
		},
		[]string{"service", "status"},
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ebbo_upstream_request_latency_seconds",
			Help:    "Latency in seconds of upstream HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebbo_cache_lookups_total",
			Help: "Total number of payload cache lookups by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, HashesDiscovered, LastProcessedBlock)
	prometheus.MustRegister(QueueDepth, RunsTotal, RunLatency, AlertsTotal)
	prometheus.MustRegister(UpstreamRequests, UpstreamLatency, CacheLookups)
}
