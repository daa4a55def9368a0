package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	NodesByHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_nodes",
			Help: "Number of registered nodes by effective health",
		},
		[]string{"health"},
	)

	NodesStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_nodes_stale",
			Help: "Number of nodes whose last heartbeat is older than the liveness window",
		},
	)

	FleetHealthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_fleet_health_score",
			Help: "Percentage of nodes that are effectively ONLINE",
		},
	)

	FleetCPUCores = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_fleet_cpu_cores",
			Help: "Total CPU cores across registered nodes",
		},
	)

	FleetRAMGigabytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_fleet_ram_gigabytes",
			Help: "Total RAM in GB across registered nodes",
		},
	)

	// Heartbeat metrics
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_heartbeats_total",
			Help: "Heartbeats received by result (accepted, stale, invalid, unauthorized, rate_limited, error)",
		},
		[]string{"result"},
	)

	HeartbeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_heartbeat_duration_seconds",
			Help:    "Time taken to ingest a heartbeat",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodesMarkedOffline = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_nodes_marked_offline_total",
			Help: "Nodes persisted as OFFLINE by the reconciliation sweep",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_reconciliation_duration_seconds",
			Help:    "Duration of one reconciliation sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Task metrics
	TasksQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_tasks_queued_total",
			Help: "Tasks queued for nodes by kind",
		},
		[]string{"kind"},
	)

	TasksDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_tasks_delivered_total",
			Help: "Tasks handed to daemons in heartbeat responses",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(NodesByHealth)
	prometheus.MustRegister(NodesStale)
	prometheus.MustRegister(FleetHealthScore)
	prometheus.MustRegister(FleetCPUCores)
	prometheus.MustRegister(FleetRAMGigabytes)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(HeartbeatDuration)
	prometheus.MustRegister(NodesMarkedOffline)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(TasksQueued)
	prometheus.MustRegister(TasksDelivered)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on the labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
