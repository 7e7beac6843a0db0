package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	DevicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "galaxy_devices_total",
			Help: "Total number of devices by status",
		},
		[]string{"status"},
	)

	HeartbeatMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galaxy_heartbeat_misses_total",
			Help: "Total number of missed heartbeat replies",
		},
	)

	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galaxy_reconnect_attempts_total",
			Help: "Total number of device reconnect attempts",
		},
	)

	// Constellation metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "galaxy_tasks_total",
			Help: "Total number of constellation tasks by status",
		},
		[]string{"status"},
	)

	TasksDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galaxy_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to devices",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galaxy_tasks_failed_total",
			Help: "Total number of failed tasks",
		},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galaxy_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	ConstellationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galaxy_constellation_duration_seconds",
			Help:    "End-to-end constellation execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// Synchronizer metrics
	ModificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galaxy_modifications_total",
			Help: "Total number of constellation modifications applied",
		},
	)

	BarrierWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galaxy_barrier_wait_seconds",
			Help:    "Time spent waiting on the modification barrier in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BarrierTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galaxy_barrier_timeouts_total",
			Help: "Total number of modification barrier timeouts",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DevicesTotal)
	prometheus.MustRegister(HeartbeatMisses)
	prometheus.MustRegister(ReconnectAttempts)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksDispatched)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(ConstellationDuration)
	prometheus.MustRegister(ModificationsTotal)
	prometheus.MustRegister(BarrierWaitDuration)
	prometheus.MustRegister(BarrierTimeouts)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
