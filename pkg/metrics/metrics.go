package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	InstancesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ebb_instances_tracked",
			Help: "Number of instances currently tracked in the store",
		},
	)

	ClustersTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ebb_clusters_tracked",
			Help: "Number of clusters currently tracked in the store by status",
		},
		[]string{"status"},
	)

	// Sweep metrics
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ebb_sweeps_total",
			Help: "Total number of completed sweep passes",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ebb_sweep_duration_seconds",
			Help:    "Duration of a full sweep pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResourcesReclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebb_resources_reclaimed_total",
			Help: "Total number of expired resources reclaimed by kind",
		},
		[]string{"kind"},
	)

	ExpiryWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ebb_expiry_warnings_total",
			Help: "Total number of expiry warnings published",
		},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebb_snapshots_total",
			Help: "Total number of pre-reclaim snapshot attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Provider metrics
	ProviderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebb_provider_retries_total",
			Help: "Total number of retried provider calls by operation",
		},
		[]string{"op"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebb_catalog_cache_lookups_total",
			Help: "Catalog cache lookups by key and result",
		},
		[]string{"key", "result"},
	)

	// Cluster provisioning metrics
	ProvisioningTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebb_provisioning_transitions_total",
			Help: "Cluster provisioning outcomes by final status",
		},
		[]string{"status"},
	)

	// Notification metrics
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebb_notification_failures_total",
			Help: "Notification deliveries that failed by channel",
		},
		[]string{"channel"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(InstancesTracked)
	prometheus.MustRegister(ClustersTracked)
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(ResourcesReclaimed)
	prometheus.MustRegister(ExpiryWarnings)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(ProviderRetries)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(ProvisioningTransitions)
	prometheus.MustRegister(NotificationFailures)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
