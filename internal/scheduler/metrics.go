package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	syncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_scheduler_syncs_total",
			Help: "Total sync round-trips attempted, by outcome",
		},
		[]string{"outcome"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsync_scheduler_sync_duration_seconds",
			Help:    "Duration of individual sync round-trips",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_scheduler_queue_depth",
			Help: "Number of documents currently awaiting a sync turn",
		},
	)

	activeSyncsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_scheduler_active_syncs",
			Help: "Number of sync round-trips currently in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(syncsTotal)
	prometheus.MustRegister(syncDuration)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(activeSyncsGauge)
}
