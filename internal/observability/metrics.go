package observability

import "github.com/prometheus/client_golang/prometheus"

// Label names.
const (
	LblDatabase = "database"
	LblResult   = "result"
	LblKind     = "kind"
)

// Metrics
var (
	TxnWaitHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "xdb",
			Subsystem: "metastore",
			Name:      "txn_wait_seconds",
			Help:      "Time spent waiting for the metadata transaction token.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		})

	TxnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xdb",
			Subsystem: "metastore",
			Name:      "txn_total",
			Help:      "Counter of metadata transactions by result.",
		}, []string{LblResult})

	SchedulerQueueGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "xdb",
			Subsystem: "scheduler",
			Name:      "queued",
			Help:      "Number of statements waiting for lock admission.",
		}, []string{LblDatabase})

	SchedulerRunningGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "xdb",
			Subsystem: "scheduler",
			Name:      "running",
			Help:      "Number of admitted statements holding locks.",
		}, []string{LblDatabase})

	AdmissionWaitHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xdb",
			Subsystem: "scheduler",
			Name:      "admission_wait_seconds",
			Help:      "Time statements waited for lock admission.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 18),
		}, []string{LblDatabase})

	ConstraintViolationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xdb",
			Subsystem: "constraint",
			Name:      "violations_total",
			Help:      "Counter of constraint violations found by cross-node checks.",
		}, []string{LblKind})

	CatalogChangeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xdb",
			Subsystem: "catalog",
			Name:      "changes_total",
			Help:      "Counter of applied catalog changes by kind.",
		}, []string{LblKind})
)

// RegisterMetrics registers all collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		TxnWaitHistogram,
		TxnCounter,
		SchedulerQueueGauge,
		SchedulerRunningGauge,
		AdmissionWaitHistogram,
		ConstraintViolationCounter,
		CatalogChangeCounter,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
