package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hierarchyOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Structural operations broken down by operation and outcome.",
	}, []string{"operation", "result"})

	hierarchyCascadeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "cascade",
		Name:      "transitions_total",
		Help:      "Status transitions applied by cascades broken down by node kind.",
	}, []string{"kind"})

	hierarchyAuditRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "audit",
		Name:      "repairs_total",
		Help:      "Drift repairs written by the auditor broken down by kind and field.",
	}, []string{"kind", "field"})

	hierarchyAuditScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hierarchy",
		Subsystem: "audit",
		Name:      "consistency_score",
		Help:      "Consistency score of the last audit per kind (0-100).",
	}, []string{"kind"})

	hierarchyWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Write conflicts broken down by cause.",
	}, []string{"cause"})

	hierarchyCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Tree cache lookups broken down by hit/miss.",
	}, []string{"result"})

	hierarchyCacheInvalidate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "cache",
		Name:      "invalidate_total",
		Help:      "Tree cache invalidations broken down by reason.",
	}, []string{"reason"})
)

func recordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	hierarchyOperations.WithLabelValues(operation, result).Inc()
}

func recordWriteConflict(cause string) {
	if cause == "" {
		cause = "other"
	}
	hierarchyWriteConflicts.WithLabelValues(cause).Inc()
}

func recordCacheRequest(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	hierarchyCacheRequests.WithLabelValues(result).Inc()
}

func recordCacheInvalidate(reason string) {
	if reason == "" {
		reason = "manual"
	}
	hierarchyCacheInvalidate.WithLabelValues(reason).Inc()
}
