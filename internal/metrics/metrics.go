// Package metrics records ledger engine metrics with Prometheus.
//
// A nil *Recorder is valid and records nothing, so components can take an
// optional recorder without nil checks at every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pointsledger"

// Recorder holds the engine's Prometheus collectors.
type Recorder struct {
	settlements     *prometheus.CounterVec
	pointsDeducted  *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	reconcileTime   prometheus.Histogram
	cacheRepairs    prometheus.Counter
	forcedRefreshes prometheus.Counter
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome kind.",
		}, []string{"outcome"}),
		pointsDeducted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_deducted_total",
			Help:      "Points debited by settlements, by mode (manual or auto).",
		}, []string{"mode"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Balance recomputations by the strategy that produced the value.",
		}, []string{"method"}),
		reconcileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent recomputing one account balance.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_repairs_total",
			Help:      "Recomputations triggered by a missing or mismatched balance cache row.",
		}),
		forcedRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_refreshes_total",
			Help:      "Recomputations requested with a forced refresh.",
		}),
	}

	reg.MustRegister(r.settlements, r.pointsDeducted, r.reconciliations, r.reconcileTime, r.cacheRepairs, r.forcedRefreshes)
	return r
}

// Settlement counts one settlement attempt.
func (r *Recorder) Settlement(outcome string) {
	if r == nil {
		return
	}
	r.settlements.WithLabelValues(outcome).Inc()
}

// Deducted adds points debited in the given mode.
func (r *Recorder) Deducted(mode string, points int64) {
	if r == nil || points <= 0 {
		return
	}
	r.pointsDeducted.WithLabelValues(mode).Add(float64(points))
}

// Reconciled records one recomputation.
func (r *Recorder) Reconciled(method string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.reconciliations.WithLabelValues(method).Inc()
	r.reconcileTime.Observe(elapsed.Seconds())
}

// CacheRepaired counts a cache repair.
func (r *Recorder) CacheRepaired() {
	if r == nil {
		return
	}
	r.cacheRepairs.Inc()
}

// ForcedRefresh counts a forced refresh.
func (r *Recorder) ForcedRefresh() {
	if r == nil {
		return
	}
	r.forcedRefreshes.Inc()
}
