// Package metrics is a thin abstraction over Prometheus so marker-cache can
// be used with or without metrics, following the same split as the
// teacher's pkg/metrics.go: a no-op sink when the caller does not opt in,
// so the Insert/Lookup hot path never pays for a metric update it didn't
// ask for.
//
// ┌────────────────────────────────────────┬───────┬──────────┐
// │ Metric                                 │ Type  │ Labels   │
// ├────────────────────────────────────────┼───────┼──────────┤
// │ marker_cache_lookups_total             │ Ctr   │ result   │
// │ marker_cache_inserts_total             │ Ctr   │ —        │
// │ marker_cache_age_total                 │ Ctr   │ —        │
// │ marker_cache_age_duration_seconds      │ Hist  │ —        │
// │ marker_cache_archive_errors_total      │ Ctr   │ —        │
// │ marker_cache_retention_horizon_seconds │ Gauge │ —        │
// └────────────────────────────────────────┴───────┴──────────┘
//
// © 2025 arena-cache authors. MIT License.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the internal interface the cache talks to; Cache code never
// touches prometheus types directly.
type Sink interface {
	IncLookup(hit bool)
	IncInsert()
	IncAge()
	ObserveAgeDuration(seconds float64)
	IncArchiveError()
	SetRetentionHorizon(unixSeconds int64)
}

type noopSink struct{}

func (noopSink) IncLookup(bool)              {}
func (noopSink) IncInsert()                  {}
func (noopSink) IncAge()                     {}
func (noopSink) ObserveAgeDuration(float64)  {}
func (noopSink) IncArchiveError()            {}
func (noopSink) SetRetentionHorizon(int64)   {}

// Noop returns a Sink that discards every observation.
func Noop() Sink { return noopSink{} }

type promSink struct {
	lookups          *prometheus.CounterVec
	inserts          prometheus.Counter
	ages             prometheus.Counter
	ageDuration      prometheus.Histogram
	archiveErrors    prometheus.Counter
	retentionHorizon prometheus.Gauge
}

// NewProm builds a Prometheus-backed Sink registered on reg. reg must not
// be nil; use Noop() to disable metrics instead.
func NewProm(reg *prometheus.Registry) Sink {
	s := &promSink{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marker_cache",
			Name:      "lookups_total",
			Help:      "Number of Lookup calls, partitioned by hit/miss.",
		}, []string{"result"}),
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marker_cache",
			Name:      "inserts_total",
			Help:      "Number of Insert calls.",
		}),
		ages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marker_cache",
			Name:      "age_total",
			Help:      "Number of completed aging cycles.",
		}),
		ageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marker_cache",
			Name:      "age_duration_seconds",
			Help:      "Wall-clock time spent holding the exclusive lock during Age.",
			Buckets:   prometheus.DefBuckets,
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marker_cache",
			Name:      "archive_errors_total",
			Help:      "Number of persistence errors encountered during Save/Age (logged and swallowed).",
		}),
		retentionHorizon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marker_cache",
			Name:      "retention_horizon_seconds",
			Help:      "Unix timestamp of the earliest time the cache can answer queries for (front.Lo).",
		}),
	}
	reg.MustRegister(s.lookups, s.inserts, s.ages, s.ageDuration, s.archiveErrors, s.retentionHorizon)
	return s
}

func (s *promSink) IncLookup(hit bool) {
	if hit {
		s.lookups.WithLabelValues("hit").Inc()
	} else {
		s.lookups.WithLabelValues("miss").Inc()
	}
}
func (s *promSink) IncInsert()                 { s.inserts.Inc() }
func (s *promSink) IncAge()                    { s.ages.Inc() }
func (s *promSink) ObserveAgeDuration(secs float64) { s.ageDuration.Observe(secs) }
func (s *promSink) IncArchiveError()           { s.archiveErrors.Inc() }
func (s *promSink) SetRetentionHorizon(unixSeconds int64) {
	s.retentionHorizon.Set(float64(unixSeconds))
}
