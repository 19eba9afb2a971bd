package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/fanout/core/query"
)

type queryMetrics struct {
	started  *prometheus.CounterVec
	targets  *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewQueryMetrics(reg prometheus.Registerer) query.QueryMetrics {
	c := collectors{reg: reg, subsystem: "query"}
	return &queryMetrics{
		started:  c.counter("started_total", "Aggregations started"),
		targets:  c.sizes("targets", "Workers targeted per aggregation"),
		outcomes: c.counter("outcomes_total", "Per worker outcomes by kind", "kind"),
		duration: c.histogram("duration_seconds", "Time from start to reply in seconds", "partial"),
	}
}

func (m *queryMetrics) QueryStarted(targets int) {
	m.started.WithLabelValues().Inc()
	m.targets.WithLabelValues().Observe(float64(targets))
}

func (m *queryMetrics) OutcomeRecorded(kind string) { m.outcomes.WithLabelValues(kind).Inc() }

func (m *queryMetrics) QueryCompleted(partial bool, took time.Duration) {
	m.duration.WithLabelValues(boolToStr(partial)).Observe(took.Seconds())
}

var _ query.QueryMetrics = (*queryMetrics)(nil)
