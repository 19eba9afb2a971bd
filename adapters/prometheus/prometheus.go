// Package prometheus implements the metrics interfaces of the actor runtime,
// the cluster transport, aggregators and membership registries with
// Prometheus collectors. All metric names start with "fanout_".
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/fanout/core/metrics"
)

func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.ObserveFunc(h.Observe)
}

func boolToStr(b bool) string { return strconv.FormatBool(b) }

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics bundles one implementation of every metrics interface.
type AllMetrics struct {
	Actor      *actorMetrics
	Cluster    *clusterMetrics
	Query      *queryMetrics
	Membership *membershipMetrics
}

// NewAllMetrics registers all collectors on reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Actor:      NewActorMetrics(reg).(*actorMetrics),
		Cluster:    NewClusterMetrics(reg).(*clusterMetrics),
		Query:      NewQueryMetrics(reg).(*queryMetrics),
		Membership: NewMembershipMetrics(reg).(*membershipMetrics),
	}
}

// collectors registers everything it creates on one Registerer.
type collectors struct {
	reg       prometheus.Registerer
	subsystem string
}

func (c collectors) counter(name, help string, labels ...string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout", Subsystem: c.subsystem, Name: name, Help: help,
	}, labels)
	c.reg.MustRegister(v)
	return v
}

func (c collectors) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fanout", Subsystem: c.subsystem, Name: name, Help: help,
	}, labels)
	c.reg.MustRegister(v)
	return v
}

func (c collectors) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return c.histogramWith(defaultBuckets, name, help, labels...)
}

// sizes is a histogram for counts rather than latencies.
func (c collectors) sizes(name, help string, labels ...string) *prometheus.HistogramVec {
	return c.histogramWith(prometheus.ExponentialBuckets(1, 2, 10), name, help, labels...)
}

func (c collectors) histogramWith(buckets []float64, name, help string, labels ...string) *prometheus.HistogramVec {
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fanout", Subsystem: c.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
	c.reg.MustRegister(v)
	return v
}
