package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/fanout/core/cluster"
	"github.com/codewandler/fanout/core/metrics"
)

type clusterMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	notifiesTotal   *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	handlersTotal   *prometheus.CounterVec
	handlersActive  *prometheus.GaugeVec
	shardsOwned     *prometheus.GaugeVec
}

func NewClusterMetrics(reg prometheus.Registerer) cluster.ClusterMetrics {
	c := collectors{reg: reg, subsystem: "cluster"}
	return &clusterMetrics{
		requestDuration: c.histogram("request_duration_seconds", "Client request latency in seconds", "message_type"),
		requestsTotal:   c.counter("requests_total", "Client requests", "message_type", "success"),
		notifiesTotal:   c.counter("notifies_total", "Client notifications", "message_type", "success"),
		transportErrors: c.counter("transport_errors_total", "Transport errors by kind", "error_type"),
		handlerDuration: c.histogram("handler_duration_seconds", "Handler execution time in seconds", "message_type"),
		handlersTotal:   c.counter("handlers_total", "Handlers executed", "message_type", "success"),
		handlersActive:  c.gauge("handlers_active", "Handlers running", "node_id"),
		shardsOwned:     c.gauge("shards_owned", "Shards owned by the node", "node_id"),
	}
}

func (m *clusterMetrics) RequestDuration(msgType string) metrics.Timer {
	return newTimer(m.requestDuration.WithLabelValues(msgType))
}

func (m *clusterMetrics) RequestCompleted(msgType string, success bool) {
	m.requestsTotal.WithLabelValues(msgType, boolToStr(success)).Inc()
}

func (m *clusterMetrics) NotifyCompleted(msgType string, success bool) {
	m.notifiesTotal.WithLabelValues(msgType, boolToStr(success)).Inc()
}

func (m *clusterMetrics) TransportError(kind string) { m.transportErrors.WithLabelValues(kind).Inc() }

func (m *clusterMetrics) HandlerDuration(msgType string) metrics.Timer {
	return newTimer(m.handlerDuration.WithLabelValues(msgType))
}

func (m *clusterMetrics) HandlerCompleted(msgType string, success bool) {
	m.handlersTotal.WithLabelValues(msgType, boolToStr(success)).Inc()
}

func (m *clusterMetrics) HandlersActive(nodeID string, count int) {
	m.handlersActive.WithLabelValues(nodeID).Set(float64(count))
}

func (m *clusterMetrics) ShardsOwned(nodeID string, count int) {
	m.shardsOwned.WithLabelValues(nodeID).Set(float64(count))
}

var _ cluster.ClusterMetrics = (*clusterMetrics)(nil)
