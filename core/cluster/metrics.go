package cluster

import "github.com/codewandler/fanout/core/metrics"

// ClusterMetrics instruments clients and nodes. All methods are thread-safe.
type ClusterMetrics interface {
	RequestDuration(msgType string) metrics.Timer
	RequestCompleted(msgType string, success bool)
	NotifyCompleted(msgType string, success bool)

	// TransportError counts failures by kind: no_subscriber, timeout,
	// ttl_expired, closed.
	TransportError(kind string)

	HandlerDuration(msgType string) metrics.Timer
	HandlerCompleted(msgType string, success bool)
	HandlersActive(nodeID string, count int)

	ShardsOwned(nodeID string, count int)
}

type nopClusterMetrics struct{}

func (nopClusterMetrics) RequestDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopClusterMetrics) RequestCompleted(string, bool)        {}
func (nopClusterMetrics) NotifyCompleted(string, bool)         {}
func (nopClusterMetrics) TransportError(string)                {}
func (nopClusterMetrics) HandlerDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopClusterMetrics) HandlerCompleted(string, bool)        {}
func (nopClusterMetrics) HandlersActive(string, int)           {}
func (nopClusterMetrics) ShardsOwned(string, int)              {}

func NopClusterMetrics() ClusterMetrics { return nopClusterMetrics{} }
