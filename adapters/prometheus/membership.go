package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/fanout/core/membership"
)

type membershipMetrics struct {
	added        *prometheus.CounterVec
	removed      *prometheus.CounterVec
	members      *prometheus.GaugeVec
	stale        *prometheus.GaugeVec
	resubscribed *prometheus.CounterVec
}

func NewMembershipMetrics(reg prometheus.Registerer) membership.RegistryMetrics {
	c := collectors{reg: reg, subsystem: "membership"}
	return &membershipMetrics{
		added:        c.counter("added_total", "Members added", "topic"),
		removed:      c.counter("removed_total", "Members removed", "topic"),
		members:      c.gauge("members", "Members currently known", "topic"),
		stale:        c.gauge("stale", "1 while the feed behind the registry is lost", "topic"),
		resubscribed: c.counter("resubscribed_total", "Feed resubscriptions", "topic"),
	}
}

func (m *membershipMetrics) MembersChanged(topic string, added, removed int) {
	m.added.WithLabelValues(topic).Add(float64(added))
	m.removed.WithLabelValues(topic).Add(float64(removed))
}

func (m *membershipMetrics) MembersTotal(topic string, n int) {
	m.members.WithLabelValues(topic).Set(float64(n))
}

func (m *membershipMetrics) FeedStale(topic string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	m.stale.WithLabelValues(topic).Set(v)
}

func (m *membershipMetrics) FeedResubscribed(topic string) {
	m.resubscribed.WithLabelValues(topic).Inc()
}

var _ membership.RegistryMetrics = (*membershipMetrics)(nil)
