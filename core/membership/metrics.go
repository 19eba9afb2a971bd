package membership

// RegistryMetrics is implemented by adapters/prometheus.
type RegistryMetrics interface {
	MembersChanged(topic string, added, removed int)
	MembersTotal(topic string, n int)
	FeedStale(topic string, stale bool)
	FeedResubscribed(topic string)
}

type nopRegistryMetrics struct{}

func (nopRegistryMetrics) MembersChanged(string, int, int) {}
func (nopRegistryMetrics) MembersTotal(string, int)        {}
func (nopRegistryMetrics) FeedStale(string, bool)          {}
func (nopRegistryMetrics) FeedResubscribed(string)         {}

func NopRegistryMetrics() RegistryMetrics { return nopRegistryMetrics{} }
