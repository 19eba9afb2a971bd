package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestActorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewActorMetrics(reg)

	m.MessageDuration("stats.ProcessText").ObserveDuration()
	m.MessageProcessed("stats.ProcessText", true)
	m.MessageProcessed("stats.ProcessText", false)
	m.MessagePanic("stats.ProcessText")
	m.MailboxDepth("stats", 3)
	m.SchedulerInflight("stats", 1)
	m.SchedulerTaskDuration().ObserveDuration()
	m.SchedulerTaskCompleted(true)

	names := gatherNames(t, reg)
	require.True(t, names["fanout_actor_message_duration_seconds"])
	require.True(t, names["fanout_actor_messages_total"])
	require.True(t, names["fanout_actor_mailbox_depth"])

	am := m.(*actorMetrics)
	require.Equal(t, 1.0, testutil.ToFloat64(am.messagesTotal.WithLabelValues("stats.ProcessText", "false")))
	require.Equal(t, 3.0, testutil.ToFloat64(am.mailboxDepth.WithLabelValues("stats")))
}

func TestClusterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClusterMetrics(reg)

	m.RequestDuration("stats.Job").ObserveDuration()
	m.RequestCompleted("stats.Job", true)
	m.NotifyCompleted("stats.Job", true)
	m.TransportError("no_subscriber")
	m.HandlerDuration("stats.Job").ObserveDuration()
	m.HandlerCompleted("stats.Job", true)
	m.HandlersActive("node-0", 2)
	m.ShardsOwned("node-0", 8)

	names := gatherNames(t, reg)
	require.True(t, names["fanout_cluster_request_duration_seconds"])
	require.True(t, names["fanout_cluster_transport_errors_total"])
	require.True(t, names["fanout_cluster_shards_owned"])

	cm := m.(*clusterMetrics)
	require.Equal(t, 8.0, testutil.ToFloat64(cm.shardsOwned.WithLabelValues("node-0")))
}

func TestQueryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueryMetrics(reg)

	m.QueryStarted(3)
	m.OutcomeRecorded("value")
	m.OutcomeRecorded("value")
	m.OutcomeRecorded("timed_out")
	m.QueryCompleted(true, 20*time.Millisecond)

	names := gatherNames(t, reg)
	require.True(t, names["fanout_query_started_total"])
	require.True(t, names["fanout_query_targets"])
	require.True(t, names["fanout_query_duration_seconds"])

	qm := m.(*queryMetrics)
	require.Equal(t, 1.0, testutil.ToFloat64(qm.started.WithLabelValues()))
	require.Equal(t, 2.0, testutil.ToFloat64(qm.outcomes.WithLabelValues("value")))
	require.Equal(t, 1.0, testutil.ToFloat64(qm.outcomes.WithLabelValues("timed_out")))
}

func TestMembershipMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMembershipMetrics(reg)

	m.MembersChanged("workers", 3, 1)
	m.MembersTotal("workers", 2)
	m.FeedStale("workers", true)
	m.FeedResubscribed("workers")

	mm := m.(*membershipMetrics)
	require.Equal(t, 3.0, testutil.ToFloat64(mm.added.WithLabelValues("workers")))
	require.Equal(t, 1.0, testutil.ToFloat64(mm.removed.WithLabelValues("workers")))
	require.Equal(t, 2.0, testutil.ToFloat64(mm.members.WithLabelValues("workers")))
	require.Equal(t, 1.0, testutil.ToFloat64(mm.stale.WithLabelValues("workers")))

	m.FeedStale("workers", false)
	require.Equal(t, 0.0, testutil.ToFloat64(mm.stale.WithLabelValues("workers")))
}

func TestAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	require.NotNil(t, m.Actor)
	require.NotNil(t, m.Cluster)
	require.NotNil(t, m.Query)
	require.NotNil(t, m.Membership)

	// registering twice on the same registry panics
	require.Panics(t, func() { NewAllMetrics(reg) })
}

func TestBoolToStr(t *testing.T) {
	require.Equal(t, "true", boolToStr(true))
	require.Equal(t, "false", boolToStr(false))
}
