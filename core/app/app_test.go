package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/fanout/core/cluster"
	"github.com/codewandler/fanout/core/membership"
	"github.com/codewandler/fanout/core/stats"
	"github.com/codewandler/fanout/ports/kv"
)

func testConfig(nodeID string, nodeIDs ...string) Config {
	cfg := DefaultConfig()
	cfg.NodeID = nodeID
	cfg.NodeIDs = nodeIDs
	cfg.NumShards = 16
	cfg.Timeout = time.Second
	cfg.Client.Interval = 10 * time.Millisecond
	cfg.Devices.ReportInterval = 5 * time.Millisecond
	return cfg
}

func newTestApp(t *testing.T, cfg Config, opts Options) *App {
	t.Helper()
	a, err := New(t.Context(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func runInBackground(t *testing.T, a *App, roles ...Role) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, roles...) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
}

func TestApp_roles(t *testing.T) {
	a := newTestApp(t, testConfig("node-0"), Options{})
	require.ErrorIs(t, a.Run(t.Context()), ErrNoRole)
	require.Error(t, a.Run(t.Context(), Role("gateway")))
}

func TestApp_invalid_config(t *testing.T) {
	cfg := testConfig("node-0")
	cfg.Store.Backend = "etcd"
	_, err := New(t.Context(), cfg, Options{})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestApp_compute_cluster(t *testing.T) {
	tr := cluster.CreateInMemoryTransport(t)
	hub := membership.NewHub()
	t.Cleanup(func() { _ = hub.Close() })

	nodes := []string{"node-0", "node-1"}
	for _, id := range nodes {
		a := newTestApp(t, testConfig(id, nodes...), Options{Transport: tr, Membership: hub})
		runInBackground(t, a, RoleCompute)
	}

	// every node announces its share of the workers
	require.Eventually(t, func() bool {
		return len(hub.Members("stats-workers")) == 2*DefaultConfig().WorkersPerNode
	}, 5*time.Second, 10*time.Millisecond)

	c, err := cluster.NewClient(cluster.ClientOptions{Transport: tr, NumShards: 16, Seed: "fanout"})
	require.NoError(t, err)
	remote := stats.NewRemote(c, time.Second)

	var res stats.Response
	require.Eventually(t, func() bool {
		res, err = remote.Process(t.Context(), "hello big world")
		return err == nil && !res.Partial()
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 3, res.Words)
	require.InDelta(t, 13.0/3.0, res.MeanWordLength, 1e-9)

	// a client app drives the same cluster and stops after its requests
	cfg := testConfig("client", "client")
	cfg.Client.MaxRequests = 3
	client := newTestApp(t, cfg, Options{Transport: tr, Membership: hub})
	require.NoError(t, client.Run(t.Context(), RoleClient))
}

func TestApp_compute_restores_membership(t *testing.T) {
	store := kv.NewMemStore()
	hub := membership.NewHub()
	t.Cleanup(func() { _ = hub.Close() })

	cfg := testConfig("node-0")
	ctx, cancel := context.WithCancel(t.Context())
	a := newTestApp(t, cfg, Options{Membership: hub, Store: store})
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, RoleCompute) }()

	require.Eventually(t, func() bool {
		ms, err := kv.Get[[]membership.Member](t.Context(), store, "membership/stats-workers")
		return err == nil && len(ms) == cfg.WorkersPerNode
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestApp_devices(t *testing.T) {
	cfg := testConfig("node-0")
	cfg.Client.MaxRequests = 3
	store := kv.NewMemStore()
	a := newTestApp(t, cfg, Options{Store: store})

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx, RoleDevices))
	require.NoError(t, ctx.Err(), "devices role should stop after its requests")

	// devices persisted what they reported
	require.Eventually(t, func() bool {
		_, err := store.Get(t.Context(), "group/group-0/reading/device-0")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestApp_sqlite_store(t *testing.T) {
	cfg := testConfig("node-0")
	cfg.Store.Backend = StoreSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "fanout.db")
	a := newTestApp(t, cfg, Options{})
	require.NotNil(t, a.b.store)
}
