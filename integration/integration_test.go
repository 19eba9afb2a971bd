// Package integration runs whole nodes against a real NATS server.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/fanout/adapters/nats"
	"github.com/codewandler/fanout/core/app"
	"github.com/codewandler/fanout/core/cluster"
	"github.com/codewandler/fanout/core/stats"
)

func natsURL(t *testing.T) string {
	t.Helper()
	connect := nats.NewTestContainer(t)
	nc, release, err := connect()
	require.NoError(t, err)
	t.Cleanup(release)
	return nc.ConnectedUrl()
}

func startNode(t *testing.T, cfg app.Config, roles ...app.Role) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	a, err := app.New(ctx, cfg, app.Options{})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, roles...) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, a.Close())
	})
}

func TestStatsOverNATS(t *testing.T) {
	url := natsURL(t)
	nodes := []string{"node-0", "node-1", "node-2"}

	for _, id := range nodes {
		cfg := app.DefaultConfig()
		cfg.NodeID = id
		cfg.NodeIDs = nodes
		cfg.NatsURL = url
		cfg.WorkersPerNode = 2
		cfg.Store.Backend = app.StoreNATS
		cfg.Store.Bucket = "integration"
		startNode(t, cfg, app.RoleCompute)
	}

	tr, err := nats.NewTransport(nats.TransportConfig{Connect: nats.ConnectURL(url)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	c, err := cluster.NewClient(cluster.ClientOptions{
		Transport: tr,
		NumShards: app.DefaultConfig().NumShards,
		Seed:      app.DefaultConfig().Seed,
	})
	require.NoError(t, err)
	remote := stats.NewRemote(c, 2*time.Second)

	// the service answers fully once it has seen all six workers
	require.Eventually(t, func() bool {
		res, err := remote.Process(t.Context(), "the quick brown fox")
		return err == nil && !res.Partial() && res.Words == 4 && res.MeanWordLength == 4.0
	}, 20*time.Second, 100*time.Millisecond)

	cfg := app.DefaultConfig()
	cfg.NodeID = "client"
	cfg.NatsURL = url
	cfg.Client.Interval = 50 * time.Millisecond
	cfg.Client.MaxRequests = 3
	a, err := app.New(t.Context(), cfg, app.Options{})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Run(t.Context(), app.RoleClient))
}
