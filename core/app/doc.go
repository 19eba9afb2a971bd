// Package app wires one fanout node from a Config.
//
// A node runs one or more roles:
//
//   - compute hosts WorkersPerNode stats workers on the shards the node
//     owns, announces them on the membership topic and serves the stats
//     service for the node owning [stats.ServiceKey].
//   - client sends random texts to the stats service every interval.
//   - devices runs device groups in process, lets each device report a
//     temperature and queries a random group every interval.
//
// With NatsURL set, nodes talk over NATS and discover workers through the
// NATS membership feed. Without it everything stays in process; tests share
// one transport and one [membership.Hub] between apps through Options to
// form a cluster:
//
//	tr := cluster.NewInMemoryTransport()
//	hub := membership.NewHub()
//	a, err := app.New(ctx, cfg, app.Options{Transport: tr, Membership: hub})
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	return a.Run(ctx, app.RoleCompute)
//
// The store backend (memory, sqlite, redis or nats) persists membership
// snapshots and device readings.
package app
