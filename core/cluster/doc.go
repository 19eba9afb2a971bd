// Package cluster routes requests to the nodes of a partitioned deployment.
//
// Keys map to one of NumShards shards via [ShardFromString]; each [Node]
// subscribes to the shards it owns according to [ShardsForNode] and serves
// them with a single handler. A [Client] sends typed requests by key:
//
//	c, _ := cluster.NewClient(cluster.ClientOptions{Transport: tr, NumShards: 64})
//	reply, err := cluster.NewRequest[worker.ReadRequest, worker.Reading](c.Key("w-1")).
//	    Request(ctx, worker.ReadRequest{RequestID: "1"})
//
// Workers are exposed across nodes with [RemoteWorker] on the calling side
// and [NewWorkerHandler] on the hosting side. Worker ids are generated with
// [KeysForNode] so every id lands on a shard of the node that hosts it.
//
// Transports implement [Transport]; [MemoryTransport] serves tests and
// single-process setups, adapters/nats the networked case. Handler errors
// travel as strings, except for the sentinel errors of this package, which
// keep their identity.
package cluster
