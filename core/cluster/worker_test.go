package cluster

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/fanout/core/worker"
)

// hostWorkers runs one node hosting n workers and returns a client for it.
func hostWorkers(t *testing.T, n int) (*Client, []string, *sync.Map) {
	t.Helper()
	const numShards = 8

	tr := CreateInMemoryTransport(t)
	owned := ShardsForNode("node-0", []string{"node-0"}, numShards, "")
	ids := KeysForNode("w", n, owned, numShards, "")

	var hosted sync.Map
	for _, id := range ids {
		w, err := worker.New(worker.Options{ID: id, Context: t.Context()})
		require.NoError(t, err)
		hosted.Store(id, w)
	}

	node := NewNode(NodeOptions{
		NodeID:    "node-0",
		Transport: tr,
		Shards:    owned,
		Handler: NewWorkerHandler(func(id string) (*worker.Worker, bool) {
			w, ok := hosted.Load(id)
			if !ok {
				return nil, false
			}
			return w.(*worker.Worker), true
		}),
	})
	require.NoError(t, node.Run(t.Context()))

	c, err := NewClient(ClientOptions{Transport: tr, NumShards: numShards})
	require.NoError(t, err)
	return c, ids, &hosted
}

func TestRemoteWorker(t *testing.T) {
	c, ids, _ := hostWorkers(t, 2)
	w := NewRemoteWorker(c, ids[0])
	require.Equal(t, ids[0], w.ID())

	out, err := w.Process(t.Context(), worker.ProcessRequest{RequestID: "1", Input: "hello"})
	require.NoError(t, err)
	require.Equal(t, worker.ProcessReply{RequestID: "1", WorkerID: ids[0], Output: 5}, *out)

	out, err = w.Process(t.Context(), worker.ProcessRequest{RequestID: "2", Input: "hello"})
	require.NoError(t, err)
	require.True(t, out.Cached)

	reading, err := w.Read(t.Context(), worker.ReadRequest{RequestID: "3"})
	require.NoError(t, err)
	require.Nil(t, reading.Value)

	_, err = w.Record(t.Context(), worker.RecordRequest{RequestID: "4", Value: 2.5})
	require.NoError(t, err)
	reading, err = w.Read(t.Context(), worker.ReadRequest{RequestID: "5"})
	require.NoError(t, err)
	require.NotNil(t, reading.Value)
	require.InDelta(t, 2.5, *reading.Value, 0)
}

func TestRemoteWorker_unknown(t *testing.T) {
	c, _, _ := hostWorkers(t, 1)
	// every shard is served, the node just does not host this id
	w := NewRemoteWorker(c, "nobody")
	_, err := w.Read(t.Context(), worker.ReadRequest{})
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestRemoteWorker_passivate(t *testing.T) {
	c, ids, hosted := hostWorkers(t, 1)
	w := NewRemoteWorker(c, ids[0])

	require.NoError(t, w.Passivate(t.Context()))
	select {
	case <-w.Done():
	default:
		t.Fatal("handle not evicted")
	}

	local, _ := hosted.Load(ids[0])
	select {
	case <-local.(*worker.Worker).Done():
	case <-time.After(time.Second):
		t.Fatal("hosted worker still running")
	}

	w.Evict()
}
