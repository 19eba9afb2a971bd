package group

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/query"
	"github.com/codewandler/fanout/core/worker"
	"github.com/codewandler/fanout/ports/kv"
)

func newTestGroup(t *testing.T, key string) *Group {
	t.Helper()
	g, err := New(Options{GroupKey: key, Context: t.Context()})
	require.NoError(t, err)
	return g
}

func TestGroup_requires_key(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoGroupKey)
}

func TestGroup_register_device(t *testing.T) {
	g := newTestGroup(t, "group")

	d1, err := g.Track(t.Context(), "device1")
	require.NoError(t, err)
	require.True(t, d1.Created)
	require.Equal(t, "device1", d1.Handle.ID())

	d2, err := g.Track(t.Context(), "device2")
	require.NoError(t, err)
	require.True(t, d2.Created)
	require.NotSame(t, d1.Handle, d2.Handle)

	// the returned handle is a working device
	_, err = d1.Handle.Record(t.Context(), worker.RecordRequest{RequestID: "0", Value: 1.0})
	require.NoError(t, err)
}

func TestGroup_same_device_twice(t *testing.T) {
	g := newTestGroup(t, "group")

	first, err := g.Track(t.Context(), "device01")
	require.NoError(t, err)
	second, err := g.Track(t.Context(), "device01")
	require.NoError(t, err)

	require.True(t, first.Created)
	require.False(t, second.Created)
	require.Same(t, first.Handle, second.Handle)

	list, err := g.ListChildren(t.Context(), "1")
	require.NoError(t, err)
	require.Equal(t, []string{"device01"}, list.IDs)
}

func TestGroup_ignores_wrong_group(t *testing.T) {
	g := newTestGroup(t, "group")
	replies := make(chan ChildHandle, 1)

	require.NoError(t, g.Send(t.Context(), Track{
		GroupKey: "wrongGroup",
		ChildKey: "device1",
		ReplyTo:  actor.ReplyChan(replies),
	}))

	select {
	case r := <-replies:
		t.Fatalf("unexpected reply: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	list, err := g.ListChildren(t.Context(), "1")
	require.NoError(t, err)
	require.Empty(t, list.IDs)
}

func TestGroup_list_children(t *testing.T) {
	g := newTestGroup(t, "group")
	for _, id := range []string{"device2", "device1"} {
		_, err := g.Track(t.Context(), id)
		require.NoError(t, err)
	}

	list, err := g.ListChildren(t.Context(), "0")
	require.NoError(t, err)
	require.Equal(t, "0", list.RequestID)
	require.Equal(t, []string{"device1", "device2"}, list.IDs)
}

func TestGroup_list_children_after_stop(t *testing.T) {
	g := newTestGroup(t, "group")

	d1, err := g.Track(t.Context(), "device1")
	require.NoError(t, err)
	_, err = g.Track(t.Context(), "device2")
	require.NoError(t, err)

	require.NoError(t, d1.Handle.Passivate(t.Context()))
	<-d1.Handle.Done()

	require.Eventually(t, func() bool {
		list, err := g.ListChildren(t.Context(), "1")
		return err == nil && len(list.IDs) == 1 && list.IDs[0] == "device2"
	}, time.Second, 10*time.Millisecond)

	// a stopped device is recreated on the next Track
	again, err := g.Track(t.Context(), "device1")
	require.NoError(t, err)
	require.True(t, again.Created)
	require.NotSame(t, d1.Handle, again.Handle)
}

func TestGroup_query_all(t *testing.T) {
	g := newTestGroup(t, "group")

	d1, err := g.Track(t.Context(), "device1")
	require.NoError(t, err)
	_, err = g.Track(t.Context(), "device2")
	require.NoError(t, err)
	d3, err := g.Track(t.Context(), "device3")
	require.NoError(t, err)

	_, err = d1.Handle.Record(t.Context(), worker.RecordRequest{RequestID: "0", Value: 1.0})
	require.NoError(t, err)
	_, err = d3.Handle.Record(t.Context(), worker.RecordRequest{RequestID: "1", Value: 3.0})
	require.NoError(t, err)

	reply, err := g.QueryAll(t.Context(), "q1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "q1", reply.RequestID)
	require.Equal(t, map[string]query.Result{
		"device1": query.Value(1.0),
		"device2": query.Unavailable(),
		"device3": query.Value(3.0),
	}, reply.Results)
}

func TestGroup_query_all_empty(t *testing.T) {
	g := newTestGroup(t, "group")
	reply, err := g.QueryAll(t.Context(), "q1", time.Hour)
	require.NoError(t, err)
	require.Empty(t, reply.Results)
}

// slowHandle never answers reads.
type slowHandle struct {
	worker.Handle
	id string
}

func (s slowHandle) ID() string            { return s.id }
func (s slowHandle) Done() <-chan struct{} { return nil }
func (s slowHandle) Read(ctx context.Context, _ worker.ReadRequest) (*worker.Reading, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGroup_query_all_timeout(t *testing.T) {
	g, err := New(Options{
		GroupKey: "group",
		Context:  t.Context(),
		NewWorker: func(ctx context.Context, key string) (worker.Handle, error) {
			return slowHandle{id: key}, nil
		},
		QueryTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = g.Track(t.Context(), "device1")
	require.NoError(t, err)

	reply, err := g.QueryAll(t.Context(), "q1", 0)
	require.NoError(t, err)
	require.Equal(t, query.TimedOut(), reply.Results["device1"])
}

func TestGroup_readings_persist(t *testing.T) {
	store := kv.NewMemStore()

	ctx, cancel := context.WithCancel(t.Context())
	g, err := New(Options{GroupKey: "group", Context: ctx, Store: store})
	require.NoError(t, err)
	d, err := g.Track(ctx, "device1")
	require.NoError(t, err)
	_, err = d.Handle.Record(ctx, worker.RecordRequest{Value: 21.5})
	require.NoError(t, err)
	cancel()
	<-g.Done()

	g = newTestGroupWithStore(t, store)
	reply, err := g.QueryAll(t.Context(), "q", 0)
	require.NoError(t, err)
	require.Empty(t, reply.Results)

	_, err = g.Track(t.Context(), "device1")
	require.NoError(t, err)
	reply, err = g.QueryAll(t.Context(), "q", 0)
	require.NoError(t, err)
	require.Equal(t, query.Value(21.5), reply.Results["device1"])
}

func newTestGroupWithStore(t *testing.T, store kv.Store) *Group {
	t.Helper()
	g, err := New(Options{GroupKey: "group", Context: t.Context(), Store: store})
	require.NoError(t, err)
	return g
}
