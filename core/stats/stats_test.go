package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/fanout/core/cluster"
	"github.com/codewandler/fanout/core/membership"
	"github.com/codewandler/fanout/core/worker"
)

func newRegistry(t *testing.T) *membership.Registry {
	t.Helper()
	return membership.New(membership.Options{Topic: "stats", Context: t.Context()})
}

func addWorker(t *testing.T, reg *membership.Registry, id string) *worker.Worker {
	t.Helper()
	w, err := worker.New(worker.Options{ID: id, Context: t.Context()})
	require.NoError(t, err)
	reg.Put(id, w, membership.Member{ID: id})
	return w
}

func newService(t *testing.T, reg *membership.Registry, timeout time.Duration) *Service {
	t.Helper()
	s, err := New(Options{Registry: reg, Context: t.Context(), Timeout: timeout})
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

// lengthHandle answers with the word length, except for "slow", which it
// never answers.
type lengthHandle struct {
	worker.Handle
	id string
}

func (h lengthHandle) ID() string            { return h.id }
func (h lengthHandle) Done() <-chan struct{} { return nil }
func (h lengthHandle) Process(ctx context.Context, req worker.ProcessRequest) (*worker.ProcessReply, error) {
	if req.Input == "slow" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &worker.ProcessReply{RequestID: req.RequestID, WorkerID: h.id, Output: len(req.Input)}, nil
}

func TestService_requires_registry(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoRegistry)
}

func TestService_mean_word_length(t *testing.T) {
	reg := newRegistry(t)
	addWorker(t, reg, "w-1")
	addWorker(t, reg, "w-2")
	s := newService(t, reg, time.Second)

	res, err := s.Process(t.Context(), "hello big  world")
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Equal(t, 3, res.Words)
	require.Equal(t, 3, res.Answered)
	require.InDelta(t, 13.0/3, res.MeanWordLength, 1e-9)
	require.False(t, res.Partial())
	require.NotEmpty(t, res.RequestID)
}

func TestService_empty_text(t *testing.T) {
	reg := newRegistry(t)
	addWorker(t, reg, "w-1")
	s := newService(t, reg, time.Second)

	res, err := s.Process(t.Context(), "  \t ")
	require.NoError(t, err)
	require.Equal(t, FailedEmptyText, res.Failed)
	require.True(t, res.Partial())
}

func TestService_no_workers(t *testing.T) {
	s := newService(t, newRegistry(t), time.Second)

	res, err := s.Process(t.Context(), "some words")
	require.NoError(t, err)
	require.Equal(t, FailedUnavailable, res.Failed)
}

func TestService_follows_membership(t *testing.T) {
	reg := newRegistry(t)
	s := newService(t, reg, time.Second)

	res, err := s.Process(t.Context(), "abc")
	require.NoError(t, err)
	require.Equal(t, FailedUnavailable, res.Failed)

	addWorker(t, reg, "w-1")
	require.Eventually(t, func() bool {
		res, err := s.Process(t.Context(), "abc")
		return err == nil && res.Failed == "" && res.MeanWordLength == 3
	}, time.Second, 10*time.Millisecond)

	require.True(t, reg.Remove("w-1", nil))
	require.Eventually(t, func() bool {
		res, err := s.Process(t.Context(), "abc")
		return err == nil && res.Failed == FailedUnavailable
	}, time.Second, 10*time.Millisecond)
}

func TestService_partial_on_timeout(t *testing.T) {
	reg := newRegistry(t)
	reg.Put("w-1", lengthHandle{id: "w-1"}, membership.Member{ID: "w-1"})
	s := newService(t, reg, 50*time.Millisecond)

	res, err := s.Process(t.Context(), "hello slow abcde")
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Equal(t, 3, res.Words)
	require.Equal(t, 2, res.Answered)
	require.InDelta(t, 5.0, res.MeanWordLength, 1e-9)
	require.True(t, res.Partial())
}

func TestService_all_workers_gone(t *testing.T) {
	reg := newRegistry(t)
	w := addWorker(t, reg, "w-1")
	s := newService(t, reg, time.Second)

	// the registry still lists the worker, the request finds it terminated
	w.Stop()
	<-w.Done()

	res, err := s.Process(t.Context(), "one two")
	require.NoError(t, err)
	require.Equal(t, FailedNoAnswers, res.Failed)
}

func TestService_over_cluster(t *testing.T) {
	reg := newRegistry(t)
	addWorker(t, reg, "w-1")
	s := newService(t, reg, time.Second)

	tr := cluster.CreateInMemoryTransport(t)
	cluster.CreateTestCluster(t, tr, 2, 8, "", cluster.RouteByKey(
		map[string]cluster.ServerHandlerFunc{ServiceKey: s.Handler()},
		nil,
	))
	c, err := cluster.NewClient(cluster.ClientOptions{Transport: tr, NumShards: 8})
	require.NoError(t, err)

	remote := NewRemote(c, time.Second)
	res, err := remote.Process(t.Context(), "ab abcd")
	require.NoError(t, err)
	require.InDelta(t, 3.0, res.MeanWordLength, 1e-9)
	require.Equal(t, 2, res.Answered)

	res, err = remote.Process(t.Context(), "")
	require.NoError(t, err)
	require.Equal(t, FailedEmptyText, res.Failed)

	res, err = remote.ProcessRequest(t.Context(), "req-42", "abc")
	require.NoError(t, err)
	require.Equal(t, "req-42", res.RequestID)
}
