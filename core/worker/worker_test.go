package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/cache"
	"github.com/codewandler/fanout/ports/kv"
)

func newTestWorker(t *testing.T, opts Options) *Worker {
	t.Helper()
	if opts.ID == "" {
		opts.ID = "w1"
	}
	opts.Context = t.Context()
	w, err := New(opts)
	require.NoError(t, err)
	return w
}

func TestWorker_requires_id(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoID)
}

func TestWorker_process_is_memoized(t *testing.T) {
	var calls atomic.Int32
	w := newTestWorker(t, Options{
		Fn: func(in string) int {
			calls.Add(1)
			return len(in)
		},
	})

	r1, err := w.Process(t.Context(), ProcessRequest{RequestID: "r1", Input: "hello"})
	require.NoError(t, err)
	require.Equal(t, 5, r1.Output)
	require.False(t, r1.Cached)
	require.Equal(t, "w1", r1.WorkerID)

	r2, err := w.Process(t.Context(), ProcessRequest{RequestID: "r2", Input: "hello"})
	require.NoError(t, err)
	require.Equal(t, 5, r2.Output)
	require.True(t, r2.Cached)
	require.Equal(t, "r2", r2.RequestID)

	require.EqualValues(t, 1, calls.Load())
}

func TestWorker_default_fn_counts_runes(t *testing.T) {
	w := newTestWorker(t, Options{})
	r, err := w.Process(t.Context(), ProcessRequest{Input: "größe"})
	require.NoError(t, err)
	require.Equal(t, 5, r.Output)
}

func TestWorker_evicts_cache_periodically(t *testing.T) {
	c := cache.NewLRU(cache.LRUOpts{Size: 16})
	t.Cleanup(c.Close)

	w := newTestWorker(t, Options{Cache: c, EvictInterval: 20 * time.Millisecond})

	_, err := w.Process(t.Context(), ProcessRequest{Input: "abc"})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	r, err := w.Process(t.Context(), ProcessRequest{Input: "abc"})
	require.NoError(t, err)
	require.False(t, r.Cached)
}

func TestWorker_record_and_read(t *testing.T) {
	w := newTestWorker(t, Options{ID: "device01"})

	r, err := w.Read(t.Context(), ReadRequest{RequestID: "42"})
	require.NoError(t, err)
	require.Equal(t, "42", r.RequestID)
	require.Equal(t, "device01", r.WorkerID)
	require.Nil(t, r.Value)

	ack, err := w.Record(t.Context(), RecordRequest{RequestID: "1", Value: 24.0})
	require.NoError(t, err)
	require.Equal(t, "1", ack.RequestID)

	r, err = w.Read(t.Context(), ReadRequest{RequestID: "2"})
	require.NoError(t, err)
	require.NotNil(t, r.Value)
	require.Equal(t, 24.0, *r.Value)

	_, err = w.Record(t.Context(), RecordRequest{RequestID: "3", Value: 55.0})
	require.NoError(t, err)
	r, err = w.Read(t.Context(), ReadRequest{RequestID: "4"})
	require.NoError(t, err)
	require.Equal(t, 55.0, *r.Value)
}

func TestWorker_reading_survives_restart(t *testing.T) {
	store := kv.NewMemStore()

	w := newTestWorker(t, Options{ID: "device01", Store: store})
	_, err := w.Record(t.Context(), RecordRequest{RequestID: "1", Value: 3.5})
	require.NoError(t, err)
	w.Stop()

	w = newTestWorker(t, Options{ID: "device01", Store: store})
	r, err := w.Read(t.Context(), ReadRequest{RequestID: "2"})
	require.NoError(t, err)
	require.NotNil(t, r.Value)
	require.Equal(t, 3.5, *r.Value)
}

type failingStore struct {
	kv.Store
	fail atomic.Bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	if s.fail.Load() {
		return errStoreDown
	}
	return s.Store.Put(ctx, key, entry, opts)
}

func TestWorker_failed_record_keeps_previous_reading(t *testing.T) {
	store := &failingStore{Store: kv.NewMemStore()}
	w := newTestWorker(t, Options{ID: "device01", Store: store})

	_, err := w.Record(t.Context(), RecordRequest{RequestID: "1", Value: 1.5})
	require.NoError(t, err)

	store.fail.Store(true)
	_, err = w.Record(t.Context(), RecordRequest{RequestID: "2", Value: 9.0})
	require.ErrorIs(t, err, errStoreDown)

	r, err := w.Read(t.Context(), ReadRequest{RequestID: "3"})
	require.NoError(t, err)
	require.NotNil(t, r.Value)
	require.Equal(t, 1.5, *r.Value)
}

func TestWorker_passivate(t *testing.T) {
	w := newTestWorker(t, Options{})

	require.NoError(t, w.Passivate(t.Context()))
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	require.NoError(t, w.Passivate(t.Context()))
	_, err := w.Read(t.Context(), ReadRequest{})
	require.ErrorIs(t, err, actor.ErrActorStopped)
}
