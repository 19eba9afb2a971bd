package actor

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestActor(t *testing.T, hs ...HandlerRegistration) Actor {
	cfg := Options{
		Context:            t.Context(),
		ControlSize:        10_000,
		MailboxSize:        10_000,
		MaxConcurrentTasks: 1000,
	}
	return New(cfg, TypedHandlers(hs...))
}

type (
	ping struct{ Seq int }
	pong struct{ Seq int }
)

func TestActor_default(t *testing.T) {
	a := newTestActor(
		t,
		DefaultHandler(func(hc HandlerCtx, msg any) (any, error) {
			s := "Hello"
			return &s, nil
		}),
	)

	res, err := Request[string, string](t.Context(), a, "Hi!")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "Hello", *res)
}

func TestActor_simple_request(t *testing.T) {
	a := newTestActor(
		t,
		HandleRequest[ping, pong](func(hc HandlerCtx, ping ping) (*pong, error) {
			return &pong{Seq: ping.Seq + 1}, nil
		}),
	)
	res, err := Request[ping, pong](t.Context(), a, ping{Seq: 1})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 2, res.Seq)
}

func TestActor_raw_request(t *testing.T) {
	a := newTestActor(
		t,
		HandleRequest[ping, pong](func(hc HandlerCtx, ping ping) (*pong, error) {
			return &pong{Seq: ping.Seq * 10}, nil
		}),
	)
	data, err := json.Marshal(ping{Seq: 4})
	require.NoError(t, err)

	res, err := RawRequest(t.Context(), a, msgTypeFor[ping](), data)
	require.NoError(t, err)
	require.Equal(t, &pong{Seq: 40}, res)
}

func TestActor_publish(t *testing.T) {
	type msg struct{ V int }
	ch := make(chan msg, 1)
	a := newTestActor(
		t,
		HandleMsg[msg](func(hc HandlerCtx, msg msg) error {
			ch <- msg
			return nil
		}),
	)

	require.NoError(t, Publish(t.Context(), a, msg{V: 42}))

	select {
	case <-time.After(time.Second):
		t.Fatal("timeout")
	case m := <-ch:
		require.Equal(t, 42, m.V)
	}
}

func TestActor_publish_err(t *testing.T) {
	type msg struct{ V int }
	a := newTestActor(
		t,
		HandleMsg[msg](func(hc HandlerCtx, msg msg) error {
			return fmt.Errorf("uups")
		}),
	)

	require.ErrorContains(t, Publish(t.Context(), a, msg{V: 42}), "uups")
}

func TestActor_panic_is_contained(t *testing.T) {
	type boom struct{}
	a := newTestActor(
		t,
		HandleMsg[boom](func(hc HandlerCtx, _ boom) error { panic("boom") }),
		HandleRequest[ping, pong](func(hc HandlerCtx, p ping) (*pong, error) {
			return &pong{Seq: p.Seq}, nil
		}),
	)

	require.ErrorContains(t, Publish(t.Context(), a, boom{}), "panicked")

	res, err := Request[ping, pong](t.Context(), a, ping{Seq: 7})
	require.NoError(t, err)
	require.Equal(t, 7, res.Seq)
}

func TestActor_tell_pointer(t *testing.T) {
	ch := make(chan int, 1)
	a := newTestActor(
		t,
		HandleMsg[ping](func(hc HandlerCtx, p ping) error {
			ch <- p.Seq
			return nil
		}),
	)
	require.NoError(t, Tell(t.Context(), a, &ping{Seq: 3}))
	require.Equal(t, 3, <-ch)
}

func TestActor_stop_from_handler(t *testing.T) {
	type passivate struct{}
	a := newTestActor(
		t,
		HandleMsg[passivate](func(hc HandlerCtx, _ passivate) error {
			hc.Stop()
			return nil
		}),
	)

	require.NoError(t, Publish(t.Context(), a, passivate{}))

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}

	_, err := Request[ping, pong](t.Context(), a, ping{})
	require.ErrorIs(t, err, ErrActorStopped)
}

func TestActor_stop_is_idempotent(t *testing.T) {
	a := newTestActor(t)
	a.Stop()
	a.Stop()
	<-a.Done()
}

func TestActor_step_mode(t *testing.T) {
	var n atomic.Int32
	a := New(Options{Context: t.Context()}, TypedHandlers(
		HandleMsg[ping](func(hc HandlerCtx, p ping) error {
			n.Add(1)
			return nil
		}),
	)).(*BaseActor)

	require.NoError(t, a.EnableStepMode())
	require.NoError(t, Tell(t.Context(), a, ping{}))
	require.NoError(t, Tell(t.Context(), a, ping{}))

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, n.Load())

	require.NoError(t, a.Step())
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Resume())
	require.Eventually(t, func() bool { return n.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestActor_handle_every(t *testing.T) {
	var n atomic.Int32
	newTestActor(
		t,
		HandleEvery(10*time.Millisecond, func(hc HandlerCtx) error {
			n.Add(1)
			return nil
		}),
	)
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestActor_schedule_sends_back(t *testing.T) {
	type (
		start struct{}
		result struct{ V int }
	)
	ch := make(chan int, 1)
	a := newTestActor(
		t,
		HandleMsg[start](func(hc HandlerCtx, _ start) error {
			hc.Schedule(func() {
				_ = hc.Send(hc, result{V: 99})
			})
			return nil
		}),
		HandleMsg[result](func(hc HandlerCtx, r result) error {
			ch <- r.V
			return nil
		}),
	)
	require.NoError(t, Tell(t.Context(), a, start{}))
	require.Equal(t, 99, <-ch)
}
