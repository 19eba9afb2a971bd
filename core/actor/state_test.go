package actor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestState_JSON(t *testing.T) {
	type Data struct {
		Value int `json:"value"`
	}
	writes := 0
	s := NewState[Data](
		t.Context(),
		&Data{Value: 42},
		func(d *Data) { writes++ },
	)
	inc := func(d *Data) { d.Value++ }

	go func() {
		for i := 0; i < 10; i++ {
			_, _ = json.Marshal(s)
		}
	}()

	s.Process(inc, inc, inc)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.Equal(t, `{"value":45}`, string(data))

	v := Read(s, func(d *Data) int { return d.Value })
	require.Equal(t, 45, v)

	require.NoError(t, json.Unmarshal([]byte(`{"value":1}`), s))
	require.Equal(t, 1, Read(s, func(d *Data) int { return d.Value }))
	require.Equal(t, 2, Read(s, func(*Data) int { return writes }))
}

func TestState_process_after_cancel(t *testing.T) {
	type Data struct{ Value int }
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(t.Context())
		s := NewState[Data](ctx, &Data{}, nil)
		cancel()
		time.Sleep(time.Millisecond)

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Process(func(d *Data) { d.Value++ })
			_ = Read(s, func(d *Data) int { return d.Value })
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("state op hung after cancel (iteration %d)", i)
		}
		<-s.Stopped()
	}
}

func TestState_cancel_waits_for_running_op(t *testing.T) {
	type Data struct{ Value int }
	ctx, cancel := context.WithCancel(t.Context())
	s := NewState[Data](ctx, &Data{}, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	go s.Process(func(d *Data) {
		close(started)
		<-release
		d.Value = 7
	})
	<-started
	cancel()

	returned := make(chan int, 1)
	go func() { returned <- Read(s, func(d *Data) int { return d.Value }) }()
	select {
	case <-returned:
		t.Fatal("Read returned while an op was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-s.Stopped():
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Read did not return after the owner stopped")
	}
}
