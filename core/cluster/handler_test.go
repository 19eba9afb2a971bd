package cluster

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func keyed(key string) Envelope {
	return Envelope{Headers: map[string]string{headerKey: key}}
}

func countingCreate(created *atomic.Int32) func(key string) (ServerHandlerFunc, error) {
	return func(key string) (ServerHandlerFunc, error) {
		created.Add(1)
		return func(ctx context.Context, env Envelope) ([]byte, error) {
			return []byte(key), nil
		}, nil
	}
}

func TestKeyHandler_creates_once_per_key(t *testing.T) {
	var created atomic.Int32
	h := NewKeyHandler(countingCreate(&created))

	for range 3 {
		res, err := h(t.Context(), keyed("a"))
		require.NoError(t, err)
		require.Equal(t, "a", string(res))
	}
	_, err := h(t.Context(), keyed("b"))
	require.NoError(t, err)
	require.EqualValues(t, 2, created.Load())
}

func TestKeyHandler_bounded(t *testing.T) {
	var created atomic.Int32
	h := NewKeyHandlerWithOpts(countingCreate(&created), 1)

	_, err := h(t.Context(), keyed("a"))
	require.NoError(t, err)
	_, err = h(t.Context(), keyed("b"))
	require.NoError(t, err)
	// "a" was pushed out by "b"
	_, err = h(t.Context(), keyed("a"))
	require.NoError(t, err)
	require.EqualValues(t, 3, created.Load())
}

func TestKeyHandler_errors(t *testing.T) {
	var created atomic.Int32
	h := NewKeyHandler(countingCreate(&created))

	_, err := h(t.Context(), Envelope{})
	require.ErrorIs(t, err, ErrMissingKeyHeader)

	_, err = h(t.Context(), keyed(""))
	require.ErrorIs(t, err, ErrKeyRequired)
	require.Zero(t, created.Load())
}

func TestScopedHandler_custom_extract(t *testing.T) {
	h := NewScopedHandler(ScopedHandlerOpts{
		Extract: func(env Envelope) (string, error) { return env.Type, nil },
		Create: func(key string) (ServerHandlerFunc, error) {
			return func(ctx context.Context, env Envelope) ([]byte, error) {
				return []byte("type:" + key), nil
			}, nil
		},
	})
	res, err := h(t.Context(), Envelope{Type: "ping"})
	require.NoError(t, err)
	require.Equal(t, "type:ping", string(res))
}

func TestRouteByKey(t *testing.T) {
	fixed := func(s string) ServerHandlerFunc {
		return func(ctx context.Context, env Envelope) ([]byte, error) { return []byte(s), nil }
	}

	h := RouteByKey(map[string]ServerHandlerFunc{"service": fixed("service")}, fixed("fallback"))
	res, err := h(t.Context(), keyed("service"))
	require.NoError(t, err)
	require.Equal(t, "service", string(res))

	res, err = h(t.Context(), keyed("w-1"))
	require.NoError(t, err)
	require.Equal(t, "fallback", string(res))

	res, err = h(t.Context(), Envelope{})
	require.NoError(t, err)
	require.Equal(t, "fallback", string(res))

	_, err = RouteByKey(nil, nil)(t.Context(), keyed("x"))
	require.ErrorIs(t, err, ErrUnknownKey)
}
