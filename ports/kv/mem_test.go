package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Memory(t *testing.T) {
	type reading struct {
		Device string
		Value  float64
	}
	s := NewMemStore()

	_, err := Get[reading](t.Context(), s, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Put(t.Context(), s, "d1", reading{Device: "d1", Value: 1.5}, PutOptions{}))
	require.NoError(t, Put(t.Context(), s, "d2", reading{Device: "d2", Value: 2}, PutOptions{}))

	loaded, err := Get[reading](t.Context(), s, "d1")
	require.NoError(t, err)
	require.Equal(t, reading{Device: "d1", Value: 1.5}, loaded)

	require.NoError(t, s.Delete(t.Context(), "d1"))
	require.NoError(t, s.Delete(t.Context(), "d1"))
	_, err = Get[reading](t.Context(), s, "d1")
	require.ErrorIs(t, err, ErrNotFound)
}

func Test_Memory_TTL(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, Put(t.Context(), s, "k", 1, PutOptions{TTL: 20 * time.Millisecond}))

	v, err := Get[int](t.Context(), s, "k")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	time.Sleep(30 * time.Millisecond)
	_, err = Get[int](t.Context(), s, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func Test_Prefixed(t *testing.T) {
	base := NewMemStore()
	p := Prefixed(base, "node-1/")

	require.NoError(t, Put(t.Context(), p, "members", []string{"w1"}, PutOptions{}))

	v, err := Get[[]string](t.Context(), base, "node-1/members")
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, v)

	require.NoError(t, p.Delete(t.Context(), "members"))
	_, err = base.Get(t.Context(), "node-1/members")
	require.ErrorIs(t, err, ErrNotFound)
}
