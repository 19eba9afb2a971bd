package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	n := NewNop()
	n.Put("key", "val")
	val, ok := n.Get("key")
	require.False(t, ok)
	require.Nil(t, val)

	n.Delete("key")
	n.Clear()
	require.Zero(t, n.Len())
}
