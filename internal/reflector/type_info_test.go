package reflector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct{ Name string }

func TestNameOf(t *testing.T) {
	const want = "github.com/codewandler/fanout/internal/reflector.sample"
	require.Equal(t, want, NameOf(sample{}))
	require.Equal(t, want, NameOf(&sample{}))
	require.Equal(t, want, NameFor[sample]())
	require.Equal(t, want, NameFor[*sample]())
	require.Empty(t, NameOf(nil))

	// unnamed and predeclared types use their literal form
	require.Equal(t, "string", NameOf("x"))
	require.Equal(t, "map[string]int", NameOf(map[string]int{}))
}

func TestNameOf_concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, NameFor[sample](), NameOf(sample{}))
		}()
	}
	wg.Wait()
}
