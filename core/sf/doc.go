// Package sf wraps golang.org/x/sync/singleflight with a typed API.
//
// The membership registry uses it so that concurrent create-if-absent
// calls for the same worker key run the factory exactly once:
//
//	h, shared, err := g.Do("device01", func() (worker.Handle, error) {
//	    return spawn("device01")
//	})
package sf
