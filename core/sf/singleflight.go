package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls with the same key.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn once per key at a time. Callers arriving while fn is in
// flight wait and receive the same result with shared=true.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	res, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if res != nil {
		v = res.(T)
	}
	return v, shared, err
}

// Forget lets the next Do for key run fn again even if a call is in flight.
func (g *Group[T]) Forget(key string) { g.group.Forget(key) }

func New[T any]() *Group[T] {
	return &Group[T]{}
}
