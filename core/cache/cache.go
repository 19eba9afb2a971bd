package cache

import "time"

type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
	// Clear drops every entry.
	Clear()
	Len() int
}

type TypedCache[T any] interface {
	Put(key string, val T, opts ...PutOption)
	Get(key string) (T, bool)
	Delete(key string)
	Clear()
	Len() int
}

type typedCache[T any] struct {
	Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return &typedCache[T]{Cache: c} }

func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	v, ok := t.Cache.Get(key)
	if !ok {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t *typedCache[T]) Put(key string, val T, opts ...PutOption) {
	t.Cache.Put(key, val, opts...)
}

var _ TypedCache[any] = (*typedCache[any])(nil)
