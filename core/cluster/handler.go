package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/cache"
)

type ScopedHandlerOpts struct {
	Extract func(env Envelope) (key string, err error)
	Create  func(key string) (ServerHandlerFunc, error)
	// CacheSize bounds the number of live per-key handlers, least recently
	// used first out. Zero or less keeps all of them.
	CacheSize int
}

// NewScopedHandler dispatches every envelope to a handler created once per
// extracted key.
func NewScopedHandler(opts ScopedHandlerOpts) ServerHandlerFunc {
	var (
		mu       sync.Mutex
		handlers cache.TypedCache[ServerHandlerFunc]
		all      = map[string]ServerHandlerFunc{}
	)
	if opts.CacheSize > 0 {
		handlers = cache.NewTyped[ServerHandlerFunc](cache.NewLRU(cache.LRUOpts{Size: opts.CacheSize}))
	}

	lookup := func(key string) (ServerHandlerFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if handlers != nil {
			if h, ok := handlers.Get(key); ok {
				return h, nil
			}
		} else if h, ok := all[key]; ok {
			return h, nil
		}
		h, err := opts.Create(key)
		if err != nil {
			return nil, err
		}
		if handlers != nil {
			handlers.Put(key, h)
		} else {
			all[key] = h
		}
		return h, nil
	}

	return func(ctx context.Context, env Envelope) ([]byte, error) {
		key, err := opts.Extract(env)
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, ErrKeyRequired
		}
		h, err := lookup(key)
		if err != nil {
			return nil, err
		}
		return h(ctx, env)
	}
}

func keyFromHeader(env Envelope) (string, error) {
	key, ok := env.Key()
	if !ok {
		return "", ErrMissingKeyHeader
	}
	return key, nil
}

// NewKeyHandler scopes handlers by the routing key set through Client.Key.
func NewKeyHandler(create func(key string) (ServerHandlerFunc, error)) ServerHandlerFunc {
	return NewKeyHandlerWithOpts(create, 0)
}

func NewKeyHandlerWithOpts(create func(key string) (ServerHandlerFunc, error), cacheSize int) ServerHandlerFunc {
	return NewScopedHandler(ScopedHandlerOpts{
		Extract:   keyFromHeader,
		Create:    create,
		CacheSize: cacheSize,
	})
}

// ActorFactory returns the actor serving key.
type ActorFactory func(key string) (actor.Actor, error)

// NewActorHandler forwards keyed envelopes to actors as raw requests and
// encodes their replies as JSON.
func NewActorHandler(factory ActorFactory) ServerHandlerFunc {
	return NewKeyHandler(func(key string) (ServerHandlerFunc, error) {
		act, err := factory(key)
		if err != nil {
			return nil, err
		}
		return ActorHandler(act), nil
	})
}

// ActorHandler forwards envelopes to one actor.
func ActorHandler(act actor.Actor) ServerHandlerFunc {
	return func(ctx context.Context, env Envelope) ([]byte, error) {
		res, err := actor.RawRequest(ctx, act, env.Type, env.Data)
		if err != nil {
			return nil, fmt.Errorf("actor %s: %w", act.ID(), err)
		}
		return json.Marshal(res)
	}
}

// RouteByKey sends envelopes whose routing key has an entry in routes to
// that handler and everything else to fallback.
func RouteByKey(routes map[string]ServerHandlerFunc, fallback ServerHandlerFunc) ServerHandlerFunc {
	return func(ctx context.Context, env Envelope) ([]byte, error) {
		if key, ok := env.Key(); ok {
			if h, ok := routes[key]; ok {
				return h(ctx, env)
			}
		}
		if fallback == nil {
			return nil, ErrUnknownKey
		}
		return fallback(ctx, env)
	}
}
