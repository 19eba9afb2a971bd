package cluster

import (
	"context"
)

type Subscription interface {
	Unsubscribe() error
}

type ServerHandlerFunc = func(ctx context.Context, env Envelope) ([]byte, error)

type ClientTransport interface {
	// Request delivers env to a subscriber of its shard and waits for the reply.
	Request(ctx context.Context, env Envelope) ([]byte, error)
	Close() error
}

type ServerTransport interface {
	// SubscribeShard delivers envelopes for shardID to h until ctx is done.
	SubscribeShard(ctx context.Context, shardID uint32, h ServerHandlerFunc) (Subscription, error)
	Close() error
}

type Transport interface {
	ClientTransport
	ServerTransport
}
