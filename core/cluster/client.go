package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

type ClientOptions struct {
	Transport ClientTransport
	NumShards uint32
	Seed      string
	// EnvelopeOptions apply to every envelope the client sends.
	EnvelopeOptions []EnvelopeOption
	Metrics         ClusterMetrics
}

// Client routes requests to shards, either directly or by key.
type Client struct {
	t         ClientTransport
	numShards uint32
	seed      string
	opts      []EnvelopeOption
	metrics   ClusterMetrics
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("cluster: ClientOptions.Transport is required")
	}
	if opts.NumShards == 0 {
		return nil, errors.New("cluster: ClientOptions.NumShards is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = NopClusterMetrics()
	}
	return &Client{
		t:         opts.Transport,
		numShards: opts.NumShards,
		seed:      opts.Seed,
		opts:      opts.EnvelopeOptions,
		metrics:   opts.Metrics,
	}, nil
}

func (c *Client) ShardFor(key string) uint32 { return ShardFromString(key, c.numShards, c.seed) }

func (c *Client) envelope(shard uint32, msgType string, data []byte, opts []EnvelopeOption) (Envelope, error) {
	if shard >= c.numShards {
		return Envelope{}, fmt.Errorf("%w: %d out of range (num_shards=%d)", ErrInvalidShard, shard, c.numShards)
	}
	e := Envelope{Shard: int(shard), Type: msgType, Data: data}
	for _, opt := range c.opts {
		opt(&e)
	}
	for _, opt := range opts {
		opt(&e)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	e.stamp()
	return e, nil
}

func (c *Client) recordError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrTransportNoShardSubscriber):
		c.metrics.TransportError("no_subscriber")
	case errors.Is(err, ErrHandlerTimeout), errors.Is(err, context.DeadlineExceeded):
		c.metrics.TransportError("timeout")
	case errors.Is(err, ErrEnvelopeExpired):
		c.metrics.TransportError("ttl_expired")
	case errors.Is(err, ErrTransportClosed):
		c.metrics.TransportError("closed")
	}
}

// RequestShard sends a raw request to shard and returns the raw reply.
func (c *Client) RequestShard(ctx context.Context, shard uint32, msgType string, data []byte, opts ...EnvelopeOption) ([]byte, error) {
	env, err := c.envelope(shard, msgType, data, opts)
	if err != nil {
		return nil, err
	}
	timer := c.metrics.RequestDuration(msgType)
	res, err := c.t.Request(ctx, env)
	timer.ObserveDuration()
	c.metrics.RequestCompleted(msgType, err == nil)
	c.recordError(err)
	return res, err
}

// NotifyShard is RequestShard without a reply payload.
func (c *Client) NotifyShard(ctx context.Context, shard uint32, msgType string, data []byte, opts ...EnvelopeOption) error {
	env, err := c.envelope(shard, msgType, data, opts)
	if err != nil {
		return err
	}
	_, err = c.t.Request(ctx, env)
	c.metrics.NotifyCompleted(msgType, err == nil)
	c.recordError(err)
	return err
}

// Key scopes requests to the shard of key and tags them with it.
func (c *Client) Key(key string, opts ...EnvelopeOption) *ScopedClient {
	return &ScopedClient{
		client: c,
		shard:  c.ShardFor(key),
		key:    key,
		opts:   append([]EnvelopeOption{WithHeader(headerKey, key)}, opts...),
	}
}

func (c *Client) Shard(shard uint32) *ScopedClient {
	return &ScopedClient{client: c, shard: shard}
}

type ScopedClient struct {
	client *Client
	shard  uint32
	key    string
	opts   []EnvelopeOption
}

func (c *ScopedClient) Key() string { return c.key }

func (c *ScopedClient) GetNodeInfo(ctx context.Context) (*GetNodeInfoResponse, error) {
	return NewRequest[GetNodeInfoRequest, GetNodeInfoResponse](c).Request(ctx, GetNodeInfoRequest{})
}

func (c *ScopedClient) requestRaw(ctx context.Context, msgType string, data []byte, opts ...EnvelopeOption) ([]byte, error) {
	return c.client.RequestShard(ctx, c.shard, msgType, data, slices.Concat(c.opts, opts)...)
}

func encodePayload(payload any) (string, []byte, error) {
	if v, ok := payload.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return "", nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	return messageType(payload), data, nil
}

func (c *ScopedClient) Request(ctx context.Context, payload any, opts ...EnvelopeOption) ([]byte, error) {
	msgType, data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return c.requestRaw(ctx, msgType, data, opts...)
}

func (c *ScopedClient) Notify(ctx context.Context, payload any, opts ...EnvelopeOption) error {
	msgType, data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	return c.client.NotifyShard(ctx, c.shard, msgType, data, slices.Concat(c.opts, opts)...)
}

type Requester interface {
	requestRaw(ctx context.Context, msgType string, data []byte, opts ...EnvelopeOption) ([]byte, error)
}

// Request is a typed request/response pair over a Requester.
type Request[IN any, OUT any] struct {
	requester Requester
	opts      []EnvelopeOption
}

func NewRequest[IN any, OUT any](requester Requester, opts ...EnvelopeOption) *Request[IN, OUT] {
	return &Request[IN, OUT]{requester: requester, opts: opts}
}

func (r *Request[IN, OUT]) Request(ctx context.Context, payload IN) (*OUT, error) {
	msgType, data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	data, err = r.requester.requestRaw(ctx, msgType, data, r.opts...)
	if err != nil {
		return nil, err
	}
	out := new(OUT)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", msgType, err)
	}
	return out, nil
}
