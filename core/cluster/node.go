package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type NodeOptions struct {
	Log       *slog.Logger
	NodeID    string
	Transport ServerTransport
	Shards    []uint32
	Handler   ServerHandlerFunc
	Metrics   ClusterMetrics
}

// Node serves the shards it owns with one handler.
type Node struct {
	log     *slog.Logger
	nodeID  string
	t       ServerTransport
	h       ServerHandlerFunc
	shards  []uint32
	metrics ClusterMetrics
	active  atomic.Int64
}

func NewNode(opts NodeOptions) *Node {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.NodeID == "" {
		opts.NodeID = "node-" + gonanoid.Must(6)
	}
	if opts.Handler == nil {
		opts.Handler = func(context.Context, Envelope) ([]byte, error) {
			return nil, errors.New("no handler registered")
		}
	}
	if opts.Metrics == nil {
		opts.Metrics = NopClusterMetrics()
	}
	return &Node{
		log:     opts.Log.With(slog.String("node", opts.NodeID)),
		nodeID:  opts.NodeID,
		t:       opts.Transport,
		h:       opts.Handler,
		shards:  opts.Shards,
		metrics: opts.Metrics,
	}
}

func (n *Node) ID() string       { return n.nodeID }
func (n *Node) Shards() []uint32 { return append([]uint32(nil), n.shards...) }

func (n *Node) handle(ctx context.Context, env Envelope) ([]byte, error) {
	if env.Expired() {
		return nil, ErrEnvelopeExpired
	}
	if env.Type == MsgNodeInfo {
		return json.Marshal(GetNodeInfoResponse{NodeID: n.nodeID, Shards: n.shards})
	}

	if ttl := env.TTL(); ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}

	n.metrics.HandlersActive(n.nodeID, int(n.active.Add(1)))
	defer func() { n.metrics.HandlersActive(n.nodeID, int(n.active.Add(-1))) }()
	timer := n.metrics.HandlerDuration(env.Type)
	defer timer.ObserveDuration()

	data, err := n.h(ctx, env)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && env.TTLMs > 0 {
		err = fmt.Errorf("%w: %s", ErrHandlerTimeout, env.Type)
	}
	n.metrics.HandlerCompleted(env.Type, err == nil)
	if err != nil {
		n.log.Error(
			"failed to handle message",
			slog.Group("envelope",
				slog.Int("shard", env.Shard),
				slog.String("type", env.Type),
				slog.Any("headers", env.Headers),
			),
			slog.Any("error", err),
		)
	}
	return data, err
}

// Run subscribes to every owned shard. Subscriptions end with ctx.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("starting node", slog.Int("num_shards", len(n.shards)))
	n.metrics.ShardsOwned(n.nodeID, len(n.shards))
	for _, s := range n.shards {
		if _, err := n.t.SubscribeShard(ctx, s, n.handle); err != nil {
			return fmt.Errorf("subscribe shard %d: %w", s, err)
		}
	}
	return nil
}
