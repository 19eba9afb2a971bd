package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/fanout/core/cluster"
)

const defaultPrefix = "fanout"

type TransportConfig struct {
	Connect       Connector    // Connect creates the underlying connection, default ConnectDefault().
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for shard subjects, e.g. "fanout" -> fanout.shard.<id>
}

// Transport carries cluster envelopes over core NATS. Every shard is one
// subject; replies go to a per-request inbox.
type Transport struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	prefix  string

	mu       sync.Mutex
	subs     map[*natsgo.Subscription]struct{}
	handlers sync.WaitGroup

	closed atomic.Bool
}

func NewTransport(cfg TransportConfig) (*Transport, error) {
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}

	return &Transport{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("transport", "nats")),
		prefix:  prefix,
		subs:    make(map[*natsgo.Subscription]struct{}),
	}, nil
}

func (t *Transport) subjectShard(shardID uint32) string {
	return t.prefix + ".shard." + strconv.FormatUint(uint64(shardID), 10)
}

func (t *Transport) Request(ctx context.Context, env cluster.Envelope) ([]byte, error) {
	if t.closed.Load() {
		return nil, cluster.ErrTransportClosed
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Expired() {
		return nil, cluster.ErrEnvelopeExpired
	}

	inbox := natsgo.NewInbox()
	ch := make(chan *natsgo.Msg, 1)
	sub, err := t.nc.ChanSubscribe(inbox, ch)
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe inbox: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	// the first reply wins, more are not expected
	if err := sub.AutoUnsubscribe(1); err != nil {
		return nil, fmt.Errorf("nats: limit inbox: %w", err)
	}

	env.ReplyTo = inbox
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	// the NATS reply subject makes the server answer 503 without subscribers
	msg := &natsgo.Msg{Subject: t.subjectShard(uint32(env.Shard)), Reply: inbox, Data: payload}
	if err := t.nc.PublishMsg(msg); err != nil {
		return nil, fmt.Errorf("nats: publish: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-ch:
		if noResponders(msg) {
			return nil, cluster.ErrTransportNoShardSubscriber
		}
		return cluster.DecodeResponse(msg.Data)
	}
}

// statusHdr carries the server's status code on header-only replies. nats.go
// keeps its own constant unexported.
const statusHdr = "Status"

// noResponders reports the server's 503 answer to a request nobody listens to.
func noResponders(msg *natsgo.Msg) bool {
	return msg != nil && len(msg.Data) == 0 && msg.Header.Get(statusHdr) == "503"
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	for s := range t.subs {
		_ = s.Unsubscribe()
	}
	clear(t.subs)
	t.mu.Unlock()

	t.handlers.Wait()
	if t.nc != nil {
		// the connection may be shared, so flush instead of draining it
		_ = t.nc.Flush()
		t.closeNc()
	}
	return nil
}

// SubscribeShard serves shardID with h. Envelopes are handled concurrently,
// so a handler may issue requests to its own shard.
func (t *Transport) SubscribeShard(ctx context.Context, shardID uint32, h cluster.ServerHandlerFunc) (cluster.Subscription, error) {
	if t.closed.Load() {
		return nil, cluster.ErrTransportClosed
	}

	sub, err := t.nc.Subscribe(t.subjectShard(shardID), func(msg *natsgo.Msg) {
		var env cluster.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.log.Error("failed to decode envelope", slog.Any("error", err))
			return
		}

		t.handlers.Add(1)
		go func() {
			defer t.handlers.Done()
			data, err := h(ctx, env)
			if env.ReplyTo == "" {
				return
			}
			if err := t.nc.Publish(env.ReplyTo, cluster.EncodeResponse(data, err)); err != nil {
				t.log.Error("failed to publish reply", slog.Any("error", err))
			}
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe shard: %w", err)
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	s := &subscription{sub: sub, t: t}
	context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	return s, nil
}

type subscription struct {
	sub  *natsgo.Subscription
	t    *Transport
	once sync.Once
}

func (s *subscription) Unsubscribe() (err error) {
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		s.t.mu.Lock()
		delete(s.t.subs, s.sub)
		s.t.mu.Unlock()
	})
	if err != nil && s.t.closed.Load() {
		return nil
	}
	return err
}

var _ cluster.Transport = (*Transport)(nil)
