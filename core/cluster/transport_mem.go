package cluster

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemoryTransport connects clients and nodes of one process. Replies go
// through the same frame encoding as networked transports.
type MemoryTransport struct {
	log *slog.Logger
	seq atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	closeCh chan struct{}
	subs    map[uint32]map[uint64]ServerHandlerFunc
}

func NewInMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		log:     slog.New(slog.DiscardHandler),
		closeCh: make(chan struct{}),
		subs:    make(map[uint32]map[uint64]ServerHandlerFunc),
	}
}

func (t *MemoryTransport) WithLog(log *slog.Logger) *MemoryTransport {
	t.log = log.With(slog.String("transport", "mem"))
	return t
}

func (t *MemoryTransport) Request(ctx context.Context, env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	env.stamp()
	if env.Expired() {
		return nil, ErrEnvelopeExpired
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	handlers := slices.Collect(maps.Values(t.subs[uint32(env.Shard)]))
	t.mu.RUnlock()

	if len(handlers) == 0 {
		return nil, ErrTransportNoShardSubscriber
	}

	env.ReplyTo = "mem.inbox." + strconv.FormatUint(t.seq.Add(1), 10)

	// every subscriber sees the request, the first reply wins
	replies := make(chan []byte, len(handlers))
	for _, h := range handlers {
		go func() {
			data, err := h(ctx, env)
			if err != nil {
				t.log.Debug("handler failed", slog.String("type", env.Type), slog.Any("error", err))
			}
			replies <- EncodeResponse(data, err)
		}()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closeCh:
		return nil, ErrTransportClosed
	case b := <-replies:
		return DecodeResponse(b)
	}
}

func (t *MemoryTransport) SubscribeShard(ctx context.Context, shardID uint32, h ServerHandlerFunc) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	id := t.seq.Add(1)
	if t.subs[shardID] == nil {
		t.subs[shardID] = make(map[uint64]ServerHandlerFunc)
	}
	t.subs[shardID][id] = h
	t.log.Debug("subscribe", slog.Int("shard", int(shardID)))

	s := &memSubscription{t: t, shard: shardID, id: id}
	context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	return s, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closeCh)
	clear(t.subs)
	t.log.Debug("closed")
	return nil
}

type memSubscription struct {
	t     *MemoryTransport
	shard uint32
	id    uint64
	once  sync.Once
}

func (s *memSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		defer s.t.mu.Unlock()
		delete(s.t.subs[s.shard], s.id)
		if len(s.t.subs[s.shard]) == 0 {
			delete(s.t.subs, s.shard)
		}
	})
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
