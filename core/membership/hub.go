package membership

import (
	"context"
	"errors"
	"sync"
)

var ErrHubClosed = errors.New("membership: hub closed")

const hubSubscriberBuffer = 64

// Hub is an in-process Feed and Announcer. New subscribers first receive the
// full listing of their topic. A subscriber that cannot keep up is dropped,
// its channel closed, and gets a fresh listing when it resubscribes.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*hubTopic
	closed bool
}

type hubTopic struct {
	members map[string]Member
	subs    map[chan Changed]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]*hubTopic)}
}

func (h *Hub) topic(name string) *hubTopic {
	t, ok := h.topics[name]
	if !ok {
		t = &hubTopic{members: map[string]Member{}, subs: map[chan Changed]struct{}{}}
		h.topics[name] = t
	}
	return t
}

func (t *hubTopic) listing() []Member {
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	sortMembers(out)
	return out
}

func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan Changed, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	t := h.topic(topic)
	ch := make(chan Changed, hubSubscriberBuffer)
	ch <- Changed{Topic: topic, Added: t.listing(), Full: true}
	t.subs[ch] = struct{}{}

	context.AfterFunc(ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.drop(t, ch)
	})
	return ch, nil
}

// drop must be called with h.mu held.
func (h *Hub) drop(t *hubTopic, ch chan Changed) {
	if _, ok := t.subs[ch]; ok {
		delete(t.subs, ch)
		close(ch)
	}
}

func (h *Hub) broadcast(t *hubTopic, c Changed) {
	for ch := range t.subs {
		select {
		case ch <- c:
		default:
			h.drop(t, ch)
		}
	}
}

func (h *Hub) Register(_ context.Context, topic string, m Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	t := h.topic(topic)
	if old, ok := t.members[m.ID]; ok && old == m {
		return nil
	}
	t.members[m.ID] = m
	h.broadcast(t, Changed{Topic: topic, Added: []Member{m}})
	return nil
}

func (h *Hub) Deregister(_ context.Context, topic string, m Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	t := h.topic(topic)
	if _, ok := t.members[m.ID]; !ok {
		return nil
	}
	delete(t.members, m.ID)
	h.broadcast(t, Changed{Topic: topic, Removed: []Member{m}})
	return nil
}

// Members returns the current listing of topic.
func (h *Hub) Members(topic string) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topic(topic).listing()
}

// Disconnect closes every subscription of topic without changing members.
func (h *Hub) Disconnect(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topic(topic)
	for ch := range t.subs {
		h.drop(t, ch)
	}
}

// Close ends all subscriptions; later calls fail with ErrHubClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, t := range h.topics {
		for ch := range t.subs {
			h.drop(t, ch)
		}
	}
	return nil
}

var (
	_ Feed      = (*Hub)(nil)
	_ Announcer = (*Hub)(nil)
)
