package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/fanout/core/membership"
)

var (
	ErrMembershipClosed = errors.New("nats: membership closed")
)

type MembershipConfig struct {
	Connect       Connector
	Log           *slog.Logger
	SubjectPrefix string
	// Heartbeat is how often local members are announced again, default 1s.
	Heartbeat time.Duration
	// Expiry drops members that were not announced for that long, default
	// three heartbeats.
	Expiry time.Duration
}

// Membership is a membership.Feed and membership.Announcer on core NATS.
//
// Members are announced on <prefix>.members.<topic>. Announcers repeat their
// members every heartbeat and answer sync requests on
// <prefix>.members.<topic>.sync, which subscribers send on start. A
// subscriber drops members it has not heard of within the expiry and sends
// a full listing once the first expiry window has passed.
type Membership struct {
	nc        *natsgo.Conn
	closeNc   closeFunc
	log       *slog.Logger
	prefix    string
	heartbeat time.Duration
	expiry    time.Duration

	mu     sync.Mutex
	closed bool
	local  map[string]map[string]membership.Member
	syncs  map[string]*natsgo.Subscription
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewMembership(cfg MembershipConfig) (*Membership, error) {
	if cfg.Connect == nil {
		cfg.Connect = ConnectDefault()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultPrefix
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Second
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 3 * cfg.Heartbeat
	}

	nc, closeNc, err := cfg.Connect()
	if err != nil {
		return nil, err
	}

	m := &Membership{
		nc:        nc,
		closeNc:   closeNc,
		log:       cfg.Log.With(slog.String("membership", "nats")),
		prefix:    cfg.SubjectPrefix,
		heartbeat: cfg.Heartbeat,
		expiry:    cfg.Expiry,
		local:     map[string]map[string]membership.Member{},
		syncs:     map[string]*natsgo.Subscription{},
		stop:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.runHeartbeat()
	return m, nil
}

func (m *Membership) subject(topic string) string { return m.prefix + ".members." + topic }

func (m *Membership) publish(c membership.Changed) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := m.nc.Publish(m.subject(c.Topic), data); err != nil {
		return fmt.Errorf("nats: announce %s: %w", c.Topic, err)
	}
	return nil
}

// announce publishes all local members of topic.
func (m *Membership) announce(topic string) {
	m.mu.Lock()
	added := slices.Collect(maps.Values(m.local[topic]))
	m.mu.Unlock()
	if len(added) == 0 {
		return
	}
	if err := m.publish(membership.Changed{Topic: topic, Added: added}); err != nil {
		m.log.Warn("failed to announce members", slog.String("topic", topic), slog.Any("error", err))
	}
}

func (m *Membership) runHeartbeat() {
	defer m.wg.Done()
	t := time.NewTicker(m.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
		}
		m.mu.Lock()
		topics := slices.Collect(maps.Keys(m.local))
		m.mu.Unlock()
		for _, topic := range topics {
			m.announce(topic)
		}
	}
}

func (m *Membership) Register(_ context.Context, topic string, mem membership.Member) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMembershipClosed
	}
	if m.local[topic] == nil {
		m.local[topic] = map[string]membership.Member{}
		sub, err := m.nc.Subscribe(m.subject(topic)+".sync", func(*natsgo.Msg) { m.announce(topic) })
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("nats: subscribe sync %s: %w", topic, err)
		}
		m.syncs[topic] = sub
	}
	m.local[topic][mem.ID] = mem
	m.mu.Unlock()

	return m.publish(membership.Changed{Topic: topic, Added: []membership.Member{mem}})
}

func (m *Membership) Deregister(_ context.Context, topic string, mem membership.Member) error {
	m.mu.Lock()
	delete(m.local[topic], mem.ID)
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrMembershipClosed
	}
	return m.publish(membership.Changed{Topic: topic, Removed: []membership.Member{mem}})
}

// Subscribe follows topic until ctx is done or the connection closed.
func (m *Membership) Subscribe(ctx context.Context, topic string) (<-chan membership.Changed, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrMembershipClosed
	}

	in := make(chan *natsgo.Msg, 256)
	sub, err := m.nc.ChanSubscribe(m.subject(topic), in)
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", topic, err)
	}
	if err := m.nc.Publish(m.subject(topic)+".sync", nil); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats: request sync %s: %w", topic, err)
	}

	out := make(chan membership.Changed, 64)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		m.follow(ctx, topic, in, out)
	}()
	return out, nil
}

func (m *Membership) follow(ctx context.Context, topic string, in <-chan *natsgo.Msg, out chan<- membership.Changed) {
	var (
		seen   = map[string]membership.Member{}
		last   = map[string]time.Time{}
		check  = time.NewTicker(m.expiry / 3)
		listed = time.After(m.expiry)
	)
	defer check.Stop()

	emit := func(c membership.Changed) bool {
		if c.Empty() {
			return true
		}
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		case <-m.stop:
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case msg := <-in:
			var c membership.Changed
			if err := json.Unmarshal(msg.Data, &c); err != nil {
				m.log.Warn("dropping malformed membership event", slog.Any("error", err))
				continue
			}
			now := time.Now()
			var fresh []membership.Member
			for _, mem := range c.Added {
				if _, known := seen[mem.ID]; !known {
					fresh = append(fresh, mem)
				}
				seen[mem.ID] = mem
				last[mem.ID] = now
			}
			for _, mem := range c.Removed {
				delete(seen, mem.ID)
				delete(last, mem.ID)
			}
			if !emit(membership.Changed{Topic: topic, Added: fresh, Removed: c.Removed}) {
				return
			}
		case <-listed:
			listed = nil
			if !emit(membership.Changed{Topic: topic, Added: slices.Collect(maps.Values(seen)), Full: true}) {
				return
			}
		case now := <-check.C:
			if m.nc.IsClosed() {
				return
			}
			var expired []membership.Member
			for id, at := range last {
				if now.Sub(at) > m.expiry {
					expired = append(expired, seen[id])
					delete(seen, id)
					delete(last, id)
				}
			}
			if !emit(membership.Changed{Topic: topic, Removed: expired}) {
				return
			}
		}
	}
}

// Close stops heartbeats and every subscription. Local members are not
// deregistered; subscribers expire them.
func (m *Membership) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, s := range m.syncs {
		_ = s.Unsubscribe()
	}
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	_ = m.nc.Flush()
	m.closeNc()
	return nil
}

var (
	_ membership.Feed      = (*Membership)(nil)
	_ membership.Announcer = (*Membership)(nil)
)
