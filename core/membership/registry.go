package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/sf"
	"github.com/codewandler/fanout/core/worker"
	"github.com/codewandler/fanout/ports/kv"
)

var (
	ErrNoResolver = errors.New("membership: resolver is required")
	ErrClosed     = errors.New("membership: registry closed")
)

type Options struct {
	Topic   string
	Context context.Context
	Log     *slog.Logger
	// Resolver is required for Apply and Follow.
	Resolver Resolver
	// Store, if set, persists the member list on every change.
	Store   kv.Store
	Metrics RegistryMetrics
	// MinBackoff and MaxBackoff bound the delay between resubscriptions,
	// defaults 100ms and 5s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type entry struct {
	handle worker.Handle
	member Member
}

type table struct {
	entries map[string]entry
	version uint64
	dirty   bool
}

// Registry maps worker ids to handles for one topic. All writes go through
// a single owner; readers get immutable snapshots and never block on it.
type Registry struct {
	topic      string
	ctx        context.Context
	log        *slog.Logger
	resolve    Resolver
	store      kv.Store
	metrics    RegistryMetrics
	minBackoff time.Duration
	maxBackoff time.Duration

	state  *actor.State[table]
	snap   atomic.Pointer[Snapshot]
	create sf.Group[worker.Handle]

	stale     atomic.Bool
	changedAt atomic.Int64

	mu       sync.Mutex
	watchers map[chan *Snapshot]struct{}
}

func New(opts Options) *Registry {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopRegistryMetrics()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(5*time.Second, opts.MinBackoff)
	}

	r := &Registry{
		topic:      opts.Topic,
		ctx:        opts.Context,
		log:        opts.Log.With(slog.String("topic", opts.Topic)),
		resolve:    opts.Resolver,
		store:      opts.Store,
		metrics:    opts.Metrics,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		watchers:   make(map[chan *Snapshot]struct{}),
	}
	r.snap.Store(&Snapshot{Topic: r.topic, TakenAt: time.Now(), handles: emptySnapshot.handles})
	r.changedAt.Store(time.Now().UnixNano())
	r.state = actor.NewState(opts.Context, &table{entries: map[string]entry{}}, r.publish)
	return r
}

func (r *Registry) Topic() string { return r.topic }

// publish runs on the owner after every write.
func (r *Registry) publish(t *table) {
	if !t.dirty {
		return
	}
	t.dirty = false
	t.version++

	handles := make(map[string]worker.Handle, len(t.entries))
	for id, e := range t.entries {
		handles[id] = e.handle
	}
	now := time.Now()
	s := &Snapshot{
		Topic:   r.topic,
		Version: t.version,
		Stale:   r.stale.Load(),
		TakenAt: now,
		handles: handles,
	}
	r.snap.Store(s)
	r.changedAt.Store(now.UnixNano())
	r.metrics.MembersTotal(r.topic, len(handles))

	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.watchers {
		// watchers only care about the latest snapshot
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot { return r.snap.Load() }

// Resolve looks key up in the current snapshot.
func (r *Registry) Resolve(key string) (worker.Handle, bool) {
	return r.Snapshot().Get(key)
}

// Watch delivers the current snapshot and then every newer one. Snapshots
// that were replaced before the receiver got to them are skipped. The
// channel is closed once ctx or the registry is done.
func (r *Registry) Watch(ctx context.Context) <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)

	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	ch <- r.snap.Load()
	r.mu.Unlock()

	var once sync.Once
	unwatch := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, ch)
			close(ch)
			r.mu.Unlock()
		})
	}
	context.AfterFunc(ctx, unwatch)
	context.AfterFunc(r.ctx, unwatch)
	return ch
}

func isLive(h worker.Handle) bool {
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}

// CreateIfAbsent returns the live handle stored for key, or creates one with
// factory. Concurrent callers for the same key share a single factory call.
// existed is true for every caller whose handle was not created by its own
// call; that is the duplicate registration case and not an error.
func (r *Registry) CreateIfAbsent(
	ctx context.Context,
	key string,
	factory func(ctx context.Context) (worker.Handle, error),
) (h worker.Handle, existed bool, err error) {
	if h, ok := r.Resolve(key); ok && isLive(h) {
		return h, true, nil
	}

	created := false
	h, _, err = r.create.Do(key, func() (worker.Handle, error) {
		if h, ok := r.Resolve(key); ok && isLive(h) {
			return h, nil
		}
		if r.ctx.Err() != nil {
			return nil, ErrClosed
		}
		h, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", key, err)
		}
		r.Put(key, h, Member{ID: key})
		created = true
		return h, nil
	})
	if err != nil {
		return nil, false, err
	}
	return h, !created, nil
}

// Put stores h under key, replacing whatever was there.
func (r *Registry) Put(key string, h worker.Handle, m Member) {
	r.state.Process(func(t *table) {
		_, replaced := t.entries[key]
		t.entries[key] = entry{handle: h, member: m}
		t.dirty = true
		if !replaced {
			r.metrics.MembersChanged(r.topic, 1, 0)
		}
	})
}

// Remove drops key if it still maps to h. A nil h removes whatever is
// stored. Removing an unknown key is a no-op.
func (r *Registry) Remove(key string, h worker.Handle) (removed bool) {
	r.state.Process(func(t *table) {
		e, ok := t.entries[key]
		if !ok || (h != nil && e.handle != h) {
			return
		}
		delete(t.entries, key)
		t.dirty = true
		removed = true
		r.metrics.MembersChanged(r.topic, 0, 1)
	})
	return removed
}

// Apply reconciles the registry with one feed event. Duplicate additions and
// removals of unknown members are no-ops. Removed handles are evicted.
func (r *Registry) Apply(ctx context.Context, c Changed) error {
	if r.resolve == nil {
		return ErrNoResolver
	}

	// resolve outside the owner so a slow resolver never stalls readers
	current := r.Snapshot()
	resolved := make(map[string]entry, len(c.Added))
	for _, m := range c.Added {
		if m.ID == "" {
			continue
		}
		if _, ok := current.Get(m.ID); ok {
			continue
		}
		h, err := r.resolve(m)
		if err != nil {
			r.log.Warn("failed to resolve member", slog.String("member", m.ID), slog.Any("error", err))
			continue
		}
		resolved[m.ID] = entry{handle: h, member: m}
	}

	var added, removed, discarded []entry
	r.state.Process(func(t *table) {
		for id, e := range resolved {
			if _, ok := t.entries[id]; ok {
				discarded = append(discarded, e)
				continue
			}
			t.entries[id] = e
			added = append(added, e)
		}

		drop := func(id string) {
			if e, ok := t.entries[id]; ok {
				delete(t.entries, id)
				removed = append(removed, e)
			}
		}
		if c.Full {
			listed := make(map[string]struct{}, len(c.Added))
			for _, m := range c.Added {
				listed[m.ID] = struct{}{}
			}
			for id := range t.entries {
				if _, ok := listed[id]; !ok {
					drop(id)
				}
			}
		}
		for _, m := range c.Removed {
			drop(m.ID)
		}
		if len(added) > 0 || len(removed) > 0 {
			t.dirty = true
		}
	})
	if r.ctx.Err() != nil {
		return ErrClosed
	}

	for _, e := range append(removed, discarded...) {
		if ev, ok := e.handle.(Evictable); ok {
			ev.Evict()
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	r.metrics.MembersChanged(r.topic, len(added), len(removed))
	r.log.Debug("membership changed",
		slog.Int("added", len(added)),
		slog.Int("removed", len(removed)),
		slog.Int("members", r.Snapshot().Len()),
	)
	r.persist(ctx)
	return nil
}

// Members returns the descriptors of all stored handles, sorted by id.
func (r *Registry) Members() []Member {
	ms := actor.Read(r.state, func(t *table) []Member {
		out := make([]Member, 0, len(t.entries))
		for _, e := range t.entries {
			out = append(out, e.member)
		}
		return out
	})
	sortMembers(ms)
	return ms
}

func (r *Registry) storeKey() string { return "membership/" + r.topic }

func (r *Registry) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := kv.Put(ctx, r.store, r.storeKey(), r.Members(), kv.PutOptions{}); err != nil {
		r.log.Warn("failed to persist membership", slog.Any("error", err))
	}
}

// Restore loads the last persisted member list. The restored snapshot is
// marked stale until a feed confirms it.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ms, err := kv.Get[[]Member](ctx, r.store, r.storeKey())
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("restore membership %s: %w", r.topic, err)
	}
	r.setStale(true)
	if err := r.Apply(ctx, Changed{Topic: r.topic, Added: ms, Full: true}); err != nil {
		return err
	}
	r.log.Info("restored membership", slog.Int("members", len(ms)))
	return nil
}

// Stale reports whether the registry currently serves a snapshot its feed
// did not confirm.
func (r *Registry) Stale() bool { return r.stale.Load() }

func (r *Registry) setStale(v bool) {
	if r.stale.Swap(v) == v {
		return
	}
	r.metrics.FeedStale(r.topic, v)
	// republish so watchers see the flag
	r.state.Process(func(t *table) { t.dirty = true })
}
