// Package group implements the device-group coordinator: it owns the device
// workers of one group, creates them on first use and answers
// "query all" requests through a per-request aggregator.
package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/membership"
	"github.com/codewandler/fanout/core/query"
	"github.com/codewandler/fanout/core/worker"
	"github.com/codewandler/fanout/ports/kv"
)

var (
	ErrNoGroupKey = errors.New("group: group key is required")
)

type (
	// Track asks for the worker of ChildKey, creating it if needed.
	Track struct {
		GroupKey string
		ChildKey string
		ReplyTo  actor.ReplyTo[ChildHandle]
	}

	// ChildHandle answers Track. Created is false when the child already
	// existed.
	ChildHandle struct {
		Handle  worker.Handle
		Created bool
	}

	ListChildren struct {
		RequestID string
		GroupKey  string
		ReplyTo   actor.ReplyTo[ChildList]
	}

	// ChildList holds the tracked child ids in ascending order.
	ChildList struct {
		RequestID string   `json:"request_id"`
		IDs       []string `json:"ids"`
	}

	// QueryAll asks every child for its latest reading. A zero Timeout uses
	// the group default.
	QueryAll struct {
		RequestID string
		GroupKey  string
		Timeout   time.Duration
		ReplyTo   actor.ReplyTo[query.Reply]
	}

	childTerminated struct {
		ChildKey string
		handle   worker.Handle
	}
)

// WorkerFactory creates the worker for a child key. ctx ends with the group.
type WorkerFactory func(ctx context.Context, childKey string) (worker.Handle, error)

type Options struct {
	GroupKey string
	Context  context.Context
	Log      *slog.Logger
	// NewWorker defaults to an in-process worker.
	NewWorker WorkerFactory
	// Store is handed to default workers to persist their readings.
	Store kv.Store
	// QueryTimeout applies to QueryAll without a timeout, default 3s.
	QueryTimeout    time.Duration
	QueryMetrics    query.QueryMetrics
	RegistryMetrics membership.RegistryMetrics
	ActorMetrics    actor.ActorMetrics
	MailboxSize     int
}

// Group is the coordinator of one device group.
type Group struct {
	key string
	act actor.Actor
	reg *membership.Registry
}

type coordinator struct {
	key          string
	log          *slog.Logger
	reg          *membership.Registry
	newWorker    WorkerFactory
	queryCtx     context.Context
	queryTimeout time.Duration
	queryMetrics query.QueryMetrics
}

func New(opts Options) (*Group, error) {
	if opts.GroupKey == "" {
		return nil, ErrNoGroupKey
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 3 * time.Second
	}
	log := opts.Log.With(slog.String("group", opts.GroupKey))

	if opts.NewWorker == nil {
		store := opts.Store
		if store != nil {
			store = kv.Prefixed(store, "group/"+opts.GroupKey+"/")
		}
		opts.NewWorker = func(ctx context.Context, childKey string) (worker.Handle, error) {
			return worker.New(worker.Options{
				ID:      childKey,
				Context: ctx,
				Log:     log,
				Store:   store,
				Metrics: opts.ActorMetrics,
			})
		}
	}

	// children stop with the group, queries only with the caller's context
	ctx, cancel := context.WithCancel(opts.Context)
	reg := membership.New(membership.Options{
		Topic:   "group/" + opts.GroupKey,
		Context: ctx,
		Log:     log,
		Metrics: opts.RegistryMetrics,
	})

	c := &coordinator{
		key:          opts.GroupKey,
		log:          log,
		reg:          reg,
		newWorker:    opts.NewWorker,
		queryCtx:     opts.Context,
		queryTimeout: opts.QueryTimeout,
		queryMetrics: opts.QueryMetrics,
	}

	act := actor.TypedHandlers(
		actor.Init(func(hc actor.HandlerCtx) error {
			context.AfterFunc(hc, cancel)
			log.Info("device group started")
			return nil
		}),
		actor.HandleMsg[Track](c.onTrack),
		actor.HandleMsg[ListChildren](c.onListChildren),
		actor.HandleMsg[QueryAll](c.onQueryAll),
		actor.HandleMsg[childTerminated](c.onChildTerminated),
	).ToActor(actor.Options{
		ID:          "group-" + opts.GroupKey,
		Context:     ctx,
		Logger:      log,
		MailboxSize: opts.MailboxSize,
		Metrics:     opts.ActorMetrics,
	})

	return &Group{key: opts.GroupKey, act: act, reg: reg}, nil
}

func (c *coordinator) reply(hc actor.HandlerCtx, f func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(hc, 5*time.Second)
	defer cancel()
	if err := f(ctx); err != nil {
		c.log.Warn("failed to deliver reply", slog.Any("error", err))
	}
}

func (c *coordinator) responsible(kind, groupKey string) bool {
	if groupKey == c.key {
		return true
	}
	c.log.Warn(fmt.Sprintf("Ignoring %s request for %s. This group is responsible for %s", kind, groupKey, c.key))
	return false
}

func (c *coordinator) onTrack(hc actor.HandlerCtx, m Track) error {
	if !c.responsible("Track", m.GroupKey) {
		return nil
	}

	h, existed, err := c.reg.CreateIfAbsent(hc, m.ChildKey, func(context.Context) (worker.Handle, error) {
		c.log.Info("creating device actor", slog.String("device", m.ChildKey))
		return c.newWorker(hc, m.ChildKey)
	})
	if err != nil {
		return fmt.Errorf("track %s: %w", m.ChildKey, err)
	}
	if !existed {
		actor.Watch(hc.Self(), h, childTerminated{ChildKey: m.ChildKey, handle: h})
	}

	if m.ReplyTo != nil {
		c.reply(hc, func(ctx context.Context) error {
			return m.ReplyTo.Reply(ctx, ChildHandle{Handle: h, Created: !existed})
		})
	}
	return nil
}

func (c *coordinator) onListChildren(hc actor.HandlerCtx, m ListChildren) error {
	if !c.responsible("ListChildren", m.GroupKey) || m.ReplyTo == nil {
		return nil
	}
	ids := c.reg.Snapshot().IDs()
	c.reply(hc, func(ctx context.Context) error {
		return m.ReplyTo.Reply(ctx, ChildList{RequestID: m.RequestID, IDs: ids})
	})
	return nil
}

func (c *coordinator) onQueryAll(hc actor.HandlerCtx, m QueryAll) error {
	if !c.responsible("QueryAll", m.GroupKey) {
		return nil
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = c.queryTimeout
	}

	snap := c.reg.Snapshot()
	targets := make([]query.Target, 0, snap.Len())
	for _, id := range snap.IDs() {
		h, _ := snap.Get(id)
		targets = append(targets, query.Target{ID: id, Worker: h})
	}

	_, err := query.Start(query.Options{
		RequestID: m.RequestID,
		Targets:   targets,
		Ask:       query.ReadLatest,
		Timeout:   timeout,
		ReplyTo:   m.ReplyTo,
		Context:   c.queryCtx,
		Log:       c.log,
		Metrics:   c.queryMetrics,
	})
	if err != nil {
		return fmt.Errorf("query all: %w", err)
	}
	return nil
}

func (c *coordinator) onChildTerminated(hc actor.HandlerCtx, m childTerminated) error {
	// a stale watch for a replaced child matches nothing
	if c.reg.Remove(m.ChildKey, m.handle) {
		c.log.Info("device actor has been terminated", slog.String("device", m.ChildKey))
	}
	return nil
}

func (g *Group) Key() string           { return g.key }
func (g *Group) Actor() actor.Actor    { return g.act }
func (g *Group) Done() <-chan struct{} { return g.act.Done() }
func (g *Group) Stop()                 { g.act.Stop() }

// Send enqueues one of the group messages.
func (g *Group) Send(ctx context.Context, msg any) error {
	return actor.Tell(ctx, g.act, msg)
}

// Track returns the worker for childKey, creating it if needed.
func (g *Group) Track(ctx context.Context, childKey string) (ChildHandle, error) {
	return actor.Ask(ctx, g.act, func(r actor.ReplyTo[ChildHandle]) any {
		return Track{GroupKey: g.key, ChildKey: childKey, ReplyTo: r}
	})
}

// ListChildren returns the ids of all tracked children.
func (g *Group) ListChildren(ctx context.Context, requestID string) (ChildList, error) {
	return actor.Ask(ctx, g.act, func(r actor.ReplyTo[ChildList]) any {
		return ListChildren{RequestID: requestID, GroupKey: g.key, ReplyTo: r}
	})
}

// QueryAll collects the latest reading of every child.
func (g *Group) QueryAll(ctx context.Context, requestID string, timeout time.Duration) (query.Reply, error) {
	return actor.Ask(ctx, g.act, func(r actor.ReplyTo[query.Reply]) any {
		return QueryAll{RequestID: requestID, GroupKey: g.key, Timeout: timeout, ReplyTo: r}
	})
}
