package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/query"
)

type (
	ListGroups struct {
		RequestID string
		ReplyTo   actor.ReplyTo[GroupList]
	}

	GroupList struct {
		RequestID string   `json:"request_id"`
		IDs       []string `json:"ids"`
	}

	lookupGroup struct{ GroupKey string }

	groupTerminated struct {
		GroupKey string
		group    *Group
	}
)

// Manager routes group messages by group key and creates groups on demand.
type Manager struct {
	act actor.Actor
}

type manager struct {
	opts   Options
	log    *slog.Logger
	groups map[string]*Group
}

// NewManager starts a manager. opts is the template for every group it
// creates; GroupKey is ignored.
func NewManager(opts Options) *Manager {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	m := &manager{
		opts:   opts,
		log:    opts.Log.With(slog.String("component", "device-manager")),
		groups: map[string]*Group{},
	}

	act := actor.TypedHandlers(
		actor.Init(func(hc actor.HandlerCtx) error {
			m.log.Info("device manager started")
			return nil
		}),
		actor.HandleMsg[Track](m.onTrack),
		actor.HandleMsg[ListChildren](m.onListChildren),
		actor.HandleMsg[QueryAll](m.onQueryAll),
		actor.HandleMsg[ListGroups](m.onListGroups),
		actor.HandleMsg[groupTerminated](m.onGroupTerminated),
		actor.HandleRequest[lookupGroup, Group](func(hc actor.HandlerCtx, l lookupGroup) (*Group, error) {
			return m.groups[l.GroupKey], nil
		}),
	).ToActor(actor.Options{
		ID:          "device-manager",
		Context:     opts.Context,
		Logger:      m.log,
		MailboxSize: opts.MailboxSize,
		Metrics:     opts.ActorMetrics,
	})
	return &Manager{act: act}
}

// running returns the group for key unless it has terminated. A terminated
// group stays in the map until its groupTerminated is handled.
func (m *manager) running(key string) (*Group, bool) {
	g, ok := m.groups[key]
	if !ok {
		return nil, false
	}
	select {
	case <-g.Done():
		return nil, false
	default:
		return g, true
	}
}

func (m *manager) onTrack(hc actor.HandlerCtx, t Track) error {
	g, ok := m.running(t.GroupKey)
	if !ok {
		opts := m.opts
		opts.GroupKey = t.GroupKey
		// groups stop with the manager
		opts.Context = hc
		var err error
		if g, err = New(opts); err != nil {
			return fmt.Errorf("create group %s: %w", t.GroupKey, err)
		}
		m.log.Info("creating device group actor", slog.String("group", t.GroupKey))
		actor.Watch(hc.Self(), g, groupTerminated{GroupKey: t.GroupKey, group: g})
		m.groups[t.GroupKey] = g
	}
	return g.Send(hc, t)
}

func (m *manager) onListChildren(hc actor.HandlerCtx, l ListChildren) error {
	if g, ok := m.running(l.GroupKey); ok {
		err := g.Send(hc, l)
		if !errors.Is(err, actor.ErrActorStopped) {
			return err
		}
	}
	m.log.Warn("no group for ListChildren", slog.String("group", l.GroupKey))
	if l.ReplyTo == nil {
		return nil
	}
	return l.ReplyTo.Reply(hc, ChildList{RequestID: l.RequestID, IDs: []string{}})
}

func (m *manager) onQueryAll(hc actor.HandlerCtx, q QueryAll) error {
	if g, ok := m.running(q.GroupKey); ok {
		err := g.Send(hc, q)
		if !errors.Is(err, actor.ErrActorStopped) {
			return err
		}
	}
	m.log.Warn("no group for QueryAll", slog.String("group", q.GroupKey))
	if q.ReplyTo == nil {
		return nil
	}
	return q.ReplyTo.Reply(hc, query.Reply{RequestID: q.RequestID, Results: map[string]query.Result{}})
}

func (m *manager) onListGroups(hc actor.HandlerCtx, l ListGroups) error {
	if l.ReplyTo == nil {
		return nil
	}
	ids := slices.Sorted(maps.Keys(m.groups))
	return l.ReplyTo.Reply(hc, GroupList{RequestID: l.RequestID, IDs: ids})
}

func (m *manager) onGroupTerminated(hc actor.HandlerCtx, t groupTerminated) error {
	if g, ok := m.groups[t.GroupKey]; ok && g == t.group {
		delete(m.groups, t.GroupKey)
		m.log.Info("device group actor has been terminated", slog.String("group", t.GroupKey))
	}
	return nil
}

func (m *Manager) Actor() actor.Actor    { return m.act }
func (m *Manager) Done() <-chan struct{} { return m.act.Done() }
func (m *Manager) Stop()                 { m.act.Stop() }

// Send enqueues a Track, ListChildren, QueryAll or ListGroups message.
func (m *Manager) Send(ctx context.Context, msg any) error {
	return actor.Tell(ctx, m.act, msg)
}

// Group returns the running group for key, if any.
func (m *Manager) Group(ctx context.Context, key string) (*Group, error) {
	return actor.Request[lookupGroup, Group](ctx, m.act, lookupGroup{GroupKey: key})
}

func (m *Manager) Track(ctx context.Context, groupKey, childKey string) (ChildHandle, error) {
	return actor.Ask(ctx, m.act, func(r actor.ReplyTo[ChildHandle]) any {
		return Track{GroupKey: groupKey, ChildKey: childKey, ReplyTo: r}
	})
}

func (m *Manager) ListGroups(ctx context.Context, requestID string) (GroupList, error) {
	return actor.Ask(ctx, m.act, func(r actor.ReplyTo[GroupList]) any {
		return ListGroups{RequestID: requestID, ReplyTo: r}
	})
}

func (m *Manager) ListChildren(ctx context.Context, requestID, groupKey string) (ChildList, error) {
	return actor.Ask(ctx, m.act, func(r actor.ReplyTo[ChildList]) any {
		return ListChildren{RequestID: requestID, GroupKey: groupKey, ReplyTo: r}
	})
}

func (m *Manager) QueryAll(ctx context.Context, requestID, groupKey string, timeout time.Duration) (query.Reply, error) {
	return actor.Ask(ctx, m.act, func(r actor.ReplyTo[query.Reply]) any {
		return QueryAll{RequestID: requestID, GroupKey: groupKey, Timeout: timeout, ReplyTo: r}
	})
}
