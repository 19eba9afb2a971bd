// Package membership tracks which workers currently exist.
//
// A [Registry] holds the handles known for one topic. Coordinators read it
// through immutable [Snapshot] values: a snapshot never changes after it was
// handed out, so a request that captured one keeps a stable target set even
// while workers join or leave.
//
// Handles enter a registry in two ways. Static owners (a device group) call
// [Registry.CreateIfAbsent] and [Registry.Remove] directly. Dynamic owners
// (the stats service) let the registry [Registry.Follow] a [Feed] of
// [Changed] events and turn announced [Member] descriptors into handles with
// a [Resolver].
package membership

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/codewandler/fanout/core/worker"
)

type (
	// Member describes a worker announced on a feed.
	Member struct {
		ID    string `json:"id"`
		Node  string `json:"node,omitempty"`
		Shard uint32 `json:"shard,omitempty"`
	}

	// Changed is one membership event. Full marks Added as the complete
	// listing of the topic: members missing from it are gone.
	Changed struct {
		Topic   string   `json:"topic"`
		Added   []Member `json:"added,omitempty"`
		Removed []Member `json:"removed,omitempty"`
		Full    bool     `json:"full,omitempty"`
	}

	// Feed delivers membership events at least once. The channel is closed
	// when ctx is done or the feed lost its upstream.
	Feed interface {
		Subscribe(ctx context.Context, topic string) (<-chan Changed, error)
	}

	// Announcer publishes the local workers of a node.
	Announcer interface {
		Register(ctx context.Context, topic string, m Member) error
		Deregister(ctx context.Context, topic string, m Member) error
	}

	// Resolver turns an announced member into a handle.
	Resolver func(m Member) (worker.Handle, error)

	// Evictable is implemented by handles whose Done channel the registry
	// closes once their member was removed from the feed.
	Evictable interface {
		Evict()
	}
)

func (c Changed) Empty() bool { return len(c.Added) == 0 && len(c.Removed) == 0 && !c.Full }

func (c Changed) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("topic", c.Topic),
		slog.Int("added", len(c.Added)),
		slog.Int("removed", len(c.Removed)),
		slog.Bool("full", c.Full),
	)
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}

// Announce registers m on topic and deregisters it once w terminated or ctx
// is done.
func Announce(ctx context.Context, a Announcer, topic string, m Member, w interface{ Done() <-chan struct{} }) error {
	if err := a.Register(ctx, topic, m); err != nil {
		return err
	}
	go func() {
		select {
		case <-w.Done():
		case <-ctx.Done():
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.Deregister(dctx, topic, m); err != nil {
			slog.Default().Warn("failed to deregister member",
				slog.String("topic", topic),
				slog.String("member", m.ID),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}
