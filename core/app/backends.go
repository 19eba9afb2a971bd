package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/fanout/adapters/nats"
	"github.com/codewandler/fanout/adapters/redis"
	"github.com/codewandler/fanout/adapters/sqlite"
	"github.com/codewandler/fanout/core/cluster"
	"github.com/codewandler/fanout/core/membership"
	"github.com/codewandler/fanout/ports/kv"
)

// Membership is both sides of the worker feed.
type Membership interface {
	membership.Feed
	membership.Announcer
}

type backends struct {
	transport cluster.Transport
	members   Membership
	store     kv.Store
	closers   []func() error
}

func (b *backends) onClose(f func() error) { b.closers = append(b.closers, f) }

func (b *backends) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackends fills in whatever opts did not provide: NATS when a URL is
// configured, in-process implementations otherwise.
func openBackends(ctx context.Context, cfg Config, opts Options, log *slog.Logger) (_ *backends, err error) {
	b := &backends{transport: opts.Transport, members: opts.Membership, store: opts.Store}
	defer func() {
		if err != nil {
			_ = b.close()
		}
	}()

	var connect nats.Connector
	if cfg.NatsURL != "" && (b.transport == nil || b.members == nil || (b.store == nil && cfg.Store.Backend == StoreNATS)) {
		connect = nats.ReuseConnection(nats.ConnectURL(cfg.NatsURL, nats.WithName(cfg.NodeID), nats.WithLog(log)))
	}

	if b.transport == nil {
		if connect != nil {
			t, err := nats.NewTransport(nats.TransportConfig{Connect: connect, Log: log})
			if err != nil {
				return nil, fmt.Errorf("nats transport: %w", err)
			}
			b.transport = t
		} else {
			b.transport = cluster.NewInMemoryTransport().WithLog(log)
		}
		b.onClose(b.transport.Close)
	}

	if b.members == nil {
		if connect != nil {
			m, err := nats.NewMembership(nats.MembershipConfig{Connect: connect, Log: log})
			if err != nil {
				return nil, fmt.Errorf("nats membership: %w", err)
			}
			b.members = m
			b.onClose(m.Close)
		} else {
			h := membership.NewHub()
			b.members = h
			b.onClose(h.Close)
		}
	}

	if b.store == nil {
		switch cfg.Store.Backend {
		case StoreSQLite:
			s, err := sqlite.Open(ctx, cfg.Store.Path)
			if err != nil {
				return nil, fmt.Errorf("sqlite store: %w", err)
			}
			b.store = s
			b.onClose(s.Close)
		case StoreRedis:
			s, err := redis.Connect(ctx, cfg.Store.Addr, "")
			if err != nil {
				return nil, fmt.Errorf("redis store: %w", err)
			}
			b.store = s
			b.onClose(s.Close)
		case StoreNATS:
			s, err := nats.NewKvStore(ctx, nats.KvConfig{Connect: connect, Bucket: cfg.Store.Bucket})
			if err != nil {
				return nil, fmt.Errorf("nats kv store: %w", err)
			}
			b.store = s
			b.onClose(func() error { s.Close(); return nil })
		default:
			b.store = kv.NewMemStore()
		}
	}
	return b, nil
}
