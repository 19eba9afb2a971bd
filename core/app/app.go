package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/client"
	"github.com/codewandler/fanout/core/cluster"
	"github.com/codewandler/fanout/core/group"
	"github.com/codewandler/fanout/core/membership"
	"github.com/codewandler/fanout/core/query"
	"github.com/codewandler/fanout/core/stats"
	"github.com/codewandler/fanout/core/worker"
	"github.com/codewandler/fanout/ports/kv"
)

type Role string

var ErrNoRole = errors.New("app: no role to run")

const (
	// RoleDevices runs device groups and queries their temperatures.
	RoleDevices Role = "devices"
	// RoleCompute hosts stats workers and the stats service.
	RoleCompute Role = "compute"
	// RoleClient sends random texts to the stats service.
	RoleClient Role = "client"
)

// Metrics collects the metric implementations handed to every component.
// Nil fields fall back to no-ops.
type Metrics struct {
	Actor      actor.ActorMetrics
	Cluster    cluster.ClusterMetrics
	Query      query.QueryMetrics
	Membership membership.RegistryMetrics
}

type Options struct {
	Log     *slog.Logger
	Metrics Metrics
	// Transport, Membership and Store replace the backends the config
	// selects. Apps sharing them form one in-process cluster.
	Transport  cluster.Transport
	Membership Membership
	Store      kv.Store
}

// App runs the roles of one node.
type App struct {
	cfg     Config
	log     *slog.Logger
	metrics Metrics
	b       *backends
}

func New(ctx context.Context, cfg Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	log := opts.Log.With(slog.String("node", cfg.NodeID))
	b, err := openBackends(ctx, cfg, opts, log)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, log: log, metrics: opts.Metrics, b: b}, nil
}

// Close releases the backends the app opened itself.
func (a *App) Close() error { return a.b.close() }

// Run runs roles until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context, roles ...Role) error {
	if len(roles) == 0 {
		return ErrNoRole
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range roles {
		var run func(context.Context) error
		switch r {
		case RoleDevices:
			run = a.runDevices
		case RoleCompute:
			run = a.runCompute
		case RoleClient:
			run = a.runClient
		default:
			return fmt.Errorf("app: unknown role %q", r)
		}
		g.Go(func() error {
			a.log.Info("starting role", slog.String("role", string(r)))
			return run(ctx)
		})
	}
	return g.Wait()
}

func (a *App) newClient() (*cluster.Client, error) {
	return cluster.NewClient(cluster.ClientOptions{
		Transport: a.b.transport,
		NumShards: a.cfg.NumShards,
		Seed:      a.cfg.Seed,
		Metrics:   a.metrics.Cluster,
	})
}

// runCompute hosts this node's share of the stats workers, announces them
// and serves the stats service for whoever owns its key.
func (a *App) runCompute(ctx context.Context) error {
	cfg := a.cfg
	owned := cluster.ShardsForNode(cfg.NodeID, cfg.NodeIDs, cfg.NumShards, cfg.Seed)
	ids := cluster.KeysForNode("worker", cfg.WorkersPerNode, owned, cfg.NumShards, cfg.Seed)

	pool, err := worker.NewPool(ids, worker.Options{
		Context:       ctx,
		Log:           a.log,
		EvictInterval: cfg.EvictInterval,
		Store:         a.b.store,
		Metrics:       a.metrics.Actor,
	})
	if err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	defer pool.Stop()

	c, err := a.newClient()
	if err != nil {
		return err
	}
	reg := membership.New(membership.Options{
		Topic:   cfg.Topic,
		Context: ctx,
		Log:     a.log,
		Resolver: func(m membership.Member) (worker.Handle, error) {
			if m.Node == cfg.NodeID {
				if w, ok := pool.Lookup(m.ID); ok {
					return w, nil
				}
			}
			return cluster.NewRemoteWorker(c, m.ID), nil
		},
		Store:   a.b.store,
		Metrics: a.metrics.Membership,
	})
	if err := reg.Restore(ctx); err != nil {
		a.log.Warn("failed to restore membership", slog.Any("error", err))
	}

	svc, err := stats.New(stats.Options{
		Registry:     reg,
		Context:      ctx,
		Log:          a.log,
		Seed:         cfg.Seed,
		Timeout:      cfg.Timeout,
		QueryMetrics: a.metrics.Query,
		ActorMetrics: a.metrics.Actor,
	})
	if err != nil {
		return err
	}
	defer svc.Stop()

	node := cluster.NewNode(cluster.NodeOptions{
		Log:       a.log,
		NodeID:    cfg.NodeID,
		Transport: a.b.transport,
		Shards:    owned,
		Handler: cluster.RouteByKey(
			map[string]cluster.ServerHandlerFunc{stats.ServiceKey: svc.Handler()},
			cluster.NewWorkerHandler(pool.Lookup),
		),
		Metrics: a.metrics.Cluster,
	})
	if err := node.Run(ctx); err != nil {
		return err
	}

	for _, w := range pool.Workers() {
		m := membership.Member{ID: w.ID(), Node: cfg.NodeID, Shard: c.ShardFor(w.ID())}
		if err := membership.Announce(ctx, a.b.members, cfg.Topic, m, w); err != nil {
			return fmt.Errorf("announce %s: %w", w.ID(), err)
		}
	}
	a.log.Info("compute node started",
		slog.Int("shards", len(owned)),
		slog.Any("workers", pool.IDs()),
	)

	return reg.Follow(ctx, a.b.members)
}

// runClient sends a random text to the stats service every interval.
func (a *App) runClient(ctx context.Context) error {
	c, err := a.newClient()
	if err != nil {
		return err
	}
	remote := stats.NewRemote(c, a.cfg.Timeout)
	d, err := client.New(client.Options{
		Log:         a.log,
		Query:       client.Texts(a.cfg.Client.Words, remote.ProcessRequest),
		Interval:    a.cfg.Client.Interval,
		Timeout:     a.cfg.Timeout + time.Second,
		MaxRequests: a.cfg.Client.MaxRequests,
	})
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// runDevices creates the configured device groups, lets every device report
// a temperature each ReportInterval and queries a random group every client
// interval.
func (a *App) runDevices(ctx context.Context) error {
	cfg := a.cfg
	mgr := group.NewManager(group.Options{
		Context:         ctx,
		Log:             a.log,
		Store:           a.b.store,
		QueryTimeout:    cfg.Timeout,
		QueryMetrics:    a.metrics.Query,
		RegistryMetrics: a.metrics.Membership,
		ActorMetrics:    a.metrics.Actor,
	})
	defer mgr.Stop()

	var (
		groups  []string
		devices []worker.Handle
	)
	for i := range cfg.Devices.Groups {
		gk := fmt.Sprintf("group-%d", i)
		groups = append(groups, gk)
		for j := range cfg.Devices.DevicesPerGroup {
			d, err := mgr.Track(ctx, gk, fmt.Sprintf("device-%d", j))
			if err != nil {
				return fmt.Errorf("track device: %w", err)
			}
			devices = append(devices, d.Handle)
		}
	}
	if len(groups) == 0 {
		<-ctx.Done()
		return nil
	}

	d, err := client.New(client.Options{
		Log: a.log,
		Query: func(ctx context.Context, requestID string) (client.Result, error) {
			reply, err := mgr.QueryAll(ctx, requestID, groups[rand.IntN(len(groups))], cfg.Timeout)
			if err != nil {
				return nil, err
			}
			return reply, nil
		},
		Interval:    cfg.Client.Interval,
		Timeout:     cfg.Timeout + time.Second,
		MaxRequests: cfg.Client.MaxRequests,
	})
	if err != nil {
		return err
	}

	// devices keep reporting until the driver is done
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return d.Run(ctx)
	})
	g.Go(func() error {
		report(ctx, a.log, devices, cfg.Devices.ReportInterval)
		return nil
	})
	return g.Wait()
}

func report(ctx context.Context, log *slog.Logger, devices []worker.Handle, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for seq := 0; ; seq++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, h := range devices {
			rctx, cancel := context.WithTimeout(ctx, every)
			_, err := h.Record(rctx, worker.RecordRequest{
				RequestID: fmt.Sprintf("%d", seq),
				Value:     18 + 6*rand.Float64(),
			})
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Debug("device did not record", slog.String("device", h.ID()), slog.Any("error", err))
			}
		}
	}
}
