package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	promadapter "github.com/codewandler/fanout/adapters/prometheus"
	"github.com/codewandler/fanout/core/app"
)

type flags struct {
	configPath  string
	logLevel    string
	metricsAddr string
	nodeID      string
	nodeIDs     []string
	natsURL     string
	store       string
	withClient  bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "fanout",
		Short:         "Scatter-gather over a changing set of workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&f.metricsAddr, "metrics-addr", ":2121", "listen address of the /metrics endpoint, empty disables it")
	pf.StringVar(&f.nodeID, "node-id", "", "id of this node")
	pf.StringSliceVar(&f.nodeIDs, "nodes", nil, "ids of all compute nodes")
	pf.StringVar(&f.natsURL, "nats-url", "", "NATS server, empty keeps the node in process")
	pf.StringVar(&f.store, "store", "", "store backend: memory, sqlite, redis or nats")

	compute := roleCmd(f, "compute", "Host stats workers and serve the stats service", app.RoleCompute)
	compute.Flags().BoolVar(&f.withClient, "client", false, "also run a client in this process")

	root.AddCommand(
		compute,
		roleCmd(f, "client", "Send random texts to the stats service", app.RoleClient),
		roleCmd(f, "devices", "Run device groups and query their temperatures", app.RoleDevices),
	)
	return root
}

func roleCmd(f *flags, use, short string, role app.Role) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roles := []app.Role{role}
			if f.withClient {
				roles = append(roles, app.RoleClient)
			}
			return run(cmd.Context(), f, roles)
		},
	}
}

func (f *flags) config() (app.Config, error) {
	cfg, err := app.LoadConfig(f.configPath)
	if err != nil {
		return cfg, err
	}
	if f.nodeID != "" {
		cfg.NodeID = f.nodeID
	}
	if len(f.nodeIDs) > 0 {
		cfg.NodeIDs = f.nodeIDs
	}
	if f.natsURL != "" {
		cfg.NatsURL = f.natsURL
	}
	if f.store != "" {
		cfg.Store.Backend = f.store
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l})), nil
}

func run(ctx context.Context, f *flags, roles []app.Role) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log, err := newLogger(f.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	cfg, err := f.config()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := promadapter.NewAllMetrics(reg)

	if f.metricsAddr != "" {
		srv := &http.Server{
			Addr:              f.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("serving metrics", slog.String("addr", f.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	a, err := app.New(ctx, cfg, app.Options{
		Log: log,
		Metrics: app.Metrics{
			Actor:      m.Actor,
			Cluster:    m.Cluster,
			Query:      m.Query,
			Membership: m.Membership,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close backends", slog.Any("error", err))
		}
	}()

	return a.Run(ctx, roles...)
}
