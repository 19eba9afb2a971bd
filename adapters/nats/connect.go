package nats

import (
	"log/slog"
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a connection and returns the function that releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ConnectOption tweaks the connection ConnectURL opens.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	name          string
	log           *slog.Logger
	maxReconnects int
}

// WithName sets the client name shown by the server.
func WithName(name string) ConnectOption { return func(o *connectOptions) { o.name = name } }

// WithLog logs disconnects, reconnects and async errors to log.
func WithLog(log *slog.Logger) ConnectOption { return func(o *connectOptions) { o.log = log } }

// WithMaxReconnects bounds reconnect attempts, default 3; negative retries
// forever.
func WithMaxReconnects(n int) ConnectOption { return func(o *connectOptions) { o.maxReconnects = n } }

// ReuseConnection shares one connection between all callers of the returned
// Connector. The connection closes when the last lease is released and a
// later call opens a new one.
func ReuseConnection(connect Connector) Connector {
	var (
		mu     sync.Mutex
		nc     *natsgo.Conn
		closer closeFunc
		leases int
	)
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		if leases == 0 {
			return
		}
		if leases--; leases == 0 {
			closer()
			nc, closer = nil, nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			c, cl, err := connect()
			if err != nil {
				return nil, nil, err
			}
			nc, closer = c, cl
		}
		leases++
		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

func ConnectURL(natsURL string, opts ...ConnectOption) Connector {
	o := connectOptions{maxReconnects: 3}
	for _, opt := range opts {
		opt(&o)
	}
	natsOpts := []natsgo.Option{natsgo.MaxReconnects(o.maxReconnects)}
	if o.name != "" {
		natsOpts = append(natsOpts, natsgo.Name(o.name))
	}
	if o.log != nil {
		log := o.log.With(slog.String("nats", natsURL))
		natsOpts = append(natsOpts,
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				log.Warn("nats disconnected", slog.Any("error", err))
			}),
			natsgo.ReconnectHandler(func(c *natsgo.Conn) {
				log.Info("nats reconnected", slog.String("server", c.ConnectedUrlRedacted()))
			}),
			natsgo.ErrorHandler(func(_ *natsgo.Conn, s *natsgo.Subscription, err error) {
				attrs := []any{slog.Any("error", err)}
				if s != nil {
					attrs = append(attrs, slog.String("subject", s.Subject))
				}
				log.Error("nats async error", attrs...)
			}),
		)
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(natsURL, natsOpts...)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault connects to NATS_URL, or the local default server.
func ConnectDefault(opts ...ConnectOption) Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL, opts...)
	}
	return ConnectURL(natsgo.DefaultURL, opts...)
}
