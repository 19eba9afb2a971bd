// Package client drives a service with a fixed delay between requests and
// logs every reply, counting replies some workers did not contribute to as
// partial successes.
package client

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrNoQuery = errors.New("client: query is required")
)

// Result is what a query returns: loggable and aware of missing parts.
type Result interface {
	Partial() bool
	slog.LogValuer
}

// QueryFunc sends one request with the given id.
type QueryFunc func(ctx context.Context, requestID string) (Result, error)

type Options struct {
	Log   *slog.Logger
	Query QueryFunc
	// Interval between two requests, default 2s.
	Interval time.Duration
	// Timeout bounds a single request, default Interval.
	Timeout time.Duration
	// MaxRequests stops the driver after that many requests; zero runs
	// until the context is done.
	MaxRequests int
}

// Stats counts the outcomes seen so far.
type Stats struct {
	Sent     int64
	Complete int64
	Partial  int64
	Failed   int64
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("sent", s.Sent),
		slog.Int64("complete", s.Complete),
		slog.Int64("partial", s.Partial),
		slog.Int64("failed", s.Failed),
	)
}

type Driver struct {
	log  *slog.Logger
	opts Options

	sent, complete, partial, failed atomic.Int64
}

func New(opts Options) (*Driver, error) {
	if opts.Query == nil {
		return nil, ErrNoQuery
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	return &Driver{
		log:  opts.Log.With(slog.String("component", "client")),
		opts: opts,
	}, nil
}

func (d *Driver) Stats() Stats {
	return Stats{
		Sent:     d.sent.Load(),
		Complete: d.complete.Load(),
		Partial:  d.partial.Load(),
		Failed:   d.failed.Load(),
	}
}

// Run sends a request, waits Interval after it completed, and repeats until
// ctx is done or MaxRequests were sent. It returns nil in both cases.
func (d *Driver) Run(ctx context.Context) error {
	t := time.NewTimer(d.opts.Interval)
	defer t.Stop()

	d.log.Info("client started", slog.Duration("interval", d.opts.Interval))
	defer func() { d.log.Info("client stopped", slog.Any("stats", d.Stats())) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		d.tick(ctx)
		if d.opts.MaxRequests > 0 && d.sent.Load() >= int64(d.opts.MaxRequests) {
			return nil
		}
		t.Reset(d.opts.Interval)
	}
}

func (d *Driver) tick(ctx context.Context) {
	requestID := gonanoid.Must()
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	d.sent.Add(1)
	start := time.Now()
	res, err := d.opts.Query(ctx, requestID)
	took := time.Since(start)

	switch {
	case err != nil:
		d.failed.Add(1)
		d.log.Warn("request failed",
			slog.String("request_id", requestID),
			slog.Duration("took", took),
			slog.Any("error", err),
		)
	case res.Partial():
		d.partial.Add(1)
		d.log.Warn("partial reply", slog.Any("reply", res), slog.Duration("took", took))
	default:
		d.complete.Add(1)
		d.log.Info("reply", slog.Any("reply", res), slog.Duration("took", took))
	}
}

// Texts adapts a text processing call to a QueryFunc that sends a random
// text of the given number of words under the driver's request id.
func Texts[R Result](words int, process func(ctx context.Context, requestID, text string) (R, error)) QueryFunc {
	return func(ctx context.Context, requestID string) (Result, error) {
		res, err := process(ctx, requestID, RandomText(words))
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

const letters = "abcdefghijklmnopqrstuvwxyz"

// RandomText returns n space separated words of 3 to 8 lowercase letters.
func RandomText(n int) string {
	var b strings.Builder
	for i := range n {
		if i > 0 {
			b.WriteByte(' ')
		}
		for range 3 + rand.IntN(6) {
			b.WriteByte(letters[rand.IntN(len(letters))])
		}
	}
	return b.String()
}
