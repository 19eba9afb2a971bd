// Package worker implements the unit that does the actual work behind a
// scatter-gather request: it memoizes a deterministic computation, keeps
// the latest recorded reading and stops on request.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/cache"
	"github.com/codewandler/fanout/ports/kv"
)

var (
	ErrNoID = errors.New("worker: id is required")
)

type (
	// Handle reaches a worker without knowing whether it runs in-process or
	// on another node. Done is closed once the worker terminated or was
	// evicted from membership.
	Handle interface {
		ID() string
		Process(ctx context.Context, req ProcessRequest) (*ProcessReply, error)
		Record(ctx context.Context, req RecordRequest) (*Recorded, error)
		Read(ctx context.Context, req ReadRequest) (*Reading, error)
		Passivate(ctx context.Context) error
		Done() <-chan struct{}
	}

	// Func is the deterministic computation a worker memoizes.
	Func func(input string) int
)

type (
	ProcessRequest struct {
		RequestID string `json:"request_id"`
		Input     string `json:"input"`
	}

	ProcessReply struct {
		RequestID string `json:"request_id"`
		WorkerID  string `json:"worker_id"`
		Output    int    `json:"output"`
		Cached    bool   `json:"cached,omitempty"`
	}

	RecordRequest struct {
		RequestID string  `json:"request_id"`
		Value     float64 `json:"value"`
	}

	Recorded struct {
		RequestID string `json:"request_id"`
	}

	ReadRequest struct {
		RequestID string `json:"request_id"`
	}

	// Reading carries the last recorded value; Value is nil until something
	// was recorded.
	Reading struct {
		RequestID string   `json:"request_id"`
		WorkerID  string   `json:"worker_id"`
		Value     *float64 `json:"value,omitempty"`
	}

	Passivate struct{}
)

// WordLength counts runes; it is the default Func.
func WordLength(input string) int { return utf8.RuneCountInString(input) }

type Options struct {
	ID      string
	Context context.Context
	Log     *slog.Logger
	// Fn defaults to WordLength.
	Fn Func
	// Cache defaults to an LRU owned (and closed) by the worker.
	Cache cache.Cache
	// EvictInterval is how often the memo cache is cleared, default 30s.
	EvictInterval time.Duration
	// Store, if set, persists the latest reading and restores it on start.
	Store       kv.Store
	MailboxSize int
	Metrics     actor.ActorMetrics
}

// Worker is the in-process worker and its own Handle.
type Worker struct {
	id  string
	act actor.Actor
}

type state struct {
	id     string
	log    *slog.Logger
	fn     Func
	memo   cache.TypedCache[int]
	store  kv.Store
	latest *float64
}

func readingKey(id string) string { return "reading/" + id }

func New(opts Options) (*Worker, error) {
	if opts.ID == "" {
		return nil, ErrNoID
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Fn == nil {
		opts.Fn = WordLength
	}
	if opts.EvictInterval <= 0 {
		opts.EvictInterval = 30 * time.Second
	}
	ownCache := opts.Cache == nil
	if ownCache {
		opts.Cache = cache.NewLRU(cache.LRUOpts{Size: 4096})
	}

	log := opts.Log.With(slog.String("worker", opts.ID))
	st := &state{
		id:    opts.ID,
		log:   log,
		fn:    opts.Fn,
		memo:  cache.NewTyped[int](opts.Cache),
		store: opts.Store,
	}

	act := actor.TypedHandlers(
		actor.Init(func(hc actor.HandlerCtx) error {
			if ownCache {
				context.AfterFunc(hc, func() {
					if l, ok := opts.Cache.(*cache.LRU); ok {
						l.Close()
					}
				})
			}
			return st.restore(hc)
		}),
		actor.HandleRequest[ProcessRequest, ProcessReply](st.process),
		actor.HandleRequest[RecordRequest, Recorded](st.record),
		actor.HandleRequest[ReadRequest, Reading](st.read),
		actor.HandleMsg[Passivate](func(hc actor.HandlerCtx, _ Passivate) error {
			log.Debug("passivating")
			hc.Stop()
			return nil
		}),
		actor.HandleEvery(opts.EvictInterval, func(hc actor.HandlerCtx) error {
			n := st.memo.Len()
			st.memo.Clear()
			log.Debug("evicted cache", slog.Int("entries", n))
			return nil
		}),
	).ToActor(actor.Options{
		ID:          opts.ID,
		Context:     opts.Context,
		Logger:      log,
		MailboxSize: opts.MailboxSize,
		Metrics:     opts.Metrics,
	})

	log.Debug("worker started")
	return &Worker{id: opts.ID, act: act}, nil
}

func (s *state) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	v, err := kv.Get[float64](ctx, s.store, readingKey(s.id))
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return nil
	case err != nil:
		// a broken store must not keep the worker from serving
		s.log.Warn("failed to restore reading", slog.Any("error", err))
		return nil
	}
	s.latest = &v
	return nil
}

func (s *state) process(hc actor.HandlerCtx, req ProcessRequest) (*ProcessReply, error) {
	if out, ok := s.memo.Get(req.Input); ok {
		return &ProcessReply{RequestID: req.RequestID, WorkerID: s.id, Output: out, Cached: true}, nil
	}
	out := s.fn(req.Input)
	s.memo.Put(req.Input, out)
	return &ProcessReply{RequestID: req.RequestID, WorkerID: s.id, Output: out}, nil
}

func (s *state) record(hc actor.HandlerCtx, req RecordRequest) (*Recorded, error) {
	s.log.Debug("recorded reading", slog.String("request_id", req.RequestID), slog.Float64("value", req.Value))
	v := req.Value
	if s.store != nil {
		if err := kv.Put(hc, s.store, readingKey(s.id), v, kv.PutOptions{}); err != nil {
			return nil, fmt.Errorf("persist reading: %w", err)
		}
	}
	s.latest = &v
	return &Recorded{RequestID: req.RequestID}, nil
}

func (s *state) read(hc actor.HandlerCtx, req ReadRequest) (*Reading, error) {
	r := &Reading{RequestID: req.RequestID, WorkerID: s.id}
	if s.latest != nil {
		v := *s.latest
		r.Value = &v
	}
	return r, nil
}

func (w *Worker) ID() string            { return w.id }
func (w *Worker) Done() <-chan struct{} { return w.act.Done() }
func (w *Worker) Actor() actor.Actor    { return w.act }
func (w *Worker) Stop()                 { w.act.Stop() }

// Passivate asks the worker to stop itself. Passivating a stopped worker is
// a no-op.
func (w *Worker) Passivate(ctx context.Context) error {
	err := actor.Publish(ctx, w.act, Passivate{})
	if errors.Is(err, actor.ErrActorStopped) {
		return nil
	}
	return err
}

func (w *Worker) Process(ctx context.Context, req ProcessRequest) (*ProcessReply, error) {
	return actor.Request[ProcessRequest, ProcessReply](ctx, w.act, req)
}

func (w *Worker) Record(ctx context.Context, req RecordRequest) (*Recorded, error) {
	return actor.Request[RecordRequest, Recorded](ctx, w.act, req)
}

func (w *Worker) Read(ctx context.Context, req ReadRequest) (*Reading, error) {
	return actor.Request[ReadRequest, Reading](ctx, w.act, req)
}

var _ Handle = (*Worker)(nil)
