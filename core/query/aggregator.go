// Package query implements the per-request aggregator: it fans one request
// out to a fixed set of workers, records exactly one outcome per worker and
// delivers exactly one Reply, at the latest when the deadline fires.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/ds"
	"github.com/codewandler/fanout/core/worker"
)

var (
	ErrNoReplyTo      = errors.New("query: reply destination is required")
	ErrInvalidTimeout = errors.New("query: timeout must be positive")
	ErrDuplicateID    = errors.New("query: duplicate target id")
	ErrNoAsker        = errors.New("query: asker is required")
)

type (
	// Target is one outcome slot. Several targets may share a worker.
	Target struct {
		ID     string
		Worker worker.Handle
		Input  string
	}

	// Asker performs the request against one target. An error leaves the
	// target to termination or the deadline; it is never retried.
	Asker func(ctx context.Context, requestID string, t Target) (Result, error)
)

// ReadLatest asks a worker for its latest reading.
func ReadLatest(ctx context.Context, requestID string, t Target) (Result, error) {
	r, err := t.Worker.Read(ctx, worker.ReadRequest{RequestID: requestID})
	if err != nil {
		return Result{}, err
	}
	if r.Value == nil {
		return Unavailable(), nil
	}
	return Value(*r.Value), nil
}

// ProcessInput asks a worker to process the target's input.
func ProcessInput(ctx context.Context, requestID string, t Target) (Result, error) {
	r, err := t.Worker.Process(ctx, worker.ProcessRequest{RequestID: requestID, Input: t.Input})
	if err != nil {
		return Result{}, err
	}
	return Value(float64(r.Output)), nil
}

type Options struct {
	RequestID string
	Targets   []Target
	Ask       Asker
	Timeout   time.Duration
	ReplyTo   actor.ReplyTo[Reply]
	Context   context.Context
	Log       *slog.Logger
	Metrics   QueryMetrics
	// ReplyTimeout bounds delivery of the reply, default 5s.
	ReplyTimeout time.Duration
}

func (o Options) validate() error {
	if o.ReplyTo == nil {
		return ErrNoReplyTo
	}
	if o.Ask == nil {
		return ErrNoAsker
	}
	if o.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	seen := make(map[string]struct{}, len(o.Targets))
	for _, t := range o.Targets {
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
		}
		if t.Worker == nil {
			return fmt.Errorf("query: target %s has no worker", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

type (
	workerReplied struct {
		ID     string
		Result Result
	}
	workerTerminated struct {
		ID string
	}
	deadlineExpired struct{}
)

type aggregator struct {
	opts         Options
	log          *slog.Logger
	stillWaiting *ds.Set[string]
	results      map[string]Result
	stopTimer    func() bool
	replied      bool
	started      time.Time
}

// Start spawns an aggregator for one request and returns immediately. The
// returned actor stops itself once the reply was delivered.
func Start(opts Options) (actor.Actor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.RequestID == "" {
		opts.RequestID = gonanoid.Must()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopQueryMetrics()
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 5 * time.Second
	}
	opts.Targets = append([]Target(nil), opts.Targets...)

	ids := make([]string, len(opts.Targets))
	for i, t := range opts.Targets {
		ids[i] = t.ID
	}

	a := &aggregator{
		opts:         opts,
		log:          opts.Log.With(slog.String("request_id", opts.RequestID)),
		stillWaiting: ds.NewSet(ids...),
		results:      make(map[string]Result, len(ids)),
		started:      time.Now(),
	}

	return actor.TypedHandlers(
		actor.Init(a.init),
		actor.HandleMsg[workerReplied](a.onReplied),
		actor.HandleMsg[workerTerminated](a.onTerminated),
		actor.HandleMsg[deadlineExpired](a.onDeadline),
	).ToActor(actor.Options{
		ID:      "query-" + opts.RequestID,
		Context: opts.Context,
		Logger:  a.log,
		// one slot per target so no ask waits behind another
		MaxConcurrentTasks: len(opts.Targets) + 1,
		MailboxSize:        2*len(opts.Targets) + 2,
	}), nil
}

func (a *aggregator) init(hc actor.HandlerCtx) error {
	a.opts.Metrics.QueryStarted(len(a.opts.Targets))
	if a.stillWaiting.IsEmpty() {
		a.complete(hc)
		return nil
	}

	a.stopTimer = actor.After(hc.Self(), a.opts.Timeout, deadlineExpired{})
	for _, t := range a.opts.Targets {
		hc.Schedule(func() { a.ask(hc, t) })
	}
	return nil
}

type askOutcome struct {
	res Result
	err error
}

// ask runs in a scheduled task. It reports the reply, or the worker's
// termination if that comes first. A reply that raced the termination wins.
func (a *aggregator) ask(hc actor.HandlerCtx, t Target) {
	out := make(chan askOutcome, 1)
	go func() {
		res, err := a.opts.Ask(hc, a.opts.RequestID, t)
		out <- askOutcome{res, err}
	}()

	deliver := func(o askOutcome) bool {
		if o.err != nil {
			a.log.Debug("ask failed", slog.String("target", t.ID), slog.Any("error", o.err))
			return false
		}
		_ = hc.Send(hc, workerReplied{ID: t.ID, Result: o.res})
		return true
	}

	select {
	case <-hc.Done():
		return
	case o := <-out:
		if deliver(o) {
			return
		}
		select {
		case <-t.Worker.Done():
		case <-hc.Done():
			return
		}
	case <-t.Worker.Done():
		select {
		case o := <-out:
			if deliver(o) {
				return
			}
		default:
		}
	}
	_ = hc.Send(hc, workerTerminated{ID: t.ID})
}

func (a *aggregator) record(hc actor.HandlerCtx, id string, r Result) {
	// first recorded outcome wins, later notifications are no-ops
	if !a.stillWaiting.Remove(id) {
		return
	}
	a.results[id] = r
	a.opts.Metrics.OutcomeRecorded(r.Kind.String())
	if a.stillWaiting.IsEmpty() {
		a.complete(hc)
	}
}

func (a *aggregator) onReplied(hc actor.HandlerCtx, m workerReplied) error {
	a.record(hc, m.ID, m.Result)
	return nil
}

func (a *aggregator) onTerminated(hc actor.HandlerCtx, m workerTerminated) error {
	a.record(hc, m.ID, Terminated())
	return nil
}

func (a *aggregator) onDeadline(hc actor.HandlerCtx, _ deadlineExpired) error {
	if a.replied {
		return nil
	}
	for _, id := range a.stillWaiting.Values() {
		a.stillWaiting.Remove(id)
		a.results[id] = TimedOut()
		a.opts.Metrics.OutcomeRecorded(KindTimedOut.String())
	}
	a.complete(hc)
	return nil
}

func (a *aggregator) complete(hc actor.HandlerCtx) {
	if a.replied {
		return
	}
	a.replied = true
	if a.stopTimer != nil {
		a.stopTimer()
	}

	reply := Reply{RequestID: a.opts.RequestID, Results: a.results}
	a.opts.Metrics.QueryCompleted(reply.Partial(), time.Since(a.started))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(hc), a.opts.ReplyTimeout)
	defer cancel()
	if err := a.opts.ReplyTo.Reply(ctx, reply); err != nil {
		a.log.Warn("failed to deliver reply", slog.Any("error", err))
	}
	a.log.Debug("query complete", slog.Any("reply", reply))

	// cancels outstanding asks and watches
	hc.Stop()
}
