// Package stats implements the word statistics service: it splits a text
// into words, sends every word to one of the currently known workers and
// reduces their answers to the mean word length.
//
// The worker set comes from a membership.Registry, usually one that follows
// a feed of announced workers. Each request works on the snapshot that was
// current when it arrived.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/membership"
	"github.com/codewandler/fanout/core/query"
	"github.com/codewandler/fanout/internal/hrw"
)

const (
	FailedEmptyText   = "empty text"
	FailedUnavailable = "service unavailable, try again later"
	FailedNoAnswers   = "no worker answered in time"
)

var (
	ErrNoRegistry = errors.New("stats: registry is required")
)

type (
	// ProcessText asks for the mean word length of Text. A zero Timeout uses
	// the service default.
	ProcessText struct {
		RequestID string
		Text      string
		Timeout   time.Duration
		ReplyTo   actor.ReplyTo[Response]
	}

	// Response is either a result or, with Failed set, a failure.
	Response struct {
		RequestID      string  `json:"request_id"`
		MeanWordLength float64 `json:"mean_word_length"`
		Words          int     `json:"words"`
		Answered       int     `json:"answered"`
		Failed         string  `json:"failed,omitempty"`
	}

	workersChanged struct {
		snap *membership.Snapshot
	}
)

// Partial is true for failures and for results some words are missing from.
func (r Response) Partial() bool { return r.Failed != "" || r.Answered < r.Words }

func (r Response) LogValue() slog.Value {
	if r.Failed != "" {
		return slog.GroupValue(
			slog.String("request_id", r.RequestID),
			slog.String("failed", r.Failed),
		)
	}
	return slog.GroupValue(
		slog.String("request_id", r.RequestID),
		slog.Float64("mean_word_length", r.MeanWordLength),
		slog.Int("words", r.Words),
		slog.Int("answered", r.Answered),
	)
}

type Options struct {
	Registry *membership.Registry
	Context  context.Context
	Log      *slog.Logger
	// Seed feeds the word to worker hashing.
	Seed string
	// Timeout applies to requests without their own, default 3s.
	Timeout      time.Duration
	QueryMetrics query.QueryMetrics
	ActorMetrics actor.ActorMetrics
	MailboxSize  int
}

// Service is the coordinator of the word statistics service.
type Service struct {
	act actor.Actor
}

type service struct {
	log      *slog.Logger
	reg      *membership.Registry
	seed     string
	timeout  time.Duration
	queryCtx context.Context
	metrics  query.QueryMetrics
	workers  *membership.Snapshot
}

func New(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	log := opts.Log.With(slog.String("component", "stats-service"))

	s := &service{
		log:      log,
		reg:      opts.Registry,
		seed:     opts.Seed,
		timeout:  opts.Timeout,
		queryCtx: opts.Context,
		metrics:  opts.QueryMetrics,
		workers:  opts.Registry.Snapshot(),
	}

	act := actor.TypedHandlers(
		actor.Init(func(hc actor.HandlerCtx) error {
			self := hc.Self()
			snaps := s.reg.Watch(hc)
			go func() {
				for snap := range snaps {
					if err := actor.Tell(hc, self, workersChanged{snap: snap}); err != nil {
						return
					}
				}
			}()
			log.Info("stats service started", slog.String("topic", s.reg.Topic()))
			return nil
		}),
		actor.HandleMsg[workersChanged](s.onWorkersChanged),
		actor.HandleMsg[ProcessText](s.onProcessText),
	).ToActor(actor.Options{
		ID:          "stats-service",
		Context:     opts.Context,
		Logger:      log,
		MailboxSize: opts.MailboxSize,
		Metrics:     opts.ActorMetrics,
	})
	return &Service{act: act}, nil
}

func (s *service) onWorkersChanged(hc actor.HandlerCtx, m workersChanged) error {
	if m.snap == nil || m.snap.Version < s.workers.Version {
		return nil
	}
	prev := s.workers
	s.workers = m.snap
	if prev.Version == m.snap.Version {
		return nil
	}
	s.log.Info("workers changed",
		slog.Int("workers", m.snap.Len()),
		slog.Uint64("version", m.snap.Version),
		slog.Bool("stale", m.snap.Stale),
	)
	return nil
}

func (s *service) fail(hc actor.HandlerCtx, m ProcessText, reason string) {
	ctx, cancel := context.WithTimeout(hc, 5*time.Second)
	defer cancel()
	if err := m.ReplyTo.Reply(ctx, Response{RequestID: m.RequestID, Failed: reason}); err != nil {
		s.log.Warn("failed to deliver reply", slog.Any("error", err))
	}
}

func (s *service) onProcessText(hc actor.HandlerCtx, m ProcessText) error {
	if m.ReplyTo == nil {
		s.log.Warn("dropping ProcessText without reply destination", slog.String("request_id", m.RequestID))
		return nil
	}
	words := strings.Fields(m.Text)
	if len(words) == 0 {
		s.fail(hc, m, FailedEmptyText)
		return nil
	}
	ids := s.workers.IDs()
	if len(ids) == 0 {
		s.fail(hc, m, FailedUnavailable)
		return nil
	}

	targets := make([]query.Target, 0, len(words))
	for i, word := range words {
		id, _ := hrw.Best(word, ids, s.seed)
		h, _ := s.workers.Get(id)
		targets = append(targets, query.Target{
			ID:     fmt.Sprintf("%d:%s", i, word),
			Worker: h,
			Input:  word,
		})
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	_, err := query.Start(query.Options{
		RequestID: m.RequestID,
		Targets:   targets,
		Ask:       query.ProcessInput,
		Timeout:   timeout,
		ReplyTo: actor.Adapt(m.ReplyTo, func(r query.Reply) Response {
			return reduce(r, len(words))
		}),
		Context: s.queryCtx,
		Log:     s.log,
		Metrics: s.metrics,
	})
	if err != nil {
		return fmt.Errorf("process text: %w", err)
	}
	return nil
}

func reduce(r query.Reply, words int) Response {
	values := r.Values()
	if len(values) == 0 {
		return Response{RequestID: r.RequestID, Failed: FailedNoAnswers}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return Response{
		RequestID:      r.RequestID,
		MeanWordLength: sum / float64(len(values)),
		Words:          words,
		Answered:       len(values),
	}
}

func (s *Service) Actor() actor.Actor    { return s.act }
func (s *Service) Done() <-chan struct{} { return s.act.Done() }
func (s *Service) Stop()                 { s.act.Stop() }

// Process computes the mean word length of text.
func (s *Service) Process(ctx context.Context, text string) (Response, error) {
	return s.process(ctx, gonanoid.Must(), text, 0)
}

// ProcessRequest is Process under a caller chosen request id.
func (s *Service) ProcessRequest(ctx context.Context, requestID, text string) (Response, error) {
	return s.process(ctx, requestID, text, 0)
}

func (s *Service) process(ctx context.Context, requestID, text string, timeout time.Duration) (Response, error) {
	return actor.Ask(ctx, s.act, func(r actor.ReplyTo[Response]) any {
		return ProcessText{RequestID: requestID, Text: text, Timeout: timeout, ReplyTo: r}
	})
}
