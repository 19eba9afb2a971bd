package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrActorStopped = errors.New("actor stopped")
)

type (
	OnPanic func(recovered any, stack []byte, msg any)

	// Actor is a single goroutine draining a bounded mailbox.
	Actor interface {
		ID() string
		Send(ctx context.Context, msg Envelope) error
		Pause() error
		Resume() error
		Step() error
		// Stop requests shutdown and waits for the loop to exit. Handlers must
		// use HandlerCtx.Stop instead.
		Stop()
		Done() <-chan struct{}
	}
)

type ctrlKind int

const (
	ctrlPause ctrlKind = iota
	ctrlResume
	ctrlEnableStep
	ctrlStep
)

type Options struct {
	ID          string
	MailboxSize int
	ControlSize int
	Context     context.Context
	Logger      *slog.Logger
	OnPanic     OnPanic
	// MaxConcurrentTasks caps the number of tasks run via HandlerCtx.Schedule.
	MaxConcurrentTasks int
	Metrics            ActorMetrics
}

type BaseActor struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mailbox chan Envelope
	control chan ctrlKind
	done    chan struct{}

	stopOnce sync.Once

	onPanic OnPanic
	metrics ActorMetrics
}

func New(opt Options, handler RawHandler) Actor {
	if opt.ID == "" {
		opt.ID = "actor-" + gonanoid.Must(8)
	}
	if opt.MailboxSize == 0 {
		opt.MailboxSize = 1024
	}
	if opt.ControlSize == 0 {
		opt.ControlSize = 16
	}
	if opt.Context == nil {
		opt.Context = context.Background()
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.MaxConcurrentTasks <= 0 {
		opt.MaxConcurrentTasks = 32
	}
	if opt.Metrics == nil {
		opt.Metrics = NopActorMetrics()
	}
	if opt.OnPanic == nil {
		log := opt.Logger
		opt.OnPanic = func(recovered any, stack []byte, msg any) {
			log.Error("actor panicked", slog.Any("recovered", recovered), slog.String("stack", string(stack)), slog.Any("msg", msg))
		}
	}

	ctx, cancel := context.WithCancel(opt.Context)

	a := &BaseActor{
		id:      opt.ID,
		ctx:     ctx,
		cancel:  cancel,
		log:     opt.Logger,
		mailbox: make(chan Envelope, opt.MailboxSize),
		control: make(chan ctrlKind, opt.ControlSize),
		done:    make(chan struct{}),
		onPanic: opt.OnPanic,
		metrics: opt.Metrics,
	}

	hc := &handlerCtx{
		Context: ctx,
		self:    a,
		log:     opt.Logger,
		sched:   NewSchedulerWithMetrics(opt.MaxConcurrentTasks, ctx, opt.ID, opt.Metrics),
	}

	go a.loop(hc, handler)
	return a
}

func (a *BaseActor) ID() string { return a.id }

// Done is closed when the actor stops.
func (a *BaseActor) Done() <-chan struct{} { return a.done }

// Stop cancels the actor and waits for its loop to exit. Idempotent.
func (a *BaseActor) Stop() {
	a.stopAsync()
	<-a.done
}

func (a *BaseActor) stopAsync() {
	a.stopOnce.Do(a.cancel)
}

// Send enqueues a message, blocking while the mailbox is full.
func (a *BaseActor) Send(ctx context.Context, e Envelope) error {
	if a.ctx.Err() != nil {
		return ErrActorStopped
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("send failed: %w", ctx.Err())
	case <-a.ctx.Done():
		return ErrActorStopped
	case a.mailbox <- e:
		a.metrics.MailboxDepth(a.id, len(a.mailbox))
		return nil
	}
}

// TrySend attempts a non-blocking enqueue.
func (a *BaseActor) TrySend(e Envelope) bool {
	if a.ctx.Err() != nil {
		return false
	}
	select {
	case a.mailbox <- e:
		return true
	default:
		return false
	}
}

// Pause prevents further processing until Resume or Step.
func (a *BaseActor) Pause() error { return a.sendCtrl(ctrlPause) }

// Resume enables continuous processing (disables step mode).
func (a *BaseActor) Resume() error { return a.sendCtrl(ctrlResume) }

// EnableStepMode makes the actor process only when Step() is called.
func (a *BaseActor) EnableStepMode() error { return a.sendCtrl(ctrlEnableStep) }

// Step permits exactly one message to be processed.
func (a *BaseActor) Step() error { return a.sendCtrl(ctrlStep) }

func (a *BaseActor) sendCtrl(k ctrlKind) error {
	select {
	case <-a.ctx.Done():
		return ErrActorStopped
	case a.control <- k:
		return nil
	}
}

// runState lives only in the loop goroutine.
type runState struct {
	paused   bool
	stepMode bool
	permit   int
}

func (s *runState) apply(k ctrlKind) {
	switch k {
	case ctrlPause:
		s.paused = true
		s.permit = 0
	case ctrlResume:
		s.paused = false
		s.stepMode = false
		if s.permit == 0 {
			s.permit = 1
		}
	case ctrlEnableStep:
		s.stepMode = true
		s.paused = true
		s.permit = 0
	case ctrlStep:
		s.permit++
	}
}

func (a *BaseActor) handle(hc HandlerCtx, h RawHandler, env Envelope) (res any, err error) {
	defer a.metrics.MessageDuration(env.Type).ObserveDuration()
	defer func() {
		if r := recover(); r != nil {
			a.metrics.MessagePanic(env.Type)
			a.onPanic(r, debug.Stack(), env.payload())
			err = fmt.Errorf("handler panicked: %v", r)
		}
		a.metrics.MessageProcessed(env.Type, err == nil)
	}()
	return h.HandleMessage(hc, env)
}

func (a *BaseActor) loop(hc *handlerCtx, h RawHandler) {
	defer close(a.done)
	defer a.stopAsync()

	st := runState{permit: 1}

	if err := h.InitHandler(hc); err != nil {
		a.log.Error("actor init failed", slog.String("actor", a.id), slog.Any("error", err))
		return
	}

	for {
		// control always has priority
	drain:
		for {
			select {
			case k := <-a.control:
				st.apply(k)
			default:
				break drain
			}
		}

		if a.ctx.Err() != nil {
			return
		}

		if st.permit <= 0 {
			select {
			case <-a.ctx.Done():
				return
			case k := <-a.control:
				st.apply(k)
			}
			continue
		}

		select {
		case <-a.ctx.Done():
			return
		case k := <-a.control:
			st.apply(k)
		case env := <-a.mailbox:
			st.permit--
			a.metrics.MailboxDepth(a.id, len(a.mailbox))
			res, err := a.handle(hc, h, env)
			if env.Reply != nil {
				env.Reply <- Reply{Result: res, Error: err}
			} else if err != nil {
				a.log.Warn("message handling failed", slog.String("actor", a.id), slog.String("type", env.Type), slog.Any("error", err))
			}
			if !st.paused && !st.stepMode {
				st.permit++
			}
		}
	}
}

var _ Actor = (*BaseActor)(nil)
