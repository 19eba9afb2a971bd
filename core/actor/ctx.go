package actor

import (
	"context"
	"log/slog"
)

type (
	HandlerCtx interface {
		context.Context
		Log() *slog.Logger
		// Self is the actor running the handler.
		Self() Actor
		// Schedule runs f outside the mailbox loop, bounded by MaxConcurrentTasks.
		Schedule(f scheduleFunc)
		// Send delivers msg to the actor's own mailbox. Blocks while the mailbox
		// is full, so call it from scheduled tasks, timers or watches.
		Send(ctx context.Context, msg any) error
		// Stop cancels the actor without waiting for the loop to exit.
		Stop()
	}
)

type handlerCtx struct {
	context.Context
	self  *BaseActor
	log   *slog.Logger
	sched Scheduler
}

func (hc *handlerCtx) Schedule(f scheduleFunc) { hc.sched.Schedule(f) }

func (hc *handlerCtx) Log() *slog.Logger { return hc.log }
func (hc *handlerCtx) Self() Actor       { return hc.self }
func (hc *handlerCtx) Stop()             { hc.self.stopAsync() }

func (hc *handlerCtx) Send(ctx context.Context, msg any) error {
	return Tell(ctx, hc.self, msg)
}

var _ HandlerCtx = (*handlerCtx)(nil)
