// Package actor provides the mailbox runtime every coordinator, worker and
// aggregator runs on.
//
// Each actor:
//   - Processes messages one at a time from a bounded mailbox
//   - Can schedule background tasks via [HandlerCtx.Schedule]
//   - Can be paused, resumed, and stepped for debugging/testing
//   - Signals its termination by closing [Actor.Done]
//
// # Creating Actors
//
//	a := actor.TypedHandlers(
//	    actor.HandleMsg[Evict](func(hc actor.HandlerCtx, _ Evict) error {
//	        return nil
//	    }),
//	    actor.HandleRequest[Process, Processed](func(hc actor.HandlerCtx, p Process) (*Processed, error) {
//	        return &Processed{Output: len(p.Input)}, nil
//	    }),
//	    actor.HandleEvery(30*time.Second, func(hc actor.HandlerCtx) error {
//	        return nil
//	    }),
//	).ToActor(actor.Options{})
//
// # Sending Messages
//
// [Request] waits for a typed response, [Publish] waits until the handler
// finished, [Tell] only enqueues. [RawRequest] carries JSON for messages
// that arrive over a transport.
//
// # Termination and Timers
//
// [Watch] turns the termination of another actor (or anything with a Done
// channel) into a message for the watcher. [After] delivers a message once
// a deadline passed. Both return a cancel func.
//
// # Reply Destinations
//
// [ReplyTo] decouples who asks from who receives: a channel ([ReplyChan]),
// another actor ([ReplyToActor]) or an adapter into a different message
// type ([Adapt]).
//
// # Lifecycle Control
//
//	a.Pause()   // Stop processing messages
//	a.Step()    // Process exactly one message
//	a.Resume()  // Continue normal processing
//	a.Stop()    // Cancel and wait for shutdown
package actor
