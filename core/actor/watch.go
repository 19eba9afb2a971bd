package actor

import (
	"context"
	"time"
)

// Terminable is anything that signals its own termination.
type Terminable interface {
	Done() <-chan struct{}
}

// Watch delivers msg to watcher once target terminates. The returned cancel
// func stops the watch; it is safe to call more than once. A watch never
// outlives the watcher.
func Watch(watcher Actor, target Terminable, msg any) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	go func() {
		defer stop()
		select {
		case <-ctx.Done():
		case <-watcher.Done():
		case <-target.Done():
			_ = Tell(ctx, watcher, msg)
		}
	}()
	return stop
}

// After delivers msg to a once d has elapsed. The returned func stops the
// timer and reports whether it was stopped before firing.
func After(a Actor, d time.Duration, msg any) (stop func() bool) {
	ctx, cancel := context.WithCancel(context.Background())
	t := time.AfterFunc(d, func() {
		defer cancel()
		if ctx.Err() == nil {
			_ = Tell(ctx, a, msg)
		}
	})
	return func() bool {
		cancel()
		return t.Stop()
	}
}
