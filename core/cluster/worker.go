package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/worker"
)

// RemoteWorker is a worker.Handle for a worker hosted on whichever node owns
// the shard of its id. Done closes once the handle was evicted.
type RemoteWorker struct {
	id   string
	c    *ScopedClient
	done chan struct{}
	once sync.Once
}

func NewRemoteWorker(c *Client, id string, opts ...EnvelopeOption) *RemoteWorker {
	return &RemoteWorker{id: id, c: c.Key(id, opts...), done: make(chan struct{})}
}

func (w *RemoteWorker) ID() string            { return w.id }
func (w *RemoteWorker) Done() <-chan struct{} { return w.done }

// Evict marks the worker as gone for everyone holding the handle.
func (w *RemoteWorker) Evict() { w.once.Do(func() { close(w.done) }) }

func (w *RemoteWorker) Process(ctx context.Context, req worker.ProcessRequest) (*worker.ProcessReply, error) {
	return NewRequest[worker.ProcessRequest, worker.ProcessReply](w.c).Request(ctx, req)
}

func (w *RemoteWorker) Record(ctx context.Context, req worker.RecordRequest) (*worker.Recorded, error) {
	return NewRequest[worker.RecordRequest, worker.Recorded](w.c).Request(ctx, req)
}

func (w *RemoteWorker) Read(ctx context.Context, req worker.ReadRequest) (*worker.Reading, error) {
	return NewRequest[worker.ReadRequest, worker.Reading](w.c).Request(ctx, req)
}

func (w *RemoteWorker) Passivate(ctx context.Context) error {
	if err := w.c.Notify(ctx, worker.Passivate{}); err != nil {
		return err
	}
	w.Evict()
	return nil
}

// WorkerLookup finds a worker hosted on this node.
type WorkerLookup func(id string) (*worker.Worker, bool)

// NewWorkerHandler serves RemoteWorker requests for the workers of this node.
func NewWorkerHandler(lookup WorkerLookup) ServerHandlerFunc {
	passivate := actor.MsgTypeOf(worker.Passivate{})
	return func(ctx context.Context, env Envelope) ([]byte, error) {
		id, err := keyFromHeader(env)
		if err != nil {
			return nil, err
		}
		w, ok := lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, id)
		}
		if env.Type == passivate {
			return nil, w.Passivate(ctx)
		}
		return ActorHandler(w.Actor())(ctx, env)
	}
}

var (
	_ worker.Handle = (*RemoteWorker)(nil)
)
