package actor

import (
	"context"
	"fmt"
)

type requester interface {
	Send(ctx context.Context, msg Envelope) error
	Done() <-chan struct{}
}

// Request sends in to the actor and waits for its *OUT answer.
func Request[IN any, OUT any](ctx context.Context, r requester, in IN) (*OUT, error) {
	res, err := await(ctx, r, Envelope{Type: msgTypeFor[IN](), Msg: in})
	if err != nil || res == nil {
		return nil, err
	}
	out, ok := res.(*OUT)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", res)
	}
	return out, nil
}

// Publish sends in and waits until it was handled.
func Publish[IN any](ctx context.Context, r requester, in IN) error {
	_, err := await(ctx, r, Envelope{Type: msgTypeFor[IN](), Msg: in})
	return err
}

// Tell enqueues msg and returns. Handler errors are only logged by the
// receiving actor.
func Tell(ctx context.Context, r requester, msg any) error {
	return r.Send(ctx, Envelope{Type: msgTypeOf(msg), Msg: msg})
}

// RawRequest delivers a JSON encoded message, as received from a remote
// sender, and waits for the result.
func RawRequest(ctx context.Context, r requester, msgType string, data []byte) (any, error) {
	return await(ctx, r, Envelope{Type: msgType, Data: data})
}

func await(ctx context.Context, r requester, env Envelope) (any, error) {
	replies := make(chan Reply, 1)
	env.Reply = replies
	if err := r.Send(ctx, env); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rep := <-replies:
		return rep.Result, rep.Error
	case <-r.Done():
		// the reply may have raced the shutdown
		select {
		case rep := <-replies:
			return rep.Result, rep.Error
		default:
			return nil, ErrActorStopped
		}
	}
}
