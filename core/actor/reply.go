package actor

import (
	"context"
	"fmt"
)

// ReplyTo is an opaque reply destination held for the lifetime of a request.
type ReplyTo[T any] interface {
	Reply(ctx context.Context, v T) error
}

// ReplyFunc adapts a plain function to ReplyTo.
type ReplyFunc[T any] func(ctx context.Context, v T) error

func (f ReplyFunc[T]) Reply(ctx context.Context, v T) error { return f(ctx, v) }

// ReplyChan delivers replies to ch. The send blocks until ch accepts the
// value or ctx is done, so use a buffered channel when nobody is reading yet.
func ReplyChan[T any](ch chan<- T) ReplyTo[T] {
	return ReplyFunc[T](func(ctx context.Context, v T) error {
		select {
		case ch <- v:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("reply not delivered: %w", ctx.Err())
		}
	})
}

// ReplyToActor delivers replies into a's mailbox as regular messages.
func ReplyToActor[T any](a Actor) ReplyTo[T] {
	return ReplyFunc[T](func(ctx context.Context, v T) error {
		return Tell(ctx, a, v)
	})
}

// Adapt converts replies of type T into the receiver's own protocol.
func Adapt[T any, U any](to ReplyTo[U], f func(T) U) ReplyTo[T] {
	return ReplyFunc[T](func(ctx context.Context, v T) error {
		return to.Reply(ctx, f(v))
	})
}

// Discard drops every reply.
func Discard[T any]() ReplyTo[T] {
	return ReplyFunc[T](func(context.Context, T) error { return nil })
}

// Ask tells r the message built by mk and waits for the reply routed
// through the ReplyTo handed to mk.
func Ask[T any](ctx context.Context, r requester, mk func(replyTo ReplyTo[T]) any) (out T, err error) {
	ch := make(chan T, 1)
	if err = Tell(ctx, r, mk(ReplyChan(ch))); err != nil {
		return out, err
	}
	select {
	case out = <-ch:
		return out, nil
	case <-ctx.Done():
		return out, ctx.Err()
	case <-r.Done():
		select {
		case out = <-ch:
			return out, nil
		default:
			return out, ErrActorStopped
		}
	}
}
