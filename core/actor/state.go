package actor

import (
	"context"
	"encoding/json"
)

type (
	StateOp[T any] func(*T)

	// State serializes all access to a value through one goroutine. Writers
	// submit ops, readers run a function against the current value.
	State[T any] struct {
		ctx     context.Context
		data    *T
		tasks   chan func(*T)
		cb      func(*T)
		stopped chan struct{}
	}
)

// NewState starts the owner goroutine. cb, if set, runs after every write.
func NewState[T any](ctx context.Context, data *T, cb func(*T)) *State[T] {
	s := &State[T]{
		ctx:     ctx,
		tasks:   make(chan func(*T), 1),
		data:    data,
		cb:      cb,
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *State[T]) MarshalJSON() ([]byte, error) {
	type dataErr struct {
		data []byte
		err  error
	}
	v := Read(s, func(st *T) dataErr {
		d, err := json.Marshal(st)
		return dataErr{d, err}
	})
	return v.data, v.err
}

func (s *State[T]) UnmarshalJSON(data []byte) error {
	var err error
	s.Process(func(t *T) { err = json.Unmarshal(data, t) })
	return err
}

// Process applies ops in order and waits for them. It returns without
// applying anything once the owner context is done.
func (s *State[T]) Process(ops ...StateOp[T]) {
	select {
	case <-s.Submit(ops...):
	case <-s.stopped:
	}
}

// Submit enqueues ops and returns a channel closed once they were applied.
// A task that lands in the queue after the owner stopped is never applied
// and its channel stays open; wait on Stopped as well.
func (s *State[T]) Submit(ops ...StateOp[T]) <-chan struct{} {
	done := make(chan struct{})
	task := func(st *T) {
		defer close(done)
		for _, op := range ops {
			op(st)
		}
		if s.cb != nil {
			s.cb(st)
		}
	}
	select {
	case s.tasks <- task:
	case <-s.ctx.Done():
		close(done)
	}
	return done
}

// Read blocks and returns the result of op. It returns the zero value of R
// once the owner context is done.
func Read[T any, R any](s *State[T], op func(*T) R) (out R) {
	select {
	case out = <-ReadAsync(s, op):
	case <-s.stopped:
	}
	return
}

// ReadAsync is non-blocking: returns a future chan R immediately.
func ReadAsync[T any, R any](s *State[T], op func(*T) R) <-chan R {
	out := make(chan R, 1)
	task := func(st *T) {
		out <- op(st)
		close(out)
	}
	go func() {
		select {
		case s.tasks <- task:
		case <-s.ctx.Done():
		}
	}()
	return out
}

// Stopped is closed once the owner goroutine has returned. No op runs after
// that.
func (s *State[T]) Stopped() <-chan struct{} { return s.stopped }

func (s *State[T]) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.tasks:
			t(s.data)
		}
	}
}
