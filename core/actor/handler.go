package actor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	// Envelope is one mailbox entry. In-process senders set Msg, remote
	// senders set Data (JSON). Reply is nil for Tell.
	Envelope struct {
		Type  string
		Msg   any
		Data  []byte
		Reply chan Reply
	}

	// Reply is the outcome of one handled envelope.
	Reply struct {
		Result any
		Error  error
	}

	// RawHandler is what an actor runs. TypedHandlers builds one from typed
	// handler funcs.
	RawHandler interface {
		InitHandler(hc HandlerCtx) error
		HandleMessage(hc HandlerCtx, env Envelope) (any, error)
	}

	MsgHandlerFunc  func(hc HandlerCtx, msg any) (any, error)
	HandlerInitFunc func(hc HandlerCtx) error

	// HandlerRegistration adds a handler or an init func to a registry.
	HandlerRegistration func(r *TypedHandlerRegistry)
)

type route struct {
	handle MsgHandlerFunc
	decode func(data []byte) (any, error)
}

// TypedHandlerRegistry dispatches envelopes by message type.
type TypedHandlerRegistry struct {
	mu       sync.RWMutex
	inits    []HandlerInitFunc
	routes   map[string]route
	fallback MsgHandlerFunc
}

// TypedHandlers builds a registry from registrations:
//
//	actor.TypedHandlers(
//	    actor.Init(onStart),
//	    actor.HandleMsg[Track](onTrack),
//	    actor.HandleRequest[ReadRequest, Reading](onRead),
//	).ToActor(actor.Options{ID: "device-1"})
func TypedHandlers(regs ...HandlerRegistration) *TypedHandlerRegistry {
	t := &TypedHandlerRegistry{routes: make(map[string]route)}
	for _, r := range regs {
		r(t)
	}
	return t
}

// ToActor starts an actor running the registry.
func (t *TypedHandlerRegistry) ToActor(opts Options) Actor { return New(opts, t) }

func (t *TypedHandlerRegistry) add(msgType string, r route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[msgType] = r
}

func (t *TypedHandlerRegistry) addInit(f HandlerInitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inits = append(t.inits, f)
}

func (t *TypedHandlerRegistry) InitHandler(hc HandlerCtx) error {
	t.mu.RLock()
	inits := append([]HandlerInitFunc(nil), t.inits...)
	t.mu.RUnlock()

	for _, f := range inits {
		if err := f(hc); err != nil {
			return fmt.Errorf("init handler: %w", err)
		}
	}
	return nil
}

func (t *TypedHandlerRegistry) HandleMessage(hc HandlerCtx, env Envelope) (any, error) {
	t.mu.RLock()
	r, ok := t.routes[env.Type]
	fallback := t.fallback
	t.mu.RUnlock()

	switch {
	case !ok && fallback != nil:
		if env.Msg != nil {
			return fallback(hc, env.Msg)
		}
		return fallback(hc, env.Data)
	case !ok:
		return nil, fmt.Errorf("no handler for %s (%T)", env.Type, env.Msg)
	case env.Msg != nil:
		return r.handle(hc, env.Msg)
	}
	in, err := r.decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return r.handle(hc, in)
}

// DefaultHandler handles every message type without its own handler. Remote
// messages arrive undecoded as []byte.
func DefaultHandler(h MsgHandlerFunc) HandlerRegistration {
	return func(t *TypedHandlerRegistry) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.fallback = h
	}
}

// Init runs f once when the actor starts, before the first message.
func Init(f HandlerInitFunc) HandlerRegistration {
	return func(t *TypedHandlerRegistry) { t.addInit(f) }
}

// HandleMsg handles IN without a result.
func HandleMsg[IN any](h func(hc HandlerCtx, in IN) error) HandlerRegistration {
	return handle(msgTypeFor[IN](), func(hc HandlerCtx, in IN) (*struct{}, error) {
		return nil, h(hc, in)
	})
}

// HandleRequest handles IN and answers with *OUT.
func HandleRequest[IN any, OUT any](h func(hc HandlerCtx, in IN) (*OUT, error)) HandlerRegistration {
	return handle(msgTypeFor[IN](), h)
}

func handle[IN any, OUT any](msgType string, h func(hc HandlerCtx, in IN) (*OUT, error)) HandlerRegistration {
	r := route{
		decode: func(data []byte) (any, error) {
			in := new(IN)
			if err := json.Unmarshal(data, in); err != nil {
				return nil, err
			}
			return in, nil
		},
		handle: func(hc HandlerCtx, msg any) (any, error) {
			var in IN
			switch m := msg.(type) {
			case IN:
				in = m
			case *IN:
				if m == nil {
					return nil, fmt.Errorf("nil %s", msgType)
				}
				in = *m
			default:
				return nil, fmt.Errorf("%s: unexpected message %T", msgType, msg)
			}
			out, err := h(hc, in)
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	}
	return func(t *TypedHandlerRegistry) { t.add(msgType, r) }
}

type tick struct{ name string }

func (t tick) MsgType() string { return t.name }

// HandleEvery runs f every interval through the mailbox, so it never
// overlaps other handlers. A tick that finds the mailbox full is dropped.
func HandleEvery(interval time.Duration, f func(hc HandlerCtx) error) HandlerRegistration {
	msg := tick{name: "tick/" + gonanoid.Must()}
	onTick := handle(msg.name, func(hc HandlerCtx, _ tick) (*struct{}, error) {
		return nil, f(hc)
	})
	start := Init(func(hc HandlerCtx) error {
		t := time.NewTicker(interval)
		go func() {
			defer t.Stop()
			for {
				select {
				case <-hc.Done():
					return
				case <-t.C:
				}
				if s, ok := hc.Self().(interface{ TrySend(Envelope) bool }); ok {
					if !s.TrySend(Envelope{Type: msg.name, Msg: msg}) {
						hc.Log().Debug("tick dropped, mailbox full", slog.String("type", msg.name))
					}
					continue
				}
				_ = hc.Send(hc, msg)
			}
		}()
		return nil
	})
	return func(t *TypedHandlerRegistry) {
		onTick(t)
		start(t)
	}
}

func (e Envelope) payload() any {
	if e.Msg != nil {
		return e.Msg
	}
	return e.Data
}
