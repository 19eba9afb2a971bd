package actor

import "github.com/codewandler/fanout/internal/reflector"

type msgTyper interface{ MsgType() string }

func msgTypeFor[T any]() string {
	var z T
	if mt, ok := any(z).(msgTyper); ok {
		return mt.MsgType()
	}
	return reflector.NameFor[T]()
}

func msgTypeOf(x any) string {
	if mt, ok := x.(msgTyper); ok {
		return mt.MsgType()
	}
	return reflector.NameOf(x)
}

// MsgTypeOf returns the dispatch name of msg, as used for remote delivery.
func MsgTypeOf(msg any) string { return msgTypeOf(msg) }
