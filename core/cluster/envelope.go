package cluster

import (
	"strings"
	"time"

	"github.com/codewandler/fanout/internal/reflector"
)

const (
	headerPrefix = "x-fanout-"
	// headerKey carries the routing key of keyed requests.
	headerKey = headerPrefix + "key"
)

type EnvelopeOption func(*Envelope)

func WithHeader(key, value string) EnvelopeOption {
	return func(e *Envelope) {
		if e.Headers == nil {
			e.Headers = make(map[string]string)
		}
		e.Headers[key] = value
	}
}

// WithTTL bounds how long the envelope may wait for a handler.
func WithTTL(ttl time.Duration) EnvelopeOption {
	return func(e *Envelope) {
		e.TTLMs = ttl.Milliseconds()
	}
}

type Envelope struct {
	Shard       int               `json:"shard"`
	Type        string            `json:"type"`
	Data        []byte            `json:"data"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	TTLMs       int64             `json:"ttl_ms,omitempty"`
	CreatedAtMs int64             `json:"created_at_ms,omitempty"`
}

func (e Envelope) GetHeader(key string) (string, bool) {
	v, ok := e.Headers[key]
	return v, ok
}

// Key returns the routing key, if the envelope was sent through Client.Key.
func (e Envelope) Key() (string, bool) { return e.GetHeader(headerKey) }

func (e Envelope) deadline() (time.Time, bool) {
	if e.TTLMs <= 0 || e.CreatedAtMs <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(e.CreatedAtMs + e.TTLMs), true
}

// TTL returns the time left; zero when no TTL applies or it ran out.
func (e Envelope) TTL() time.Duration {
	d, ok := e.deadline()
	if !ok {
		return 0
	}
	return max(time.Until(d), 0)
}

func (e Envelope) Expired() bool {
	d, ok := e.deadline()
	return ok && !time.Now().Before(d)
}

// Validate rejects envelopes that set headers reserved for routing.
func (e Envelope) Validate() error {
	for k := range e.Headers {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, headerPrefix) && lk != headerKey {
			return ErrReservedHeader
		}
	}
	if e.Shard < 0 {
		return ErrInvalidShard
	}
	return nil
}

// stamp fills CreatedAtMs for envelopes carrying a TTL.
func (e *Envelope) stamp() {
	if e.TTLMs > 0 && e.CreatedAtMs == 0 {
		e.CreatedAtMs = time.Now().UnixMilli()
	}
}

func messageType(v any) string {
	if mt, ok := v.(interface{ MsgType() string }); ok {
		return mt.MsgType()
	}
	return reflector.NameOf(v)
}
