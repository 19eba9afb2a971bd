// Package kv is the key/value port used to persist membership snapshots and
// worker readings. Adapters for NATS JetStream, Redis and SQLite live under
// adapters/.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type Entry struct {
	Data []byte
	Meta map[string]any
}

type PutOptions struct {
	// TTL is honoured by backends that support expiry; zero keeps the entry.
	TTL time.Duration
}

// Store is implemented by every backend. Get returns ErrNotFound for missing
// keys; deleting a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (entry Entry, err error)
	Delete(ctx context.Context, key string) error
}

func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		err = fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return
}

type prefixed struct {
	Store
	prefix string
}

// Prefixed scopes all keys of store below prefix.
func Prefixed(store Store, prefix string) Store {
	return &prefixed{Store: store, prefix: prefix}
}

func (p *prefixed) Put(ctx context.Context, key string, entry Entry, opts PutOptions) error {
	return p.Store.Put(ctx, p.prefix+key, entry, opts)
}

func (p *prefixed) Get(ctx context.Context, key string) (Entry, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.prefix+key)
}
