// Package redis provides a kv.Store backed by Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/codewandler/fanout/ports/kv"
)

// Store keeps every entry as one JSON value under <prefix><key>. TTLs map to
// Redis expiry.
type Store struct {
	client *redis.Client
	prefix string
}

type record struct {
	Data []byte         `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// New wraps client. prefix defaults to "fanout:".
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "fanout:"
	}
	return &Store{client: client, prefix: prefix}
}

// Connect opens a client for addr ("host:port" or a redis:// URL) and checks
// it with a PING.
func Connect(ctx context.Context, addr, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return New(client, prefix), nil
}

func (s *Store) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	data, err := json.Marshal(record{Data: entry.Data, Meta: entry.Meta})
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return kv.Entry{}, kv.ErrNotFound
	case err != nil:
		return kv.Entry{}, fmt.Errorf("redis: get %s: %w", key, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return kv.Entry{}, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return kv.Entry{Data: rec.Data, Meta: rec.Meta}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }

var _ kv.Store = (*Store)(nil)
