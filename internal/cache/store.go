package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Store is a shared byte cache keyed by string.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Memory adapts an LRU to the Store interface for single-process use.
type Memory struct {
	lru *LRU[[]byte]
}

// NewMemory creates an in-memory Store. Per-call TTLs are ignored in
// favor of the cache-wide ttl.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	return &Memory{lru: NewLRU[[]byte](maxEntries, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Put(key, value)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	return m.lru.InvalidatePrefix(prefix), nil
}

// Stats exposes the underlying LRU statistics.
func (m *Memory) Stats() Stats {
	return m.lru.Stats()
}

// Redis is a Store backed by a Redis server, shared across replicas.
type Redis struct {
	client    *redis.Client
	namespace string
}

// OpenRedis connects to the server at url (redis://[:pass@]host:port/db)
// and verifies it with PING.
func OpenRedis(ctx context.Context, url, namespace string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	return NewRedis(client, namespace), nil
}

// NewRedis wraps an existing client. Keys are stored as "<namespace>:<key>".
func NewRedis(client *redis.Client, namespace string) *Redis {
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: redis get %s", key)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return eris.Wrapf(r.client.Set(ctx, r.key(key), value, ttl).Err(), "cache: redis set %s", key)
}

// DeletePrefix removes keys with SCAN + DEL so large keyspaces are not
// blocked by KEYS.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 500).Iterator()
	var batch []string
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return eris.Wrap(err, "cache: redis del")
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, eris.Wrap(err, "cache: redis scan")
	}
	return deleted, flush()
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
