package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on plain Redis string keys, namespaced by
// save slot.
type RedisStore struct {
	rdb  *redis.Client
	slot string
}

// NewRedisStore creates a Redis-backed store for one save slot.
func NewRedisStore(rdb *redis.Client, slot string) *RedisStore {
	return &RedisStore{rdb: rdb, slot: slot}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, slotKey(s.slot, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, slotKey(s.slot, key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return deletePrefix(ctx, s.rdb, slotKey(s.slot, ""))
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	slot    string
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, slot string, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		slot:    slot,
		ttl:     ttl,
	}
}

func (s *CachedStore) Get(ctx context.Context, key string) (string, error) {
	// Try cache.
	if v, err := s.rdb.Get(ctx, s.cacheKey(key)).Result(); err == nil {
		return v, nil
	}

	// Cache miss: read from primary.
	v, err := s.primary.Get(ctx, key)
	if err != nil {
		return "", err
	}
	s.rdb.Set(ctx, s.cacheKey(key), v, s.ttl)
	return v, nil
}

func (s *CachedStore) Set(ctx context.Context, key, value string) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}
	s.rdb.Set(ctx, s.cacheKey(key), value, s.ttl)
	return nil
}

func (s *CachedStore) Clear(ctx context.Context) error {
	if err := s.primary.Clear(ctx); err != nil {
		return err
	}
	return deletePrefix(ctx, s.rdb, s.cacheKey(""))
}

func (s *CachedStore) cacheKey(key string) string { return "cache:" + slotKey(s.slot, key) }

func slotKey(slot, key string) string { return fmt.Sprintf("geocoin:%s:%s", slot, key) }

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the SCAN MATCH metacharacters in s so it matches
// literally.
func escapeGlob(s string) string { return globEscaper.Replace(s) }

// deletePrefix removes every key starting with prefix, SCANning in batches.
func deletePrefix(ctx context.Context, rdb *redis.Client, prefix string) error {
	iter := rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", 256).Iterator()
	batch := make([]string, 0, 256)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete %s*: %w", prefix, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s*: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete %s*: %w", prefix, err)
		}
	}
	return nil
}
