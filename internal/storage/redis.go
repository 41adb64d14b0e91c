// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trahoangdev/mini-chatbot/internal/model"
)

// RedisStore keeps conversations in Redis so several relay processes can
// share them.
//
// Layout, under KeyPrefix:
//
//	conv:<id>    JSON encoded conversation
//	conv:order   sorted set of ids scored by insertion sequence
//	conv:seq     insertion sequence counter
//
// A re-Put keeps the original score, so eviction order matches MemoryStore.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	capacity int
	ttl      time.Duration
	onEvict  EvictFunc
}

// DialRedis connects to opts.RedisURL and verifies the connection.
func DialRedis(ctx context.Context, opts Options) (*RedisStore, error) {
	ropts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStore(rdb, opts), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts Options) *RedisStore {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &RedisStore{
		rdb:      rdb,
		prefix:   opts.KeyPrefix,
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		onEvict:  opts.OnEvict,
	}
}

func (s *RedisStore) convKey(id string) string { return s.prefix + "conv:" + id }
func (s *RedisStore) orderKey() string         { return s.prefix + "conv:order" }
func (s *RedisStore) seqKey() string           { return s.prefix + "conv:seq" }

// Get loads a conversation.
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	data, err := s.rdb.Get(ctx, s.convKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// An expired entry may still be ranked.
		s.rdb.ZRem(ctx, s.orderKey(), id)
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Put writes conv and evicts the oldest entries beyond capacity.
func (s *RedisStore) Put(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.convKey(conv.ID), data, s.ttl)
		pipe.ZAddNX(ctx, s.orderKey(), redis.Z{Score: float64(seq), Member: conv.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}

	return s.enforceLimit(ctx)
}

// enforceLimit pops the lowest ranked ids until the set fits.
func (s *RedisStore) enforceLimit(ctx context.Context) error {
	n, err := s.rdb.ZCard(ctx, s.orderKey()).Result()
	if err != nil {
		return fmt.Errorf("redis zcard: %w", err)
	}
	excess := n - int64(s.capacity)
	if excess <= 0 {
		return nil
	}

	popped, err := s.rdb.ZPopMin(ctx, s.orderKey(), excess).Result()
	if err != nil {
		return fmt.Errorf("redis zpopmin: %w", err)
	}

	keys := make([]string, 0, len(popped))
	for _, z := range popped {
		keys = append(keys, s.convKey(fmt.Sprint(z.Member)))
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}

	if s.onEvict != nil {
		for _, z := range popped {
			s.onEvict(fmt.Sprint(z.Member))
		}
	}
	return nil
}

// Delete removes id. Missing ids are ignored.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.convKey(id))
		pipe.ZRem(ctx, s.orderKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Len returns the number of ranked conversations.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
