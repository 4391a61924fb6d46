// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package records

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portsample-ebpf/internal/types"
)

const (
	DefaultRedisKey = "portsample:samples"
	// samples per HSET
	redisChunk = 512
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisSink stores samples as fields of one hash, keyed by timestamp_ns, so
// a later sample with the same timestamp replaces the earlier one.
type RedisSink struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSink connects and pings the server.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	slog.Info("redis sink connected", "addr", cfg.Addr, "key", cfg.Key)
	return newRedisSink(client, cfg), nil
}

func newRedisSink(client *redis.Client, cfg RedisConfig) *RedisSink {
	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{client: client, key: key, ttl: cfg.TTL}
}

// Write sends the batch in one pipeline.
func (s *RedisSink) Write(ctx context.Context, evs []types.Event) error {
	if len(evs) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	var line []byte
	for start := 0; start < len(evs); start += redisChunk {
		end := min(start+redisChunk, len(evs))
		fields := make([]any, 0, 2*(end-start))
		for _, ev := range evs[start:end] {
			line = AppendCSV(line[:0], ev)
			fields = append(fields, strconv.FormatUint(ev.TimestampNs, 10), string(line))
		}
		pipe.HSet(ctx, s.key, fields...)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
