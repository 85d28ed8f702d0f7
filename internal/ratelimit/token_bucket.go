// Package ratelimit throttles outbound HTTP traffic per source host so
// concurrent runs stay polite toward upstream media servers.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HostBucket is a Redis-backed token bucket keyed by destination host.
// State lives in Redis so the limit holds across concurrent runs.
type HostBucket struct {
	client    *redis.Client
	capacity  int
	refill    float64 // tokens per second
	ttl       time.Duration
	pollEvery time.Duration
}

// New constructs a bucket with the provided capacity and refill rate.
func New(client *redis.Client, capacity int, refillPerSecond float64) *HostBucket {
	return &HostBucket{
		client:    client,
		capacity:  capacity,
		refill:    refillPerSecond,
		ttl:       time.Hour,
		pollEvery: 200 * time.Millisecond,
	}
}

// Allow consumes one token for host if available, returning the allowed
// flag and the remaining token count.
func (b *HostBucket) Allow(ctx context.Context, host string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{"politeness:" + host},
		b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply for host %s: %T", host, res)
	}
	allowed, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed == 1, tokens, nil
}

// Wait blocks until a token is available for host or the context ends.
// Implements retry.Limiter.
func (b *HostBucket) Wait(ctx context.Context, host string) error {
	for {
		allowed, _, err := b.Allow(ctx, host)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(b.pollEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
