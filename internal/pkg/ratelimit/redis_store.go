// internal/pkg/ratelimit/redis_store.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/pkg/redis"
)

const tokenBucketScriptName = "token_bucket"

// RedisStore 把令牌桶放在 Redis 里，多个实例共享同一个配额。
// 时间由调用方传入，桶的过期由 PEXPIRE 负责，所以 Sweep 什么也不做。
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if err := client.LoadScriptFromContent(tokenBucketScriptName, tokenBucketScript); err != nil {
		return nil, fmt.Errorf("failed to load token bucket script: %w", err)
	}
	return &RedisStore{client: client, prefix: "rl:"}, nil
}

func (s *RedisStore) run(ctx context.Context, key string, capacity int, window time.Duration, now time.Time, consume int) (Decision, error) {
	res, err := s.client.RunScript(ctx, tokenBucketScriptName, []string{s.prefix + key},
		capacity, window.Milliseconds(), now.UnixMilli(), consume)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed for %s: %w", key, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected result from token bucket script: %v", res)
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	windowEnd, _ := vals[2].(int64)
	return Decision{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		WindowEnd: time.UnixMilli(windowEnd).UTC(),
	}, nil
}

func (s *RedisStore) Take(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (Decision, error) {
	return s.run(ctx, key, capacity, window, now, 1)
}

func (s *RedisStore) Peek(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (Decision, error) {
	return s.run(ctx, key, capacity, window, now, 0)
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.GetClient().Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Sweep(time.Time, time.Duration) int { return 0 }

var tokenBucketScript = `
-- KEYS[1]: 桶的 key, 例如: rl:cart:{tenant-a:session-1}
-- ARGV[1]: capacity
-- ARGV[2]: 窗口长度(毫秒)
-- ARGV[3]: 当前时间(毫秒)
-- ARGV[4]: 1 = 消费一个令牌, 0 = 只查看

local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])

local tokens = tonumber(redis.call('hget', KEYS[1], 'tokens'))
local window_end = tonumber(redis.call('hget', KEYS[1], 'window_end'))

-- 1. 桶不存在或窗口已过期: 补满并开启新窗口
if tokens == nil or window_end == nil or now > window_end then
    tokens = capacity
    window_end = now + window
    if consume == 0 then
        return {1, tokens, window_end}
    end
    redis.call('hset', KEYS[1], 'tokens', tokens, 'window_end', window_end)
    redis.call('pexpire', KEYS[1], window * 2)
end

if consume == 0 then
    if tokens > 0 then
        return {1, tokens, window_end}
    end
    return {0, 0, window_end}
end

-- 2. 令牌耗尽
if tokens <= 0 then
    return {0, 0, window_end}
end

-- 3. 消费一个令牌
tokens = tokens - 1
redis.call('hset', KEYS[1], 'tokens', tokens)
return {1, tokens, window_end}
`
