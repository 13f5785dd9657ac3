package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	// Allow 判断请求是否允许通过
	Allow(ctx context.Context) (bool, error)
}

// tokenBucketScript 令牌桶算法的Lua脚本，保证取令牌的原子性
const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local period = 1

local tokens_key = key .. ":tokens"
local timestamp_key = key .. ":ts"

local tokens = tonumber(redis.call("get", tokens_key) or burst)
local last_update = tonumber(redis.call("get", timestamp_key) or 0)

local elapsed = math.max(0, now - last_update)
local new_tokens = math.min(burst, tokens + elapsed * rate)

if new_tokens < 1 then
	return 0
end

new_tokens = new_tokens - 1

redis.call("setex", tokens_key, period * 2, new_tokens)
redis.call("setex", timestamp_key, period * 2, now)

return 1
`

// TokenBucketRateLimiter 令牌桶限流器
type TokenBucketRateLimiter struct {
	redisClient RedisClient
	key         string
	rate        int // 每秒生成的令牌数量
	burst       int // 令牌桶最大容量
}

// NewTokenBucketRateLimiter 创建令牌桶限流器
func NewTokenBucketRateLimiter(client RedisClient, key string, rate, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		redisClient: client,
		key:         fmt.Sprintf("rate_limit:%s", key),
		rate:        rate,
		burst:       burst,
	}
}

// Allow 判断请求是否允许通过
func (l *TokenBucketRateLimiter) Allow(ctx context.Context) (bool, error) {
	if l.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	now := time.Now().Unix()
	keys := []string{l.key}
	args := []interface{}{now, l.rate, l.burst}

	result, err := l.redisClient.Eval(ctx, tokenBucketScript, keys, args...).Result()
	if err != nil {
		return false, err
	}

	return result.(int64) == 1, nil
}

// SlidingWindowRateLimiter 滑动窗口限流器，连接准入使用
type SlidingWindowRateLimiter struct {
	redisClient RedisClient
	key         string
	windowSize  time.Duration
	limit       int
}

// NewSlidingWindowRateLimiter 创建滑动窗口限流器
func NewSlidingWindowRateLimiter(client RedisClient, key string, windowSize time.Duration, limit int) *SlidingWindowRateLimiter {
	return &SlidingWindowRateLimiter{
		redisClient: client,
		key:         fmt.Sprintf("sliding_window:%s", key),
		windowSize:  windowSize,
		limit:       limit,
	}
}

// Allow 判断请求是否允许通过
func (l *SlidingWindowRateLimiter) Allow(ctx context.Context) (bool, error) {
	if l.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	now := time.Now().UnixNano() / int64(time.Millisecond)
	windowStart := now - int64(l.windowSize/time.Millisecond)
	requestID := uuid.New().String()

	// 有序集合记录窗口内的请求，分数为毫秒时间戳
	pipe := l.redisClient.Pipeline()
	pipe.ZAdd(ctx, l.key, redis.Z{Score: float64(now), Member: requestID})
	pipe.ZRemRangeByScore(ctx, l.key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZCard(ctx, l.key)
	pipe.Expire(ctx, l.key, l.windowSize*2)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	count := cmds[2].(*redis.IntCmd).Val()

	// 超过限制时撤回本次记录，避免拒绝的请求占用窗口名额
	if count > int64(l.limit) {
		l.redisClient.ZRem(ctx, l.key, requestID)
		return false, nil
	}

	return true, nil
}

// UserRateLimiter 用户级别限流器，全局令牌桶叠加每用户令牌桶
type UserRateLimiter struct {
	redisClient   RedisClient
	globalLimiter RateLimiter
	keyPrefix     string
	rate          int
	burst         int

	mu       sync.Mutex
	limiters map[string]RateLimiter
}

// NewUserRateLimiter 创建用户级别限流器
func NewUserRateLimiter(client RedisClient, keyPrefix string, globalRate, globalBurst, userRate, userBurst int) *UserRateLimiter {
	return &UserRateLimiter{
		redisClient:   client,
		globalLimiter: NewTokenBucketRateLimiter(client, keyPrefix+":global", globalRate, globalBurst),
		keyPrefix:     keyPrefix,
		rate:          userRate,
		burst:         userBurst,
		limiters:      make(map[string]RateLimiter),
	}
}

// getUserLimiter 获取指定用户的限流器，按需创建
func (l *UserRateLimiter) getUserLimiter(userID string) RateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[userID]; ok {
		return limiter
	}

	limiter := NewTokenBucketRateLimiter(l.redisClient, l.keyPrefix+":user:"+userID, l.rate, l.burst)
	l.limiters[userID] = limiter
	return limiter
}

// AllowUser 判断用户请求是否允许通过
func (l *UserRateLimiter) AllowUser(ctx context.Context, userID string) (bool, error) {
	// 先过全局限流，再过用户级限流
	allowed, err := l.globalLimiter.Allow(ctx)
	if err != nil || !allowed {
		return allowed, err
	}

	return l.getUserLimiter(userID).Allow(ctx)
}
