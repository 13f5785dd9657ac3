package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient 定义本包依赖的Redis客户端子集，便于替换和测试
type RedisClient interface {
	// 基本操作
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd

	// 管道操作
	Pipeline() redis.Pipeliner

	// 位操作，布隆过滤器使用
	SetBit(ctx context.Context, key string, offset int64, value int) *redis.IntCmd
	GetBit(ctx context.Context, key string, offset int64) *redis.IntCmd

	// 有序集合操作，滑动窗口限流使用
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd

	// Lua脚本，令牌桶限流使用
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// GetRedisClient 获取实现RedisClient接口的客户端
func GetRedisClient() (RedisClient, error) {
	client, err := GetClient()
	if err != nil {
		return nil, fmt.Errorf("获取Redis客户端失败: %w", err)
	}
	return client, nil
}
