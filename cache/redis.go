package cache

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 全局Redis客户端
var (
	redisClient *redis.Client
	redisCtx    = context.Background()
	initOnce    sync.Once
	initialized bool

	// 快照源缓存默认过期时间
	defaultExpiration = 5 * time.Minute
	// 缓存时间抖动系数，防止同时失效
	jitterFactor = 0.2
)

// InitRedis 初始化Redis连接
func InitRedis() error {
	var initErr error

	initOnce.Do(func() {
		// 检查是否强制使用模拟模式
		if os.Getenv("REDIS_MOCK") == "true" {
			log.Println("强制使用Redis模拟模式")
			mockMode = true
			initialized = true
			return
		}

		// 从环境变量获取Redis连接信息
		redisAddr := os.Getenv("REDIS_ADDR")
		redisPassword := os.Getenv("REDIS_PASSWORD")
		redisDb := 0

		// 尝试从环境变量解析Redis数据库编号
		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				redisDb = db
			}
		}

		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}

		log.Printf("初始化Redis连接, 地址: %s", redisAddr)

		// 创建Redis客户端
		options := &redis.Options{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          redisDb,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		}

		client := redis.NewClient(options)

		// 测试连接
		if _, err := client.Ping(redisCtx).Result(); err != nil {
			log.Printf("Redis连接失败: %v，将使用模拟模式", err)
			mockMode = true
			initialized = true
			return
		}

		redisClient = client
		initialized = true
		mockMode = false
		log.Println("Redis连接初始化成功")
	})

	return initErr
}

// GetClient 获取Redis客户端实例
func GetClient() (*redis.Client, error) {
	if !initialized {
		return nil, fmt.Errorf("Redis客户端未初始化")
	}
	if mockMode {
		return nil, fmt.Errorf("处于模拟模式，无法获取真实客户端")
	}
	return redisClient, nil
}

// pollStateKey 投票状态缓存键
func pollStateKey(pollID string) string {
	return fmt.Sprintf("poll:%s:state", pollID)
}

// CachePollState 缓存投票状态的JSON，广播读路径复用
func CachePollState(pollID string, data []byte) {
	if !initialized {
		return
	}

	key := pollStateKey(pollID)

	// 添加随机抖动，防止缓存雪崩
	jitter := time.Duration(float64(defaultExpiration) * (1 + jitterFactor*(0.5-rand.Float64())))

	if mockMode {
		mockMutex.Lock()
		mockData[key] = string(data)
		mockMutex.Unlock()
		return
	}

	if err := redisClient.Set(redisCtx, key, data, jitter).Err(); err != nil {
		log.Printf("缓存投票状态失败: %s, 错误: %v", key, err)
	}
}

// GetCachedPollState 读取缓存的投票状态JSON，未命中返回ErrKeyNotFound
func GetCachedPollState(pollID string) ([]byte, error) {
	if !initialized {
		return nil, ErrRedisNotAvailable
	}

	key := pollStateKey(pollID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		if data, ok := mockData[key]; ok {
			return []byte(data), nil
		}
		return nil, ErrKeyNotFound
	}

	data, err := redisClient.Get(redisCtx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// InvalidatePoll 删除投票的全部缓存条目，每次变更提交后调用
func InvalidatePoll(pollID string) {
	if !initialized {
		return
	}

	key := pollStateKey(pollID)

	if mockMode {
		mockMutex.Lock()
		delete(mockData, key)
		mockMutex.Unlock()
		return
	}

	if err := redisClient.Del(redisCtx, key).Err(); err != nil {
		log.Printf("删除缓存键失败: %s, 错误: %v", key, err)
	}
}

// CloseRedis 关闭Redis连接
func CloseRedis() {
	if initialized && !mockMode && redisClient != nil {
		err := redisClient.Close()
		if err != nil {
			log.Printf("关闭Redis连接错误: %v", err)
		}
		log.Println("Redis连接已关闭")
	}
}
