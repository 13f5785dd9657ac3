package mq

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 适配器运行模式
const (
	ModeRocketMQ = "rocketmq" // RocketMQ集群模式
	ModeRedis    = "redis"    // Redis List队列模式
	ModeDirect   = "direct"   // 单实例进程内直发模式
)

// MQAdapter 事件队列适配器，按可用性在RocketMQ、Redis MQ和进程内直发之间切换
type MQAdapter struct {
	mode        string
	redisMQ     *RedisMQ
	redisClient *redis.Client
	handler     EventHandler
	handlerMu   sync.RWMutex
	initOnce    sync.Once
	initialized bool
}

// NewMQAdapter 创建事件队列适配器
func NewMQAdapter() *MQAdapter {
	return &MQAdapter{mode: ModeDirect}
}

// Initialize 初始化事件队列。
// 优先RocketMQ，其次Redis MQ，都不可用时退化为进程内直发
func (a *MQAdapter) Initialize() error {
	a.initOnce.Do(func() {
		defer func() { a.initialized = true }()

		// RocketMQ需要显式配置地址才启用
		if os.Getenv("ROCKETMQ_NAMESRV_ADDR") != "" {
			if err := initRocketProducer(); err != nil {
				log.Printf("RocketMQ初始化失败: %v，尝试Redis MQ", err)
			} else {
				a.mode = ModeRocketMQ
				log.Println("事件队列使用RocketMQ模式")
				return
			}
		}

		client, err := newEventRedisClient()
		if err != nil {
			log.Printf("Redis MQ初始化失败: %v，退化为进程内直发模式", err)
			a.mode = ModeDirect
			return
		}

		a.redisClient = client
		a.redisMQ = NewRedisMQ(client)
		a.mode = ModeRedis
		log.Println("事件队列使用Redis MQ模式")
	})

	return nil
}

// newEventRedisClient 创建事件队列专用的Redis客户端
func newEventRedisClient() (*redis.Client, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsed, err := strconv.Atoi(dbStr); err == nil {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          db,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis连接失败: %v", err)
	}
	return client, nil
}

// RegisterHandler 注册事件处理函数并启动消费
func (a *MQAdapter) RegisterHandler(handler EventHandler) error {
	if !a.initialized {
		return fmt.Errorf("事件队列适配器未初始化")
	}

	a.handlerMu.Lock()
	a.handler = handler
	a.handlerMu.Unlock()

	switch a.mode {
	case ModeRocketMQ:
		if err := startRocketConsumer(handler); err != nil {
			return fmt.Errorf("启动RocketMQ消费者失败: %v", err)
		}
	case ModeRedis:
		a.redisMQ.RegisterHandler(handler)
		if err := a.redisMQ.Start(); err != nil {
			return fmt.Errorf("启动Redis MQ消费者失败: %v", err)
		}
	case ModeDirect:
		log.Println("进程内直发模式: 事件处理函数已注册")
	}

	return nil
}

// Publish 发布投票事件，kind取EventPollUpdated或EventPollDeleted
func (a *MQAdapter) Publish(pollID string, kind string) error {
	if !a.initialized {
		return fmt.Errorf("事件队列适配器未初始化")
	}

	event := NewPollEvent(pollID, kind)

	switch a.mode {
	case ModeRocketMQ:
		return sendRocketEvent(event)
	case ModeRedis:
		return a.redisMQ.SendEvent(event)
	default:
		// 直发模式：异步调用处理函数，避免阻塞提交路径
		a.handlerMu.RLock()
		handler := a.handler
		a.handlerMu.RUnlock()

		if handler == nil {
			return nil
		}
		go func() {
			if err := handler(event.PollID, event.Kind); err != nil {
				log.Printf("处理事件失败: PollID=%s, Kind=%s, 错误: %v", event.PollID, event.Kind, err)
			}
		}()
		return nil
	}
}

// Mode 返回当前运行模式
func (a *MQAdapter) Mode() string {
	return a.mode
}

// GetQueueStats 获取队列统计信息
func (a *MQAdapter) GetQueueStats() map[string]interface{} {
	stats := make(map[string]interface{})
	stats["mode"] = a.mode

	if !a.initialized {
		stats["status"] = "未初始化"
		return stats
	}

	stats["status"] = "正常运行"
	if a.mode == ModeRedis {
		stats["queues"] = a.redisMQ.GetQueueStats()
	}

	return stats
}

// RetryDeadLetters 重试死信队列中的事件，仅Redis MQ模式可用
func (a *MQAdapter) RetryDeadLetters() error {
	if !a.initialized {
		return fmt.Errorf("事件队列适配器未初始化")
	}

	if a.mode != ModeRedis {
		return fmt.Errorf("当前事件队列模式不支持死信队列操作")
	}
	return a.redisMQ.RetryDeadLetters()
}

// Close 关闭事件队列
func (a *MQAdapter) Close() {
	switch a.mode {
	case ModeRocketMQ:
		closeRocket()
	case ModeRedis:
		a.redisMQ.Stop()
		a.redisClient.Close()
	}
	log.Println("事件队列已关闭")
}
