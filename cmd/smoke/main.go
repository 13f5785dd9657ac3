// 冒烟工具：对着真实Redis验证布隆过滤器、限流器和分布式锁。
// 用法: go run ./cmd/smoke [bloom|rate|lock|mq]
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"crowdpoll-backend/cache"
	"crowdpoll-backend/mq"

	"github.com/google/uuid"
)

// 布隆过滤器：写入一批投票ID后验证命中和未命中
func smokeBloomFilter() {
	fmt.Println("=== 布隆过滤器 ===")

	pollIDs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range pollIDs {
		cache.AddPollToBloomFilter(id)
		log.Printf("已写入: %s", id)
	}

	for _, id := range pollIDs {
		if cache.PollMayExist(id) {
			log.Printf("命中: %s", id)
		} else {
			log.Printf("异常: %s 应该命中但未命中", id)
		}
	}

	for i := 0; i < 3; i++ {
		unknown := uuid.NewString()
		if !cache.PollMayExist(unknown) {
			log.Printf("正确排除: %s", unknown)
		} else {
			log.Printf("误判(布隆过滤器允许): %s", unknown)
		}
	}
}

// 令牌桶限流器：突发请求应被截断在桶容量
func smokeRateLimiter() {
	fmt.Println("\n=== 限流器 ===")

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		log.Printf("获取Redis客户端失败: %v，跳过", err)
		return
	}

	limiter := cache.NewTokenBucketRateLimiter(redisClient, "smoke_limiter", 3, 5)

	ctx := context.Background()
	allowedCount := 0
	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx)
		if err != nil {
			log.Printf("请求 %d: 限流检查错误: %v", i+1, err)
		} else if allowed {
			allowedCount++
		}
	}
	log.Printf("快速连续10个请求，允许 %d 个通过", allowedCount)

	time.Sleep(3 * time.Second)
	allowedCount = 0
	for i := 0; i < 5; i++ {
		if allowed, _ := limiter.Allow(ctx); allowed {
			allowedCount++
		}
	}
	log.Printf("等待3秒后5个请求，允许 %d 个通过", allowedCount)
}

// 分布式锁：并发持锁的请求应串行执行
func smokeDistributedLock() {
	fmt.Println("\n=== 分布式锁 ===")

	lockService := cache.GetLockService()
	if lockService == nil {
		log.Println("分布式锁服务不可用，跳过")
		return
	}

	const concurrentRequests = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	for i := 0; i < concurrentRequests; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			err := lockService.WithLock("smoke:lock", 5*time.Second, func() error {
				mu.Lock()
				inCritical++
				if inCritical > maxInCritical {
					maxInCritical = inCritical
				}
				mu.Unlock()

				time.Sleep(200 * time.Millisecond)

				mu.Lock()
				inCritical--
				mu.Unlock()
				return nil
			})

			if err == cache.ErrLockNotAcquired {
				log.Printf("请求 %d: 未能获取锁", idx+1)
			} else if err != nil {
				log.Printf("请求 %d: 锁操作错误: %v", idx+1, err)
			}
		}(i)
	}

	wg.Wait()

	if maxInCritical == 1 {
		log.Println("分布式锁正常工作，临界区无并发")
	} else {
		log.Printf("分布式锁异常！临界区最大并发: %d", maxInCritical)
	}
}

// 事件队列：发布一条事件并等待消费回调
func smokeEventQueue() {
	fmt.Println("\n=== 事件队列 ===")

	adapter := mq.NewMQAdapter()
	if err := adapter.Initialize(); err != nil {
		log.Printf("事件队列初始化失败: %v", err)
		return
	}
	defer adapter.Close()

	log.Printf("事件队列模式: %s", adapter.Mode())

	received := make(chan string, 1)
	err := adapter.RegisterHandler(func(pollID string, kind string) error {
		received <- fmt.Sprintf("%s/%s", pollID, kind)
		return nil
	})
	if err != nil {
		log.Printf("注册处理函数失败: %v", err)
		return
	}

	pollID := uuid.NewString()
	if err := adapter.Publish(pollID, mq.EventPollUpdated); err != nil {
		log.Printf("发布事件失败: %v", err)
		return
	}

	select {
	case got := <-received:
		log.Printf("事件已消费: %s", got)
	case <-time.After(10 * time.Second):
		log.Println("等待事件消费超时")
	}
}

func main() {
	if err := cache.InitRedis(); err != nil {
		log.Printf("初始化Redis失败: %v", err)
	}
	cache.InitDistLock()

	defer fmt.Println("冒烟检查完成")

	args := os.Args[1:]
	if len(args) > 0 {
		for _, arg := range args {
			switch arg {
			case "bloom":
				smokeBloomFilter()
			case "rate":
				smokeRateLimiter()
			case "lock":
				smokeDistributedLock()
			case "mq":
				smokeEventQueue()
			default:
				log.Printf("未知检查项: %s", arg)
			}
		}
		return
	}

	smokeBloomFilter()
	smokeRateLimiter()
	smokeDistributedLock()
	smokeEventQueue()
}
