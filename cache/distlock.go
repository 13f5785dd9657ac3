package cache

import (
	"log"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

var (
	rs         *redsync.Redsync
	distOnce   sync.Once
	distLockMu sync.Mutex
)

// DistributedLockService 分布式锁服务，多实例部署时协调同一投票的并发变更
type DistributedLockService struct {
	rs *redsync.Redsync
}

// InitDistLock 初始化分布式锁，依赖已初始化的Redis连接
func InitDistLock() {
	distOnce.Do(func() {
		client, err := GetClient()
		if err != nil {
			log.Printf("初始化分布式锁失败: %v", err)
			return
		}

		pool := goredis.NewPool(client)
		rs = redsync.New(pool)
		log.Println("分布式锁初始化成功")
	})
}

// GetLockService 获取分布式锁服务实例。
// Redis不可用时返回nil，调用方应降级为本地锁
func GetLockService() *DistributedLockService {
	distLockMu.Lock()
	defer distLockMu.Unlock()

	if rs == nil {
		InitDistLock()
	}
	if rs == nil {
		return nil
	}
	return &DistributedLockService{rs: rs}
}

// AcquireLock 尝试获取锁，带有超时时间
func (s *DistributedLockService) AcquireLock(lockName string, expiry time.Duration) (*redsync.Mutex, error) {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),
		redsync.WithRetryDelay(50*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.Lock(); err != nil {
		return nil, err
	}
	return mutex, nil
}

// ReleaseLock 释放锁
func (s *DistributedLockService) ReleaseLock(mutex *redsync.Mutex) (bool, error) {
	return mutex.Unlock()
}

// WithLock 在锁内执行操作。获取失败统一返回ErrLockNotAcquired
func (s *DistributedLockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	mutex, err := s.AcquireLock(lockName, expiry)
	if err != nil {
		log.Printf("获取分布式锁失败: %s, 错误: %v", lockName, err)
		return ErrLockNotAcquired
	}

	defer func() {
		if _, err := s.ReleaseLock(mutex); err != nil {
			log.Printf("释放分布式锁失败: %s, 错误: %v", lockName, err)
		}
	}()

	return action()
}
