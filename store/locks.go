package store

import (
	"log"
	"os"
	"sync"
	"time"

	"crowdpoll-backend/cache"
)

// pollLockEntry 单个投票的本地锁，带引用计数以便空闲时回收
type pollLockEntry struct {
	mu   sync.Mutex
	refs int
}

// 本地按投票分片的锁表：同一投票上的变更串行，不同投票互不阻塞
var (
	lockTableMu sync.Mutex
	lockTable   = make(map[string]*pollLockEntry)
)

// acquirePollLock 获取指定投票的本地锁
func acquirePollLock(pollID string) *pollLockEntry {
	lockTableMu.Lock()
	entry, ok := lockTable[pollID]
	if !ok {
		entry = &pollLockEntry{}
		lockTable[pollID] = entry
	}
	entry.refs++
	lockTableMu.Unlock()

	entry.mu.Lock()
	return entry
}

// releasePollLock 释放锁并在无人等待时回收表项
func releasePollLock(pollID string, entry *pollLockEntry) {
	entry.mu.Unlock()

	lockTableMu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(lockTable, pollID)
	}
	lockTableMu.Unlock()
}

// distLockEnabled 多实例部署时通过环境变量开启Redis分布式锁
func distLockEnabled() bool {
	return os.Getenv("POLL_DIST_LOCK") == "true"
}

// WithPollLock 在指定投票的互斥锁内执行变更操作。
// 单实例下使用本地分片锁；开启分布式锁时额外持有Redsync互斥锁，
// 保证多个后端实例之间同一投票的变更也串行。
func WithPollLock(pollID string, action func() error) error {
	entry := acquirePollLock(pollID)
	defer releasePollLock(pollID, entry)

	if distLockEnabled() {
		lockService := cache.GetLockService()
		if lockService != nil {
			err := lockService.WithLock("poll:"+pollID, 8*time.Second, action)
			if err == nil || err != cache.ErrLockNotAcquired {
				return err
			}
			log.Printf("获取投票 %s 的分布式锁失败，降级为本地锁", pollID)
		}
	}

	return action()
}
