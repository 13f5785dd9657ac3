package cache

import (
	"hash/fnv"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// 布隆过滤器参数：所有投票ID写入同一个位图，
// 用于在查库之前快速拒绝明显不存在的投票ID
const (
	bloomKey       = "bloom:polls"
	bloomHashCount = 5
	bloomBits      = 1 << 30
)

// bloomHash 计算第seed个哈希位置
func bloomHash(item string, seed int) int64 {
	h := fnv.New64a()
	h.Write([]byte(item))
	h.Write([]byte{byte(seed)})
	return int64(h.Sum64() % uint64(bloomBits))
}

// AddPollToBloomFilter 将新建投票的ID写入布隆过滤器
func AddPollToBloomFilter(pollID string) {
	if !initialized {
		return
	}

	if mockMode {
		mockMutex.Lock()
		mockBloom[pollID] = true
		mockMutex.Unlock()
		return
	}

	pipe := redisClient.Pipeline()
	for i := 0; i < bloomHashCount; i++ {
		pipe.SetBit(redisCtx, bloomKey, bloomHash(pollID, i), 1)
	}
	pipe.Expire(redisCtx, bloomKey, 24*time.Hour)

	if _, err := pipe.Exec(redisCtx); err != nil {
		log.Printf("布隆过滤器写入失败: %s, 错误: %v", pollID, err)
	}
}

// PollMayExist 检查投票ID是否可能存在。
// 返回false表示一定不存在；任何异常情况下保守返回true，交给数据库判断
func PollMayExist(pollID string) bool {
	if !initialized {
		return true
	}

	if mockMode {
		// 模拟模式下的位图不包含进程重启前落库的投票，不能做否定判断
		return true
	}

	pipe := redisClient.Pipeline()
	cmds := make([]*redis.IntCmd, 0, bloomHashCount)
	for i := 0; i < bloomHashCount; i++ {
		cmds = append(cmds, pipe.GetBit(redisCtx, bloomKey, bloomHash(pollID, i)))
	}

	if _, err := pipe.Exec(redisCtx); err != nil {
		log.Printf("布隆过滤器查询失败: %s, 错误: %v", pollID, err)
		return true
	}

	for _, cmd := range cmds {
		if cmd.Val() == 0 {
			return false
		}
	}
	return true
}
