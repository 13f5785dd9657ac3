package handlers

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"crowdpoll-backend/cache"
)

// 全局限流器状态
var (
	globalLimiter    cache.RateLimiter
	userLimiter      *cache.UserRateLimiter
	socketLimiter    *cache.SlidingWindowRateLimiter
	rateLimitEnabled bool

	// Redis不可用时的本地降级限流器
	localGlobalLimiter *rate.Limiter
	localSocketLimiter *rate.Limiter

	limitStatistics = make(map[string]int64)
	limitStatsLock  = &sync.RWMutex{}

	rateLimiterConfig = RateLimiterConfig{
		GlobalRate:  100,
		GlobalBurst: 200,
		UserRate:    10,
		UserBurst:   20,
		SocketRate:  30,
	}
)

// RateLimiterConfig 限流器配置
type RateLimiterConfig struct {
	Enabled     bool `json:"enabled"`
	GlobalRate  int  `json:"globalRate"`
	GlobalBurst int  `json:"globalBurst"`
	UserRate    int  `json:"userRate"`
	UserBurst   int  `json:"userBurst"`
	SocketRate  int  `json:"socketRate"` // 每分钟允许的新连接数
}

// RateLimiterStats 限流器统计信息
type RateLimiterStats struct {
	TotalRequests     int64             `json:"totalRequests"`
	AllowedRequests   int64             `json:"allowedRequests"`
	RejectedRequests  int64             `json:"rejectedRequests"`
	UserRequestStats  map[string]int64  `json:"userRequestStats"`
	RateLimiterConfig RateLimiterConfig `json:"config"`
}

// InitRateLimiters 初始化限流器，配置来自环境变量
func InitRateLimiters() {
	if os.Getenv("ENABLE_RATE_LIMIT") == "true" {
		rateLimitEnabled = true
	}

	if rateStr := os.Getenv("GLOBAL_RATE_LIMIT"); rateStr != "" {
		if parsed, err := strconv.Atoi(rateStr); err == nil && parsed > 0 {
			rateLimiterConfig.GlobalRate = parsed
			rateLimiterConfig.GlobalBurst = parsed * 2
		}
	}

	if rateStr := os.Getenv("USER_RATE_LIMIT"); rateStr != "" {
		if parsed, err := strconv.Atoi(rateStr); err == nil && parsed > 0 {
			rateLimiterConfig.UserRate = parsed
			rateLimiterConfig.UserBurst = parsed * 2
		}
	}

	if rateStr := os.Getenv("SOCKET_RATE_LIMIT"); rateStr != "" {
		if parsed, err := strconv.Atoi(rateStr); err == nil && parsed > 0 {
			rateLimiterConfig.SocketRate = parsed
		}
	}

	rateLimiterConfig.Enabled = rateLimitEnabled

	if rateLimitEnabled {
		resetRateLimiters()
	}
}

// resetRateLimiters 按当前配置重建限流器
func resetRateLimiters() {
	redisClient, err := cache.GetRedisClient()
	if err != nil {
		// Redis不可用时降级为进程内限流
		log.Printf("无法获取Redis客户端: %v，限流降级为本地模式", err)
		localGlobalLimiter = rate.NewLimiter(rate.Limit(rateLimiterConfig.GlobalRate), rateLimiterConfig.GlobalBurst)
		localSocketLimiter = rate.NewLimiter(rate.Limit(float64(rateLimiterConfig.SocketRate)/60.0), rateLimiterConfig.SocketRate)
		globalLimiter = nil
		userLimiter = nil
		socketLimiter = nil
	} else {
		globalLimiter = cache.NewTokenBucketRateLimiter(
			redisClient,
			"global_api",
			rateLimiterConfig.GlobalRate,
			rateLimiterConfig.GlobalBurst,
		)

		userLimiter = cache.NewUserRateLimiter(
			redisClient,
			"user_api",
			rateLimiterConfig.GlobalRate,
			rateLimiterConfig.GlobalBurst,
			rateLimiterConfig.UserRate,
			rateLimiterConfig.UserBurst,
		)

		socketLimiter = cache.NewSlidingWindowRateLimiter(
			redisClient,
			"socket_admission",
			time.Minute,
			rateLimiterConfig.SocketRate,
		)

		localGlobalLimiter = nil
		localSocketLimiter = nil
	}

	limitStatsLock.Lock()
	limitStatistics = map[string]int64{
		"total":    0,
		"allowed":  0,
		"rejected": 0,
	}
	limitStatsLock.Unlock()

	log.Printf("限流器已初始化：全局速率=%d/秒，用户速率=%d/秒，连接准入=%d/分钟",
		rateLimiterConfig.GlobalRate, rateLimiterConfig.UserRate, rateLimiterConfig.SocketRate)
}

// bumpStat 更新统计计数
func bumpStat(keys ...string) {
	limitStatsLock.Lock()
	for _, key := range keys {
		limitStatistics[key]++
	}
	limitStatsLock.Unlock()
}

// RateLimitMiddleware API限流中间件，全局令牌桶叠加请求体中的用户级限流
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rateLimitEnabled {
			c.Next()
			return
		}

		bumpStat("total")

		// 全局限流检查
		if globalLimiter != nil {
			allowed, err := globalLimiter.Allow(c)
			if err != nil || !allowed {
				bumpStat("rejected")
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "请求频率过高，请稍后再试"})
				c.Abort()
				return
			}
		} else if localGlobalLimiter != nil {
			if !localGlobalLimiter.Allow() {
				bumpStat("rejected")
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "请求频率过高，请稍后再试"})
				c.Abort()
				return
			}
		}

		// 用户级别限流
		userID := c.GetHeader("X-User-ID")
		if userID != "" && userLimiter != nil {
			allowed, err := userLimiter.AllowUser(c, userID)
			if err != nil || !allowed {
				bumpStat("rejected", "user:"+userID)
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "您的请求频率过高，请稍后再试"})
				c.Abort()
				return
			}
		}

		bumpStat("allowed")
		c.Next()
	}
}

// allowSocketAdmission 实时通道的连接准入检查
func allowSocketAdmission(c *gin.Context) bool {
	if !rateLimitEnabled {
		return true
	}

	if socketLimiter != nil {
		allowed, err := socketLimiter.Allow(c)
		if err != nil {
			// 限流器故障时放行，避免误伤正常连接
			log.Printf("连接准入限流检查失败: %v", err)
			return true
		}
		return allowed
	}

	if localSocketLimiter != nil {
		return localSocketLimiter.Allow()
	}
	return true
}

// GetRateLimiterStats 查询限流器状态
func GetRateLimiterStats(c *gin.Context) {
	limitStatsLock.RLock()
	stats := RateLimiterStats{
		TotalRequests:     limitStatistics["total"],
		AllowedRequests:   limitStatistics["allowed"],
		RejectedRequests:  limitStatistics["rejected"],
		UserRequestStats:  make(map[string]int64),
		RateLimiterConfig: rateLimiterConfig,
	}
	for key, value := range limitStatistics {
		if strings.HasPrefix(key, "user:") {
			stats.UserRequestStats[key] = value
		}
	}
	limitStatsLock.RUnlock()

	c.JSON(http.StatusOK, stats)
}

// UpdateRateLimiterConfig 更新限流器配置
func UpdateRateLimiterConfig(c *gin.Context) {
	var config RateLimiterConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的配置参数"})
		return
	}

	if config.GlobalRate <= 0 || config.GlobalBurst <= 0 ||
		config.UserRate <= 0 || config.UserBurst <= 0 || config.SocketRate <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "速率和突发值必须大于0"})
		return
	}

	rateLimiterConfig = config
	rateLimitEnabled = config.Enabled

	if rateLimitEnabled {
		resetRateLimiters()
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "限流器配置已更新",
		"config":  rateLimiterConfig,
	})
}
