package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"crowdpoll-backend/cache"
)

// checkAdminKey 校验管理员密钥，未配置ADMIN_KEY时拒绝全部管理请求
func checkAdminKey(provided string) bool {
	expected := os.Getenv("ADMIN_KEY")
	return expected != "" && provided == expected
}

// CleanupCacheInput 清理缓存的输入
type CleanupCacheInput struct {
	AdminKey string   `json:"admin_key" binding:"required"`
	Patterns []string `json:"patterns" binding:"required"` // 要清理的键模式列表
}

// CleanupRedisCache 按模式清理Redis缓存键
func CleanupRedisCache(c *gin.Context) {
	var input CleanupCacheInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("无效的输入: %v", err)})
		return
	}

	if !checkAdminKey(input.AdminKey) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的管理员密钥"})
		return
	}

	redisClient, err := cache.GetClient()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("获取Redis客户端失败: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	totalDeleted := 0
	var cleanupErrors []string

	for _, pattern := range input.Patterns {
		keys, err := redisClient.Keys(ctx, pattern).Result()
		if err != nil {
			cleanupErrors = append(cleanupErrors, fmt.Sprintf("查找键失败 (模式: %s): %v", pattern, err))
			continue
		}
		if len(keys) == 0 {
			continue
		}

		deletedCount, err := redisClient.Del(ctx, keys...).Result()
		if err != nil {
			cleanupErrors = append(cleanupErrors, fmt.Sprintf("删除键失败 (模式: %s): %v", pattern, err))
			continue
		}
		totalDeleted += int(deletedCount)
	}

	log.Printf("缓存清理完成，总共删除了 %d 个键", totalDeleted)

	result := gin.H{
		"success":       len(cleanupErrors) == 0,
		"total_deleted": totalDeleted,
	}
	if len(cleanupErrors) > 0 {
		result["errors"] = cleanupErrors
	}

	c.JSON(http.StatusOK, result)
}

// RetryDeadLetters 将事件死信队列中的消息移回主队列
func RetryDeadLetters(c *gin.Context) {
	if !checkAdminKey(c.GetHeader("X-Admin-Key")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的管理员密钥"})
		return
	}

	if eventQueue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "事件队列未初始化"})
		return
	}

	if err := eventQueue.RetryDeadLetters(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "死信队列重试完成"})
}
