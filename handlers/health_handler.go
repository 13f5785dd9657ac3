package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"crowdpoll-backend/database"
)

// SystemInfo 系统状态信息
type SystemInfo struct {
	Status          string         `json:"status"`
	Version         string         `json:"version"`
	Uptime          string         `json:"uptime"`
	StartTime       time.Time      `json:"start_time"`
	CurrentTime     time.Time      `json:"current_time"`
	GoVersion       string         `json:"go_version"`
	NumGoroutine    int            `json:"num_goroutine"`
	NumCPU          int            `json:"num_cpu"`
	DBStatus        string         `json:"db_status"`
	Connections     int            `json:"connections"`
	PollConnections map[string]int `json:"poll_connections"`
	EventQueue      interface{}    `json:"event_queue,omitempty"`
}

var (
	startTime = time.Now()
	version   = "0.1.0" // 应用版本，可通过构建参数注入
)

// HealthCheck 基本健康检查端点
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SystemStatus 详细的系统状态，含实时连接和事件队列统计
func SystemStatus(c *gin.Context) {
	dbStatus := "ok"
	sqlDB, err := database.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		dbStatus = "error"
	}

	total, perPoll := GlobalHub.ConnectionStats()

	info := SystemInfo{
		Status:          "ok",
		Version:         version,
		Uptime:          time.Since(startTime).String(),
		StartTime:       startTime,
		CurrentTime:     time.Now(),
		GoVersion:       runtime.Version(),
		NumGoroutine:    runtime.NumGoroutine(),
		NumCPU:          runtime.NumCPU(),
		DBStatus:        dbStatus,
		Connections:     total,
		PollConnections: perPoll,
	}

	if eventQueue != nil {
		info.EventQueue = eventQueue.GetQueueStats()
	}

	c.JSON(http.StatusOK, info)
}
