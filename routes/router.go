package routes

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"crowdpoll-backend/handlers"
)

// Server HTTP服务器的封装
type Server struct {
	*http.Server
}

// SetupRouter 设置和配置Gin路由
func SetupRouter() *gin.Engine {
	router := gin.Default()

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 初始化限流器
	handlers.InitRateLimiters()

	// 实时通道，升级为WebSocket
	router.GET("/ws", handlers.HandlePollSocket)

	api := router.Group("/api")
	{
		api.Use(handlers.RateLimitMiddleware())

		// 健康检查
		api.GET("/health", handlers.HealthCheck)
		api.GET("/status", handlers.SystemStatus)

		// 访客身份
		api.GET("/users/:id", handlers.ResolveUser)

		// 投票管理端点
		polls := api.Group("/polls")
		{
			polls.POST("/create", handlers.CreatePoll)
			polls.PUT("/vote", handlers.CastVote)
			polls.POST("/option", handlers.ProposeOption)
			polls.PUT("/option", handlers.SetOptionApproval)
			polls.PUT("/setting", handlers.UpdateSetting)
			polls.DELETE("/delete", handlers.DeletePolls)
		}

		// 管理员API
		admin := api.Group("/admin")
		{
			admin.POST("/cache/clean", handlers.CleanupRedisCache)
			admin.POST("/mq/retry", handlers.RetryDeadLetters)
			admin.GET("/ratelimit/stats", handlers.GetRateLimiterStats)
			admin.POST("/ratelimit/config", handlers.UpdateRateLimiterConfig)
		}
	}

	return router
}

// StartServer 启动HTTP服务器
func StartServer(router *gin.Engine) *Server {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8090"
	}

	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	go func() {
		log.Printf("服务器启动在 %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}
