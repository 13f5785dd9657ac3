package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"crowdpoll-backend/cache"
	"crowdpoll-backend/database"
	"crowdpoll-backend/handlers"
	"crowdpoll-backend/mq"
	"crowdpoll-backend/routes"
)

func main() {
	// 加载.env配置，文件不存在时使用环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("未找到.env文件，使用系统环境变量")
	}

	// 初始化数据库连接
	if err := database.InitDB(); err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("数据库连接初始化成功")

	// 初始化Redis连接，失败时自动进入模拟模式
	if err := cache.InitRedis(); err != nil {
		log.Printf("警告: Redis初始化失败: %v", err)
	}

	// 初始化分布式锁，多实例部署时保护同一投票的并发变更
	cache.InitDistLock()

	// 初始化事件队列适配器（RocketMQ → Redis MQ → 进程内直发）
	mqAdapter := mq.NewMQAdapter()
	if err := mqAdapter.Initialize(); err != nil {
		log.Printf("警告: 事件队列初始化失败: %v", err)
	}

	// 连接注册中心消费投票事件，触发快照广播和连接关闭
	if err := mqAdapter.RegisterHandler(handlers.HandlePollEvent); err != nil {
		log.Printf("警告: 注册事件处理函数失败: %v", err)
	}
	handlers.SetEventQueue(mqAdapter)
	log.Printf("事件队列就绪, 模式: %s", mqAdapter.Mode())

	// 设置路由并启动服务器
	router := routes.SetupRouter()
	srv := routes.StartServer(router)

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	database.CloseDB()
	cache.CloseRedis()
	mqAdapter.Close()

	log.Println("服务器优雅关闭")
}
