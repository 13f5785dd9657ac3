package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"crowdpoll-backend/migrations"
	"crowdpoll-backend/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是全局数据库连接
var DB *gorm.DB

// InitDB 初始化数据库连接
func InitDB() error {
	// 配置GORM
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second, // 慢SQL阈值
			LogLevel:                  logger.Warn, // 日志级别
			IgnoreRecordNotFoundError: true,        // 忽略ErrRecordNotFound错误
			Colorful:                  true,        // 启用彩色打印
		},
	)

	var err error

	// DB_DRIVER 支持 mysql 和 sqlite，默认mysql
	driver := getEnv("DB_DRIVER", "mysql")

	switch driver {
	case "sqlite":
		dbPath := getEnv("DB_PATH", "crowdpoll.db")
		log.Printf("使用SQLite数据库: %s", dbPath)
		DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: newLogger,
		})
	default:
		// 从环境变量获取MySQL数据库配置
		dbUser := getEnv("DB_USER", "polluser")
		dbPassword := getEnv("DB_PASSWORD", "pollpassword")
		dbHost := getEnv("DB_HOST", "mysql")
		dbPort := getEnv("DB_PORT", "3306")
		dbName := getEnv("DB_NAME", "crowdpolldb")

		// 构建DSN
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbUser, dbPassword, dbHost, dbPort, dbName)

		log.Println("使用MySQL数据库")
		DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: newLogger,
		})
	}

	if err != nil {
		return fmt.Errorf("连接数据库失败: %v", err)
	}

	// 自动迁移模型
	if err := Migrate(DB); err != nil {
		return fmt.Errorf("迁移模型失败: %v", err)
	}

	log.Println("数据库连接和迁移成功")
	return nil
}

// Migrate 执行模型迁移，测试环境也复用此函数
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Poll{},
		&models.Option{},
		&models.Vote{},
	); err != nil {
		return err
	}
	return migrations.BackfillDisableVoting(db)
}

// CloseDB 关闭数据库连接
func CloseDB() {
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("获取数据库连接失败: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("关闭数据库连接失败: %v", err)
		return
	}

	log.Println("数据库连接已关闭")
}

// getEnv 获取环境变量值或使用默认值
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
