package database

import (
	"context"
	"fmt"
	"time"

	"byggassistent/internal/config"
	"byggassistent/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 同时承载会话存储与归档消费者的重试计数。
var RDB *redis.Client

// InitRedis 创建客户端并在 5 秒内完成 PING，否则返回错误。
func InitRedis(cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("连接 Redis %s 失败: %w", cfg.Addr, err)
	}
	RDB = client
	log.Infof("[Redis] 已连接 %s (db=%d)", cfg.Addr, cfg.DB)
	return nil
}
