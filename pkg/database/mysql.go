// Package database 管理 MySQL 与 Redis 连接。
package database

import (
	"fmt"
	"time"

	"byggassistent/internal/config"
	"byggassistent/internal/model"
	"byggassistent/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 连接归档数据库并迁移 conversations 表。
func InitMySQL(cfg config.MySQLConfig) error {
	if cfg.DSN == "" {
		return fmt.Errorf("database.mysql.dsn 未配置")
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取 sql.DB 失败: %w", err)
	}
	// 归档写入量小，连接池保持较小
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Conversation{}); err != nil {
		return fmt.Errorf("迁移归档表失败: %w", err)
	}
	DB = db
	log.Info("[MySQL] 归档数据库已连接")
	return nil
}
