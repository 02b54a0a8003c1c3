// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"

	"byggassistent/internal/config"
	"byggassistent/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确认语料所在的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) error {
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := MinioClient.BucketExists(context.Background(), cfg.BucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		return fmt.Errorf("存储桶 '%s' 不存在", cfg.BucketName)
	}
	log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	return nil
}

// GetObject 打开存储桶中的一个对象，调用方负责关闭。
func GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	if MinioClient == nil {
		return nil, fmt.Errorf("minio client not initialized")
	}
	obj, err := MinioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("打开对象 %s/%s 失败: %w", bucketName, objectName, err)
	}
	// GetObject 是惰性的，Stat 才会真正访问服务端
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("读取对象 %s/%s 失败: %w", bucketName, objectName, err)
	}
	return obj, nil
}
