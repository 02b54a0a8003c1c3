// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"byggassistent/internal/config"
	"byggassistent/pkg/log"
	"byggassistent/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单条消息处理失败后允许的最大重试次数，超过后提交 offset 放弃该消息。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can archive a turn.
// This decouples the Kafka consumer from the concrete repository implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.TurnArchiveTask) error
}

// Producer 把对话归档任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceTurnArchive 发送一个对话归档任务，以会话 ID 作为分区键保证同一会话内有序。
func (p *Producer) ProduceTurnArchive(ctx context.Context, task tasks.TurnArchiveTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.SessionID),
		Value: taskBytes,
	})
}

// Close 关闭生产者并刷新未发送的消息。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// defaultRetryBackoff 是同一条消息两次重试之间的基础等待时间，按次数线性增长。
const defaultRetryBackoff = 500 * time.Millisecond

// Consumer 消费对话归档任务。
// FetchMessage 在消费组内不会重新投递未提交的消息，因此失败的消息在进程内重试；
// 失败次数同时记录在 Redis 中，进程重启后重新投递的消息会沿用已有的计数。
type Consumer struct {
	reader       *kafka.Reader
	processor    TaskProcessor
	rdb          *redis.Client
	retryBackoff time.Duration
}

// NewConsumer 创建消费者。rdb 可以为 nil，此时失败的消息会被直接提交。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, rdb: rdb, retryBackoff: defaultRetryBackoff}
}

// Run 阻塞消费直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		if c.process(ctx, m) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
	log.Info("Kafka 消费者已停止")
}

// process 重试 handle 直到可以提交 offset。最多尝试 maxAttempts 次；
// ctx 被取消时返回 false，消息留给重启后的消费者。
func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		if c.handle(ctx, m) {
			return true
		}
		if attempt >= maxAttempts {
			log.Errorf("归档任务在进程内重试 %d 次仍未完成，提交 offset: partition=%d offset=%d", attempt, m.Partition, m.Offset)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryBackoff * time.Duration(attempt)):
		}
	}
}

// handle 处理一条消息，返回是否应提交 offset。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	var task tasks.TurnArchiveTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s:%d:%d", m.Topic, m.Partition, m.Offset)
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("归档对话失败: session=%s, Error: %v", task.SessionID, err)
		if c.rdb == nil {
			return true
		}
		attempts, incErr := c.rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时不计数，由 process 在进程内重试
			return false
		}
		_ = c.rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("归档任务多次失败(>=%d)，提交 offset 终止重试: session=%s", maxAttempts, task.SessionID)
			return true
		}
		return false
	}

	if c.rdb != nil {
		_ = c.rdb.Del(ctx, attemptsKey).Err()
	}
	log.Debugf("对话归档成功: session=%s", task.SessionID)
	return true
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
