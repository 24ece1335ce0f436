// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"product-atlas/internal/config"
	"product-atlas/pkg/log"
	"product-atlas/pkg/tasks"
)

// maxAttempts 为单个任务的最大失败次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process an ingest task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	ProcessIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// Producer 发送摄取任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestTask 发送一个摄取任务到 Kafka。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Collection),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// retryBackoff 为同一任务两次尝试之间的基础等待时间，按失败次数线性增长。
const retryBackoff = 2 * time.Second

// StartConsumer 启动一个 Kafka 消费者来处理摄取任务，直到 ctx 被取消。
// 失败的任务在进程内重试，累计失败 maxAttempts 次后提交 offset 放弃。
// rdb 可为 nil；此时只按进程内次数计数。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		if !handleTask(ctx, processor, rdb, task, retryBackoff) {
			// ctx 已取消，不提交；重启后 Kafka 会重新投递
			log.Info("Kafka 消费者已停止")
			return
		}
		commit(ctx, r, m)
	}
}

// handleTask runs task until it succeeds or has failed maxAttempts times, waiting
// backoff*failures between attempts. It reports whether the offset should be committed;
// false means ctx was cancelled mid-task.
func handleTask(ctx context.Context, processor TaskProcessor, rdb *redis.Client, task tasks.IngestTask, backoff time.Duration) bool {
	log.Infof("开始处理摄取任务: id=%s, dir=%s, collection=%s", task.TaskID, task.RootDir, task.Collection)
	for failures := 1; ; failures++ {
		err := processor.ProcessIngestTask(ctx, task)
		if err == nil {
			log.Infof("摄取任务处理成功: id=%s", task.TaskID)
			if rdb != nil {
				_ = rdb.Del(ctx, attemptsKey(task.TaskID)).Err()
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Errorf("处理摄取任务失败: id=%s, attempt=%d, Error: %v", task.TaskID, failures, err)
		if shouldGiveUp(ctx, rdb, task.TaskID, failures) {
			log.Errorf("摄取任务多次失败(>=%d)，提交 offset 终止重试: id=%s", maxAttempts, task.TaskID)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff * time.Duration(failures)):
		}
	}
}

// shouldGiveUp 记录一次失败并判断是否已达到 maxAttempts。
// Redis 中的计数跨重启累计；Redis 不可用时退回进程内的失败次数 local。
func shouldGiveUp(ctx context.Context, rdb *redis.Client, taskID string, local int) bool {
	attempts := int64(local)
	if rdb != nil {
		key := attemptsKey(taskID)
		n, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warnf("记录任务失败次数失败, 使用进程内计数: id=%s, err=%v", taskID, err)
		} else {
			_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
			if n > attempts {
				attempts = n
			}
		}
	}
	return attempts >= maxAttempts
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
