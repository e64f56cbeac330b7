// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/tasks"
)

const (
	defaultMaxAttempts = 3
	attemptsTTL        = 24 * time.Hour
)

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把识别任务写入 Kafka，实现 tasks.Dispatcher。
type Producer struct {
	w *kafka.Writer
}

var _ tasks.Dispatcher = (*Producer)(nil)

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{w: w}
}

// Dispatch 发送一个识别任务到 Kafka，以任务 ID 作为消息 key。
func (p *Producer) Dispatch(ctx context.Context, task tasks.RecognitionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.JobID),
		Value: taskBytes,
	})
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.w.Close()
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttempts 使用 Redis 计数失败次数，计数 24 小时后过期。
type RedisAttempts struct {
	rdb *redis.Client
}

// NewRedisAttempts 创建基于 Redis 的失败计数器。
func NewRedisAttempts(rdb *redis.Client) *RedisAttempts {
	return &RedisAttempts{rdb: rdb}
}

func (a *RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, attemptsTTL).Err()
	return n, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, key).Err()
}

func attemptsKey(jobID string) string {
	return fmt.Sprintf("kafka:attempts:%s", jobID)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 拉取识别任务并同步处理。
type Consumer struct {
	r           messageReader
	attempts    AttemptCounter
	processor   tasks.Processor
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer 创建一个消费者。
func NewConsumer(cfg config.KafkaConfig, attempts AttemptCounter, processor tasks.Processor) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, attempts, processor)
}

func newConsumer(r messageReader, attempts AttemptCounter, processor tasks.Processor) *Consumer {
	return &Consumer{
		r:           r,
		attempts:    attempts,
		processor:   processor,
		maxAttempts: defaultMaxAttempts,
		backoff:     2 * time.Second,
	}
}

// StartConsumer 启动一个 Kafka 消费者来处理识别任务，直到 ctx 取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor tasks.Processor) error {
	return NewConsumer(cfg, NewRedisAttempts(rdb), processor).Run(ctx)
}

// Run 循环拉取消息，ctx 取消时正常返回。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("[KafkaConsumer] 消费者已启动")
	defer func() {
		if err := c.r.Close(); err != nil {
			log.Errorf("[KafkaConsumer] 关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("[KafkaConsumer] 消费者已停止")
				return nil
			}
			log.Error("[KafkaConsumer] 从 Kafka 读取消息失败", err)
			return err
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.RecognitionTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.JobID == "" {
		log.Errorf("[KafkaConsumer] 无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	key := attemptsKey(task.JobID)
	// 本进程内的失败次数，Redis 不可用时以它为准
	local := int64(0)
	for {
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("[KafkaConsumer] 识别任务处理成功: job=%s", task.JobID)
			_ = c.attempts.Reset(ctx, key)
			c.commit(ctx, m)
			return
		}
		if ctx.Err() != nil {
			// 停机中，不提交 offset，重启后重新投递
			return
		}

		log.Errorf("[KafkaConsumer] 处理识别任务失败: job=%s, error: %v", task.JobID, err)
		local++
		attempts, incErr := c.attempts.Incr(ctx, key)
		if incErr != nil {
			// 不能跳过这条消息：后续消息的提交会把 offset 推过它
			log.Warnf("[KafkaConsumer] 记录失败次数出错，改用进程内计数: job=%s, error: %v", task.JobID, incErr)
			attempts = local
		}
		if attempts >= int64(c.maxAttempts) {
			log.Errorf("[KafkaConsumer] 任务多次失败(>=%d)，标记失败并提交 offset: job=%s", c.maxAttempts, task.JobID)
			if abErr := c.processor.Abandon(ctx, task, err); abErr != nil {
				log.Errorf("[KafkaConsumer] 标记任务失败出错: job=%s, error: %v", task.JobID, abErr)
			}
			_ = c.attempts.Reset(ctx, key)
			c.commit(ctx, m)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Errorf("[KafkaConsumer] 提交 Kafka 消息 offset 失败: %v", err)
	}
}
