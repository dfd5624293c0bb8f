package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	redisstore "OpenACE-Chain/internal/storage/redis"
	"OpenACE-Chain/pkg/logger"
)

// RedisConfig 描述 Redis 事件队列。
type RedisConfig struct {
	redisstore.Config
	List      string
	BlockWait time.Duration
}

// RedisQueue 通过 LPUSH 发布事件、BRPOP 消费事件。
type RedisQueue struct {
	client redis.UniversalClient
	list   string
	wait   time.Duration
}

// NewRedisQueue 连接 Redis 并返回事件队列。
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	client, err := redisstore.Open(ctx, cfg.Config)
	if err != nil {
		return nil, err
	}
	return NewRedisQueueWithClient(client, cfg.List, cfg.BlockWait), nil
}

// NewRedisQueueWithClient 复用已有客户端。
func NewRedisQueueWithClient(client redis.UniversalClient, list string, wait time.Duration) *RedisQueue {
	if list == "" {
		list = "openace:events"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, list: list, wait: wait}
}

// Publish 实现 Publisher。
func (q *RedisQueue) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.list, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 实现 Subscriber。无法解析的消息会被记录并丢弃。
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := q.client.BRPop(ctx, q.wait, q.list).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("Redis 取事件失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		event, err := Decode([]byte(values[1]))
		if err != nil {
			logger.L().Warn("丢弃无法解析的事件", "error", err)
			continue
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
