package proofcache

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	redisstore "OpenACE-Chain/internal/storage/redis"
)

// RedisConfig 描述 Redis 存储的连接参数。
type RedisConfig struct {
	redisstore.Config
	KeyPrefix string
}

// RedisStore 把缓存键保存为 Redis 字符串，多个引擎实例可共享同一份记录。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore 连接 Redis 并返回存储实例。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client, err := redisstore.Open(ctx, cfg.Config)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient 复用已有的客户端。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "openace:proofs:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(k common.Hash) string {
	return s.prefix + k.Hex()
}

// Put 写入键，不设置过期时间。
func (s *RedisStore) Put(ctx context.Context, key common.Hash) error {
	if err := s.client.Set(ctx, s.key(key), 1, 0).Err(); err != nil {
		return fmt.Errorf("Redis 写入校验记录失败: %w", err)
	}
	return nil
}

// Has 判断键是否存在。
func (s *RedisStore) Has(ctx context.Context, key common.Hash) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("Redis 查询校验记录失败: %w", err)
	}
	return n > 0, nil
}

// Delete 删除键，DEL 对不存在的键天然幂等。
func (s *RedisStore) Delete(ctx context.Context, keys ...common.Hash) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = s.key(k)
	}
	if err := s.client.Del(ctx, names...).Err(); err != nil {
		return fmt.Errorf("Redis 删除校验记录失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
