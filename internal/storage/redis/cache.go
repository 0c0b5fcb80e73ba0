package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss 缓存未命中。
var ErrCacheMiss = fmt.Errorf("cache miss")

// Cache Redis 缓存实现。
//
// 两个用途：
//  1. 缓存客服组的访问令牌，TTL 对齐令牌有效期（扣除刷新缓冲），
//     避免每次服务商调用都回源数据库。
//  2. 记录最近摄取过的服务商邮件 ID，作为 Webhook 路径上
//     存在性检查之前的快速去重提示（仅优化，不承担正确性）。
type Cache struct {
	client *redis.Client
}

// NewCache 创建 Redis 缓存实例。
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	// 测试连接
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// ========== 访问令牌缓存 ==========

// CacheAccessToken 缓存客服组的访问令牌。
func (c *Cache) CacheAccessToken(ctx context.Context, deskID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := fmt.Sprintf("credential:token:%s", deskID)
	return c.client.Set(ctx, key, token, ttl).Err()
}

// GetAccessToken 获取缓存的访问令牌。
func (c *Cache) GetAccessToken(ctx context.Context, deskID string) (string, error) {
	key := fmt.Sprintf("credential:token:%s", deskID)
	token, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return token, nil
}

// InvalidateAccessToken 删除缓存的访问令牌（刷新失败时调用）。
func (c *Cache) InvalidateAccessToken(ctx context.Context, deskID string) error {
	key := fmt.Sprintf("credential:token:%s", deskID)
	return c.client.Del(ctx, key).Err()
}

// ========== 摄取去重提示 ==========

// MarkIngested 记录一个最近摄取过的服务商邮件 ID。
func (c *Cache) MarkIngested(ctx context.Context, provider, providerMessageID string, ttl time.Duration) error {
	key := fmt.Sprintf("ingested:%s:%s", provider, providerMessageID)
	return c.client.Set(ctx, key, 1, ttl).Err()
}

// SeenRecently 判断服务商邮件 ID 是否在近期被摄取过。
// 返回 false 只表示缓存中没有记录，不代表数据库中不存在。
func (c *Cache) SeenRecently(ctx context.Context, provider, providerMessageID string) (bool, error) {
	key := fmt.Sprintf("ingested:%s:%s", provider, providerMessageID)
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Health 检查 Redis 连接。
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (c *Cache) Close() error {
	return c.client.Close()
}
