// Package cache 分割结果的 Redis 缓存
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/util"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ segment.Cache = (*Redis)(nil)

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(cfg *config.RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Redis{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get 读取缓存，未命中返回 (nil, nil)
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}
	util.Logger.Debug("redis cache hit", zap.String("key", key), zap.Int("bytes", len(data)))
	return data, nil
}

// Set 写入缓存，过期时间为配置的 ttl（0 表示不过期）
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, r.ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
