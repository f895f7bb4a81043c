package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"venue-matching-service/internal/domain"
	"venue-matching-service/internal/port"
)

var _ port.Cache = (*RedisCache)(nil)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

func key(venue string) string { return "book:" + venue }

func (c *RedisCache) SetSnapshot(ctx context.Context, venue string, snap *domain.BookSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(venue), b, c.ttl).Err()
}

func (c *RedisCache) GetSnapshot(ctx context.Context, venue string) (*domain.BookSnapshot, error) {
	b, err := c.client.Get(ctx, key(venue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.BookSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, venue string) error {
	return c.client.Del(ctx, key(venue)).Err()
}
