package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stockledger:level:"

// Redis stores stock levels as JSON with a TTL
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the configured Redis instance
func NewRedis(cfg *config.RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.TTL)
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Key is the Redis key of a SKU's stock level
func Key(skuID string) string {
	return keyPrefix + skuID
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

// Health reports the cache status in the shape of the other health checks
func (c *Redis) Health(ctx context.Context) map[string]string {
	if err := c.Ping(ctx); err != nil {
		return map[string]string{"status": "unhealthy", "error": err.Error()}
	}
	return map[string]string{"status": "healthy"}
}

func (c *Redis) Get(ctx context.Context, skuID string) (*domain.StockLevel, bool, error) {
	val, err := c.client.Get(ctx, Key(skuID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached stock level: %w", err)
	}

	var level domain.StockLevel
	if err := json.Unmarshal(val, &level); err != nil {
		return nil, false, fmt.Errorf("decode cached stock level: %w", err)
	}
	return &level, true, nil
}

func (c *Redis) Set(ctx context.Context, level *domain.StockLevel) error {
	if level == nil {
		return nil
	}
	payload, err := json.Marshal(level)
	if err != nil {
		return fmt.Errorf("encode stock level: %w", err)
	}
	return c.client.Set(ctx, Key(level.Sku.ID), payload, c.ttl).Err()
}

func (c *Redis) Invalidate(ctx context.Context, skuID string) error {
	return c.client.Del(ctx, Key(skuID)).Err()
}
