package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"curve_core/internal/core"

	"github.com/redis/go-redis/v9"
)

// Cache stores recent quotes so repeated requests skip the scheduler
type Cache interface {
	Get(ctx context.Context, req core.QuoteRequest) (core.Quote, bool, error)
	Set(ctx context.Context, req core.QuoteRequest, q core.Quote) error
}

// RedisOptions configures RedisCache
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache keeps quotes in Redis as JSON with a fixed TTL
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisCache{rdb: rdb, ttl: opts.TTL}, nil
}

func cacheKey(req core.QuoteRequest) string {
	return fmt.Sprintf("curve_core:quote:%s:%s:%s:%s",
		strings.ToLower(req.Chain), strings.ToLower(req.From), strings.ToLower(req.To), req.Amount.String())
}

// Get returns ok == false on a miss
func (c *RedisCache) Get(ctx context.Context, req core.QuoteRequest) (core.Quote, bool, error) {
	data, err := c.rdb.Get(ctx, cacheKey(req)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Quote{}, false, nil
	}
	if err != nil {
		return core.Quote{}, false, err
	}

	q, err := decodeQuote(data)
	if err != nil {
		return core.Quote{}, false, err
	}
	return q, true, nil
}

func (c *RedisCache) Set(ctx context.Context, req core.QuoteRequest, q core.Quote) error {
	data, err := encodeQuote(q)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(req), data, c.ttl).Err()
}

func encodeQuote(q core.Quote) ([]byte, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode quote: %w", err)
	}
	return data, nil
}

func decodeQuote(data []byte) (core.Quote, error) {
	var q core.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return core.Quote{}, fmt.Errorf("decode cached quote: %w", err)
	}
	return q, nil
}

// Check pings Redis for the health manager
func (c *RedisCache) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
