package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/rate_limit.lua
var rateLimitScript string

// affiliateCacheTTL bounds staleness of cached affiliate records. A
// deactivated affiliate stops earning commissions within this window.
const affiliateCacheTTL = 5 * time.Minute

type Client struct {
	rdb             *redis.Client
	rateLimitScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:             rdb,
		rateLimitScript: redis.NewScript(rateLimitScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AllowWebhook checks the fixed-window rate limit for a webhook source.
// The counter lives in Redis so the limit holds across service instances.
func (c *Client) AllowWebhook(ctx context.Context, source string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:webhook:%s", source)

	result, err := c.rateLimitScript.Run(ctx, c.rdb, []string{key}, int(window.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return count <= int64(limit), nil
}

// GetAffiliate retrieves a cached affiliate record. A nil affiliate with a
// nil error means cache miss.
func (c *Client) GetAffiliate(ctx context.Context, affiliateID int64) (*models.Affiliate, error) {
	key := fmt.Sprintf("affiliate:%d", affiliateID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var affiliate models.Affiliate
	if err := json.Unmarshal(raw, &affiliate); err != nil {
		return nil, fmt.Errorf("corrupt cached affiliate %d: %w", affiliateID, err)
	}
	return &affiliate, nil
}

// SetAffiliate caches an affiliate record with TTL
func (c *Client) SetAffiliate(ctx context.Context, affiliate *models.Affiliate) error {
	raw, err := json.Marshal(affiliate)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("affiliate:%d", affiliate.ID)
	return c.rdb.Set(ctx, key, raw, affiliateCacheTTL).Err()
}

// InvalidateAffiliate drops an affiliate from the cache
func (c *Client) InvalidateAffiliate(ctx context.Context, affiliateID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("affiliate:%d", affiliateID)).Err()
}
