package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/blockmon/internal/core/domain"
)

const (
	defaultKeyPrefix = "blockmon"
	defaultTTL       = 5 * time.Minute
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Client mirrors the monitor's latest head into Redis.
// Only the current head is stored; the key expires if ingestion stalls.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewClient creates a new Redis client and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg Config) *Client {
	c := &Client{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}
	if c.prefix == "" {
		c.prefix = defaultKeyPrefix
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	return c
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func headKey(prefix string) string {
	return fmt.Sprintf("%s:head", prefix)
}

func headChannel(prefix string) string {
	return fmt.Sprintf("%s:heads", prefix)
}

func encodeHead(block domain.Block) ([]byte, error) {
	return json.Marshal(block)
}

// Publish stores block as the current head and announces it on the heads channel.
func (c *Client) Publish(ctx context.Context, block domain.Block) error {
	payload, err := encodeHead(block)
	if err != nil {
		return fmt.Errorf("encode head: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, headKey(c.prefix), payload, c.ttl)
	pipe.Publish(ctx, headChannel(c.prefix), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish head: %w", err)
	}
	return nil
}
