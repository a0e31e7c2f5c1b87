package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/perpkeeper/internal/core/domain"
)

// Client wraps Redis operations for the latest price cache.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// NewClient creates a new Redis client.
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
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg.Prefix), nil
}

func newClient(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "perpkeeper"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) latestKey() string {
	return fmt.Sprintf("%s:latest_price", c.prefix)
}

// SetLatest stores p as the most recent price point.
func (c *Client) SetLatest(ctx context.Context, p domain.PricePoint) error {
	fields := map[string]any{
		"price":        p.Price.String(),
		"timestamp":    p.Timestamp.String(),
		"block_number": p.BlockNumber.String(),
		"tx_hash":      p.TxHash,
		"log_index":    strconv.FormatUint(uint64(p.LogIndex), 10),
	}
	if err := c.rdb.HSet(ctx, c.latestKey(), fields).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// GetLatest returns the cached price point. found is false on a cold cache.
func (c *Client) GetLatest(ctx context.Context) (domain.PricePoint, bool, error) {
	vals, err := c.rdb.HGetAll(ctx, c.latestKey()).Result()
	if err != nil {
		return domain.PricePoint{}, false, fmt.Errorf("hgetall failed: %w", err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, false, nil
	}

	p, err := parseLatest(vals)
	if err != nil {
		return domain.PricePoint{}, false, err
	}
	return p, true, nil
}

func parseLatest(vals map[string]string) (domain.PricePoint, error) {
	var p domain.PricePoint
	var ok bool

	if p.Price, ok = new(big.Int).SetString(vals["price"], 10); !ok {
		return p, fmt.Errorf("invalid cached price: %q", vals["price"])
	}
	if p.Timestamp, ok = new(big.Int).SetString(vals["timestamp"], 10); !ok {
		return p, fmt.Errorf("invalid cached timestamp: %q", vals["timestamp"])
	}
	if p.BlockNumber, ok = new(big.Int).SetString(vals["block_number"], 10); !ok {
		return p, fmt.Errorf("invalid cached block number: %q", vals["block_number"])
	}
	p.TxHash = vals["tx_hash"]
	if raw := vals["log_index"]; raw != "" {
		idx, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return p, fmt.Errorf("invalid cached log index: %w", err)
		}
		p.LogIndex = uint(idx)
	}
	return p, nil
}
