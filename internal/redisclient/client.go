package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/complete_lock.lua
var completeLockScript string

const (
	idempotencyPrefix = "idempotency:order:"
	pendingPrefix     = "pending:"
	donePrefix        = "done:"
)

type Client struct {
	rdb            *redis.Client
	releaseScript  *redis.Script
	completeScript *redis.Script
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

	return NewClientWithRedis(rdb), nil
}

// NewClientWithRedis wraps an existing connection
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		releaseScript:  redis.NewScript(releaseLockScript),
		completeScript: redis.NewScript(completeLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Claim takes the idempotency key for a new order request.
// It returns the owner token when claimed. When the key is already bound to a
// finished order, orderID is that order's id; otherwise the key is still in flight.
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) (token string, orderID int64, err error) {
	token = uuid.New().String()
	redisKey := idempotencyPrefix + key

	ok, err := c.rdb.SetNX(ctx, redisKey, pendingPrefix+token, ttl).Result()
	if err != nil {
		return "", 0, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return token, 0, nil
	}

	val, err := c.rdb.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		// expired between SETNX and GET; caller may retry
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("read idempotency key: %w", err)
	}

	if strings.HasPrefix(val, donePrefix) {
		id, err := strconv.ParseInt(strings.TrimPrefix(val, donePrefix), 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
		}
		return "", id, nil
	}

	return "", 0, nil
}

// Complete binds the claimed key to the created order, if the caller still owns it
func (c *Client) Complete(ctx context.Context, key, token string, orderID int64, ttl time.Duration) error {
	_, err := c.completeScript.Run(ctx, c.rdb,
		[]string{idempotencyPrefix + key},
		pendingPrefix+token, donePrefix+strconv.FormatInt(orderID, 10), int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("complete idempotency key script failed: %w", err)
	}
	return nil
}

// Release drops a claim after a failed request so the client can retry
func (c *Client) Release(ctx context.Context, key, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{idempotencyPrefix + key}, pendingPrefix+token).Result()
	if err != nil {
		return fmt.Errorf("release idempotency key script failed: %w", err)
	}
	return nil
}
