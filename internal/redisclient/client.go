package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/otp_attempt.lua
var otpAttemptScript string

//go:embed scripts/release_claim.lua
var releaseClaimScript string

type Client struct {
	rdb           *redis.Client
	attemptScript *redis.Script
	releaseScript *redis.Script
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
		rdb:           rdb,
		attemptScript: redis.NewScript(otpAttemptScript),
		releaseScript: redis.NewScript(releaseClaimScript),
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

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(key string) string { return fmt.Sprintf("idempotency:%s", key) }
func claimKey(key string) string       { return fmt.Sprintf("lock:checkout:%s", key) }
func otpAttemptKey(orderID string) string {
	return fmt.Sprintf("otp_attempts:%s", orderID)
}

// LookupOrder returns the order created earlier for an idempotency key.
func (c *Client) LookupOrder(ctx context.Context, key string) (string, bool, error) {
	orderID, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orderID, true, nil
}

// RememberOrder maps an idempotency key to the order it created.
func (c *Client) RememberOrder(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, ttl).Err()
}

// Claim takes a short-lived lock on an idempotency key so concurrent
// retries of the same checkout do not both create an order. The returned
// token must be passed to Release.
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, claimKey(key), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release drops a claim if token still owns it.
func (c *Client) Release(ctx context.Context, key, token string) error {
	return c.releaseScript.Run(ctx, c.rdb, []string{claimKey(key)}, token).Err()
}

// OtpLimiter counts failed delivery OTP submissions per order in a fixed
// window that opens at the first failure.
type OtpLimiter struct {
	client      *Client
	maxAttempts int
	window      time.Duration
}

func NewOtpLimiter(client *Client, maxAttempts int, window time.Duration) *OtpLimiter {
	return &OtpLimiter{
		client:      client,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow reports whether another attempt is permitted for the order.
func (l *OtpLimiter) Allow(ctx context.Context, orderID string) (bool, error) {
	n, err := l.client.rdb.Get(ctx, otpAttemptKey(orderID)).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return n < l.maxAttempts, nil
}

// RecordFailure counts a wrong code and returns the attempts used so far.
func (l *OtpLimiter) RecordFailure(ctx context.Context, orderID string) (int, error) {
	res, err := l.client.attemptScript.Run(ctx, l.client.rdb,
		[]string{otpAttemptKey(orderID)}, int(l.window.Seconds())).Int()
	if err != nil {
		return 0, fmt.Errorf("otp attempt script failed: %w", err)
	}
	return res, nil
}

func (l *OtpLimiter) Reset(ctx context.Context, orderID string) error {
	return l.client.rdb.Del(ctx, otpAttemptKey(orderID)).Err()
}
