//go:build integration

package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupClient(ctx context.Context, t *testing.T) *Client {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOtpLimiter(t *testing.T) {
	ctx := context.Background()
	c := setupClient(ctx, t)

	t.Run("locks after max attempts and resets", func(t *testing.T) {
		limiter := NewOtpLimiter(c, 3, 15*time.Minute)

		allowed, err := limiter.Allow(ctx, "o1")
		require.NoError(t, err)
		assert.True(t, allowed)

		for want := 1; want <= 3; want++ {
			n, err := limiter.RecordFailure(ctx, "o1")
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}

		allowed, err = limiter.Allow(ctx, "o1")
		require.NoError(t, err)
		assert.False(t, allowed)

		ttl, err := c.GetClient().TTL(ctx, otpAttemptKey("o1")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, 15*time.Minute)

		other, err := limiter.Allow(ctx, "o2")
		require.NoError(t, err)
		assert.True(t, other, "attempts are counted per order")

		require.NoError(t, limiter.Reset(ctx, "o1"))
		allowed, err = limiter.Allow(ctx, "o1")
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("window expires", func(t *testing.T) {
		limiter := NewOtpLimiter(c, 1, time.Second)

		_, err := limiter.RecordFailure(ctx, "o3")
		require.NoError(t, err)
		allowed, err := limiter.Allow(ctx, "o3")
		require.NoError(t, err)
		require.False(t, allowed)

		assert.Eventually(t, func() bool {
			allowed, err := limiter.Allow(ctx, "o3")
			return err == nil && allowed
		}, 5*time.Second, 100*time.Millisecond)
	})
}

func TestClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	c := setupClient(ctx, t)

	token, ok, err := c.Claim(ctx, "u1:k1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = c.Claim(ctx, "u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "a held claim cannot be taken twice")

	require.NoError(t, c.Release(ctx, "u1:k1", "someone-else"))
	_, ok, err = c.Claim(ctx, "u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "release with a foreign token keeps the claim")

	require.NoError(t, c.Release(ctx, "u1:k1", token))
	again, ok, err := c.Claim(ctx, "u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, token, again)
}

func TestRememberAndLookupOrder(t *testing.T) {
	ctx := context.Background()
	c := setupClient(ctx, t)

	_, found, err := c.LookupOrder(ctx, "u1:k2")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.RememberOrder(ctx, "u1:k2", "order-1", time.Hour))

	orderID, found, err := c.LookupOrder(ctx, "u1:k2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "order-1", orderID)
}
