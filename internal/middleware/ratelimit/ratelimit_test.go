package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newLimiter(t *testing.T, rpm, burst int) (*RateLimiter, *clock) {
	t.Helper()
	rl := New(Config{MaxRequestsPerMinute: rpm, BurstSize: burst})
	t.Cleanup(rl.Stop)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	rl.now = c.now
	return rl, c
}

func TestAllowBurstThenRefill(t *testing.T) {
	rl, c := newLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("a"), "request %d", i)
	}
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"), "keys have separate buckets")

	c.t = c.t.Add(1500 * time.Millisecond)
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	c.t = c.t.Add(500 * time.Millisecond)
	assert.True(t, rl.allow("a"), "partial refill carries over")
}

func TestRefillCapsAtBurst(t *testing.T) {
	rl, c := newLimiter(t, 60, 2)

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	c.t = c.t.Add(time.Hour)

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
}

func TestMiddleware(t *testing.T) {
	rl, _ := newLimiter(t, 30, 1)

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client-ID", "ward-3")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client-ID", "ward-3")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client-ID", "ward-4")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	rl, c := newLimiter(t, 60, 2)

	assert.True(t, rl.allow("idle"))
	c.t = c.t.Add(9 * time.Minute)
	assert.True(t, rl.allow("busy"))
	c.t = c.t.Add(2 * time.Minute)

	assert.Equal(t, 1, rl.sweep())
	assert.Contains(t, rl.buckets, "busy")
	assert.NotContains(t, rl.buckets, "idle")
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(0))
	assert.Equal(t, 1, retrySeconds(200*time.Millisecond))
	assert.Equal(t, 2, retrySeconds(1500*time.Millisecond))
	assert.Equal(t, 2, retrySeconds(2*time.Second))
}
