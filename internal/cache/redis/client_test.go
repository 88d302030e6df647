package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cached struct {
	Sepsis float64 `json:"sepsis"`
	Window int     `json:"window_hours"`
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewClient(context.Background(), mr.Host(), portOf(t, mr), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func portOf(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}

func TestPredictionRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	key := PredictionKey(12, "abc")

	var got cached
	hit, err := c.GetPrediction(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.SetPrediction(ctx, key, cached{Sepsis: 0.42, Window: 12}, time.Minute))

	hit, err = c.GetPrediction(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, cached{Sepsis: 0.42, Window: 12}, got)

	mr.FastForward(2 * time.Minute)
	hit, err = c.GetPrediction(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInvalidateStay(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetPrediction(ctx, PredictionKey(1, "a"), cached{}, time.Minute))
	require.NoError(t, c.SetPrediction(ctx, PredictionKey(1, "b"), cached{}, time.Minute))
	require.NoError(t, c.SetPrediction(ctx, PredictionKey(11, "a"), cached{}, time.Minute))
	require.NoError(t, c.SetPrediction(ctx, PredictionKey(0, "a"), cached{}, time.Minute))

	n, err := c.InvalidateStay(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("prediction:stay:11:a"))
	assert.True(t, mr.Exists("prediction:adhoc:a"))
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	port := portOf(t, mr)
	mr.Close()

	_, err := NewClient(context.Background(), "127.0.0.1", port, "", 0)
	require.Error(t, err)
}
