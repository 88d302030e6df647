package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// PredictionKey scopes a content hash to a stay, or to ad-hoc requests when
// stayID is 0.
func PredictionKey(stayID int64, hash string) string {
	if stayID == 0 {
		return fmt.Sprintf("prediction:adhoc:%s", hash)
	}
	return fmt.Sprintf("prediction:stay:%d:%s", stayID, hash)
}

func (c *Client) SetPrediction(ctx context.Context, key string, prediction any, ttl time.Duration) error {
	data, err := json.Marshal(prediction)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	err = c.client.Set(ctx, key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set prediction cache: %w", err)
	}

	logger.Debug("Prediction cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetPrediction(ctx context.Context, key string, prediction any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	err = json.Unmarshal(data, prediction)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal prediction: %w", err)
	}

	logger.Debug("Prediction cache hit", zap.String("key", key))
	return true, nil
}

// InvalidateStay drops every cached prediction of a stay.
func (c *Client) InvalidateStay(ctx context.Context, stayID int64) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("prediction:stay:%d:*", stayID), 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Debug("Stay cache invalidated", zap.Int64("stay_id", stayID), zap.Int("keys", deleted))
	return deleted, nil
}
