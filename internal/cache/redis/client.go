package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	redditapi "github.com/botsentry/backend/internal/reddit"
	"github.com/botsentry/backend/pkg/logger"
)

// Client caches upstream profile fetches so re-running a pipeline shortly
// after a failure does not re-spend the upstream rate budget. It satisfies
// reddit.ProfileCache.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetProfile(ctx context.Context, username string) (*redditapi.Profile, bool, error) {
	data, err := c.client.Get(ctx, profileKey(username)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached profile: %w", err)
	}

	var profile redditapi.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached profile: %w", err)
	}

	logger.Debug("Profile cache hit", zap.String("username", username))
	return &profile, true, nil
}

func (c *Client) SetProfile(ctx context.Context, profile *redditapi.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	err = c.client.Set(ctx, profileKey(profile.Username), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}

	return nil
}

func profileKey(username string) string {
	return "profile:" + username
}
