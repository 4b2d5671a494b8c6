package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "docstore:"

// RedisFeed implements ChangeFeed over Redis pub/sub, one channel per
// collection path.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisFeed{client: client}, nil
}

func NewRedisFeedWithClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Publish(ctx context.Context, path string) error {
	if err := f.client.Publish(ctx, channelPrefix+path, "changed").Err(); err != nil {
		return fmt.Errorf("publish change for %s: %w", path, err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, path string) (<-chan struct{}, func(), error) {
	sub := f.client.Subscribe(ctx, channelPrefix+path)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", path, err)
	}

	notifications := make(chan struct{}, 1)
	go func() {
		defer close(notifications)
		for range sub.Channel() {
			// Coalesce: a pending notification already forces a re-read.
			select {
			case notifications <- struct{}{}:
			default:
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return notifications, cancel, nil
}

func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
