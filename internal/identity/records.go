package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionRecord is the data stored for each session token.
type sessionRecord struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisRecords implements session record storage using Redis.
type RedisRecords struct {
	client *redis.Client
	prefix string
}

func NewRedisRecords(redisURL string) (*RedisRecords, error) {
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

	return &RedisRecords{client: client, prefix: "session:"}, nil
}

func NewRedisRecordsWithClient(client *redis.Client) *RedisRecords {
	return &RedisRecords{client: client, prefix: "session:"}
}

func (r *RedisRecords) key(token string) string {
	return r.prefix + token
}

func (r *RedisRecords) Save(ctx context.Context, token string, ident Identity, ttl time.Duration) error {
	record := sessionRecord{
		UserID:      ident.ID,
		DisplayName: ident.DisplayName,
		Email:       ident.Email,
		CreatedAt:   time.Now(),
	}

	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := r.client.Set(ctx, r.key(token), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (r *RedisRecords) Lookup(ctx context.Context, token string) (Identity, error) {
	jsonData, err := r.client.Get(ctx, r.key(token)).Result()
	if err == redis.Nil {
		return Identity{}, ErrSessionNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup session record: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return Identity{}, fmt.Errorf("unmarshal session record: %w", err)
	}

	return Identity{ID: record.UserID, DisplayName: record.DisplayName, Email: record.Email}, nil
}

func (r *RedisRecords) Revoke(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke session record: %w", err)
	}
	return nil
}

func (r *RedisRecords) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRecords) Close() error {
	return r.client.Close()
}
