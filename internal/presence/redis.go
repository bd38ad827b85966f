package presence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "ludex:run:"
	currentKey = "ludex:current"
)

func RunKey(runID string) string {
	return keyPrefix + strings.TrimSpace(runID)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Publish writes the summary under its run key and points the current key
// at it. Both expire after ttl unless refreshed.
func (s *RedisStore) Publish(ctx context.Context, summary Summary, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}
	id := strings.TrimSpace(summary.RunID)
	if id == "" {
		return errors.New("run_id is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, RunKey(id), data, ttl)
	pipe.Set(ctx, currentKey, id, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return nil
	}
	return s.client.Del(ctx, RunKey(id)).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
