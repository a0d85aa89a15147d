package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

const templateKeyPrefix = "outreach:template:"

// RedisCache stores templates as JSON under a fixed prefix.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache parses url and pings the server.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, id string) (*model.Template, error) {
	data, err := r.client.Get(ctx, templateKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t model.Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *RedisCache) Set(ctx context.Context, t *model.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, templateKeyPrefix+t.ID, data, r.ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, templateKeyPrefix+id).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
