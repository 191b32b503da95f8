package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"shroud/internal/proxy"
)

const defaultRedisKey = "shroud:" + documentKey

// Redis keeps the document under a single key.
type Redis struct {
	client *redis.Client
	key    string
	box    *SecretBox
}

func NewRedis(client *redis.Client, key string, box *SecretBox) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key, box: box}
}

func (r *Redis) Load(ctx context.Context) (proxy.Document, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return proxy.Document{}, nil
	}
	if err != nil {
		return proxy.Document{}, fmt.Errorf("store: redis get: %w", err)
	}
	return decode(r.box, data)
}

func (r *Redis) Save(ctx context.Context, doc proxy.Document) error {
	data, err := encode(r.box, doc)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
