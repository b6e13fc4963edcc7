package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Marveltechapps/selorg-console-core/config"
)

// RedisStorage implements Storage on Redis, for deployments where console
// sessions are shared across kiosk processes. Writes are mirrored onto a
// pub/sub channel per key so Watch sees them from any process.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(cfg *config.RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStorage{
		client: client,
		ttl:    time.Duration(cfg.TTL) * time.Second,
	}, nil
}

func watchChannel(key string) string {
	return fmt.Sprintf("storage:changed:%s", key)
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil // Missing is not an error, the session just isn't there.
	}
	return value, err
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return err
	}
	return r.client.Publish(ctx, watchChannel(key), value).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStorage) Watch(ctx context.Context, key string) (<-chan string, error) {
	pubsub := r.client.Subscribe(ctx, watchChannel(key))
	// Force the subscription to be established before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	ch := make(chan string, 8)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				select {
				case ch <- msg.Payload:
				default:
				}
			}
		}
	}()
	return ch, nil
}

// Close releases the underlying Redis client.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
