// Package queue holds cross-process speech queue transports.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	redis "github.com/redis/go-redis/v9"
)

// RedisList appends speech messages to a Redis list. Consumers pop from the
// head (BLPOP) to read them in order.
type RedisList struct {
	client *redis.Client
	key    string
}

func NewRedisList(cfg config.RedisConfig) *RedisList {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: time.Duration(cfg.DialTimeoutMS) * time.Millisecond,
		MaxRetries:  -1,
	})
	return &RedisList{client: client, key: cfg.Key}
}

func (l *RedisList) Publish(ctx context.Context, msg string) error {
	if err := l.client.RPush(ctx, l.key, msg).Err(); err != nil {
		return fmt.Errorf("redis RPUSH %s: %w", l.key, err)
	}
	return nil
}

// Pop blocks up to timeout for the next message.
func (l *RedisList) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := l.client.BLPop(ctx, timeout, l.key).Result()
	if err != nil {
		return "", fmt.Errorf("redis BLPOP %s: %w", l.key, err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("redis BLPOP %s: unexpected reply %v", l.key, res)
	}
	return res[1], nil
}

func (l *RedisList) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisList) Close() error {
	return l.client.Close()
}
