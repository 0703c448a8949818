// README: Redis client initialization for the booking snapshot cache.
package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func NewRedis(ctx context.Context, addr string, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, connectBackOff(ctx), func(err error, next time.Duration) {
		log.Warn("redis not ready", zap.Error(err), zap.Duration("retry_in", next))
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
