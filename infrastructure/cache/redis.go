package cache

import (
	"context"

	"social-publisher/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

func NewCache(ctx context.Context, addr, username, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.GetLogger().WithField("addr", addr).WithField("error", err).Error("Redis ping failed")
		return client, err
	}
	return client, nil
}
