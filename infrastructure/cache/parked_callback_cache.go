package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	"github.com/redis/go-redis/v9"
)

// ParkedCallbackCache keeps early provider callbacks until the dispatch path records the external key.
type ParkedCallbackCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewParkedCallbackCache(client *redis.Client, ttl time.Duration) *ParkedCallbackCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ParkedCallbackCache{client: client, ttl: ttl}
}

var _ repository.IParkedCallbacks = (*ParkedCallbackCache)(nil)

func parkedKey(platform, accountUID, contentID string) string {
	return fmt.Sprintf("publish:callback:%s:%s:%s", platform, accountUID, contentID)
}

func (c *ParkedCallbackCache) Park(ctx context.Context, cb *model.ProviderCallback) error {
	b, err := json.Marshal(cb)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, parkedKey(cb.Platform, cb.AccountUID, cb.ProviderContentID), b, c.ttl).Err()
}

// Take returns and removes a parked callback. It returns nil when nothing is parked.
func (c *ParkedCallbackCache) Take(ctx context.Context, platform, accountUID, providerContentID string) (*model.ProviderCallback, error) {
	b, err := c.client.GetDel(ctx, parkedKey(platform, accountUID, providerContentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cb := &model.ProviderCallback{}
	if err := json.Unmarshal(b, cb); err != nil {
		return nil, err
	}
	return cb, nil
}

func (c *ParkedCallbackCache) Discard(ctx context.Context, platform, accountUID, providerContentID string) error {
	return c.client.Del(ctx, parkedKey(platform, accountUID, providerContentID)).Err()
}
