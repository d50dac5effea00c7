package repository

import (
	"context"
	"time"
)

type ILocker interface {
	// Acquire sets key to a fresh token if absent. ok is false when someone else holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release deletes key only while it still holds token.
	Release(ctx context.Context, key, token string) (bool, error)
}
