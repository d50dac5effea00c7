package lock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

type Options struct {
	Prefix     string
	TTL        time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Guard wraps a unit of work in acquire, run, release.
type Guard struct {
	locker repository.ILocker
	opts   Options
	// OnRefused is called when the retry budget runs out.
	OnRefused func(key string)
}

func NewGuard(locker repository.ILocker, opts Options) *Guard {
	if opts.Prefix == "" {
		opts.Prefix = "lock"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Guard{locker: locker, opts: opts}
}

// KeyFor derives a lock key from a resource name and a hash of the call arguments, so the same
// resource called with the same arguments always maps to the same key.
func KeyFor(prefix, resource string, args ...any) string {
	b, err := json.Marshal(args)
	if err != nil {
		b = []byte(fmt.Sprint(args...))
	}
	sum := sha1.Sum(b)
	return fmt.Sprintf("%s:%s:%s", prefix, resource, hex.EncodeToString(sum[:]))
}

// WithLock runs fn while holding the lock for (resource, args). When the lock stays taken after
// the retry budget, fn is skipped and model.ErrLockNotAcquired is returned. The lock is released on
// every exit path, including a cancelled ctx or a panic in fn.
func (g *Guard) WithLock(ctx context.Context, resource string, args []any, fn func(ctx context.Context) error) error {
	key := KeyFor(g.opts.Prefix, resource, args...)
	token, err := g.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer g.release(ctx, key, token)
	return fn(ctx)
}

func (g *Guard) acquire(ctx context.Context, key string) (string, error) {
	for attempt := 0; ; attempt++ {
		token, ok, err := g.locker.Acquire(ctx, key, g.opts.TTL)
		if err != nil {
			return "", fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return token, nil
		}
		if attempt >= g.opts.Retries {
			break
		}
		timer := time.NewTimer(g.opts.RetryDelay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if g.OnRefused != nil {
		g.OnRefused(key)
	}
	return "", model.ErrLockNotAcquired
}

func (g *Guard) release(ctx context.Context, key, token string) {
	// Detached so a cancelled attempt still frees the key.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	released, err := g.locker.Release(rctx, key, token)
	if err != nil {
		logger.GetLogger().WithField("key", key).WithField("error", err).Error("lock release failed")
		return
	}
	if !released {
		logger.GetLogger().WithField("key", key).Warn("lock expired before release")
	}
}
