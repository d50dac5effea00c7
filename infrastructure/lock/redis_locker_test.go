package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"social-publisher/domain/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client), mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	token, ok, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second holder must be refused")

	released, err := locker.Release(ctx, "k", "not-the-token")
	require.NoError(t, err)
	require.False(t, released)
	require.True(t, mr.Exists("k"))

	released, err = locker.Release(ctx, "k", token)
	require.NoError(t, err)
	require.True(t, released)
	require.False(t, mr.Exists("k"))
}

func TestRedisLocker_ReleaseAfterExpiryKeepsNewHolder(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	old, ok, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	current, ok, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := locker.Release(ctx, "k", old)
	require.NoError(t, err)
	assert.False(t, released)
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, current, got)
}

func TestKeyFor(t *testing.T) {
	a := KeyFor("lock", "publish-task", "task-1")
	b := KeyFor("lock", "publish-task", "task-1")
	c := KeyFor("lock", "publish-task", "task-2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "lock:publish-task:")
}

func TestGuard_WithLock(t *testing.T) {
	t.Run("runs_and_releases", func(t *testing.T) {
		locker, mr := newLocker(t)
		guard := NewGuard(locker, Options{TTL: time.Minute})
		ran := false
		err := guard.WithLock(context.Background(), "publish-task", []any{"t1"}, func(ctx context.Context) error {
			ran = true
			require.True(t, mr.Exists(KeyFor("lock", "publish-task", "t1")))
			return nil
		})
		require.NoError(t, err)
		require.True(t, ran)
		require.False(t, mr.Exists(KeyFor("lock", "publish-task", "t1")))
	})

	t.Run("releases_on_error", func(t *testing.T) {
		locker, mr := newLocker(t)
		guard := NewGuard(locker, Options{TTL: time.Minute})
		boom := errors.New("boom")
		err := guard.WithLock(context.Background(), "publish-task", []any{"t1"}, func(ctx context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
		require.False(t, mr.Exists(KeyFor("lock", "publish-task", "t1")))
	})

	t.Run("skips_work_when_refused", func(t *testing.T) {
		locker, mr := newLocker(t)
		require.NoError(t, mr.Set(KeyFor("lock", "publish-task", "t1"), "someone-else"))
		refused := 0
		guard := NewGuard(locker, Options{TTL: time.Minute, Retries: 2, RetryDelay: time.Millisecond})
		guard.OnRefused = func(string) { refused++ }

		ran := false
		err := guard.WithLock(context.Background(), "publish-task", []any{"t1"}, func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.ErrorIs(t, err, model.ErrLockNotAcquired)
		require.False(t, ran)
		require.Equal(t, 1, refused)
		got, _ := mr.Get(KeyFor("lock", "publish-task", "t1"))
		require.Equal(t, "someone-else", got)
	})
}

func TestGuard_MutualExclusion(t *testing.T) {
	locker, _ := newLocker(t)
	guard := NewGuard(locker, Options{TTL: time.Minute, Retries: 50, RetryDelay: time.Millisecond})

	var inFlight, maxInFlight, runs int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = guard.WithLock(context.Background(), "publish-task", []any{"same"}, func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&runs, 1)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight)
	assert.Positive(t, runs)
}
