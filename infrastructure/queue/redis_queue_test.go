package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"social-publisher/domain/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueue(t *testing.T, defaults model.JobOptions) (*RedisQueue, *fakeClock) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := NewRedisQueue(client, Options{Name: "test", Defaults: defaults, VisibilityTimeout: time.Minute})
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	q.now = clock.now
	return q, clock
}

func keep() *bool {
	b := false
	return &b
}

func TestRedisQueue_EnqueueCollapsesDuplicates(t *testing.T) {
	q, _ := newQueue(t, model.JobOptions{Attempts: 3})
	ctx := context.Background()

	added, err := q.Enqueue(ctx, &model.Job{ID: "task-1", Name: "publish"})
	require.NoError(t, err)
	require.True(t, added)

	added, err = q.Enqueue(ctx, &model.Job{ID: "task-1", Name: "publish"})
	require.NoError(t, err)
	require.False(t, added, "outstanding job id must collapse")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	added, err = q.Enqueue(ctx, &model.Job{ID: "task-1", Name: "publish"})
	require.NoError(t, err)
	require.False(t, added, "active job id must collapse")

	require.NoError(t, q.Ack(ctx, job))
	added, err = q.Enqueue(ctx, &model.Job{ID: "task-1", Name: "publish"})
	require.NoError(t, err)
	require.True(t, added, "completed job id can be enqueued again")
}

func TestRedisQueue_DequeueLifecycle(t *testing.T) {
	q, _ := newQueue(t, model.JobOptions{Attempts: 2, Timeout: 30 * time.Second, RemoveOnComplete: keep()})
	ctx := context.Background()

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, job)

	_, err = q.Enqueue(ctx, &model.Job{ID: "task-1", Name: "publish", Data: []byte(`{"task_id":"task-1"}`)})
	require.NoError(t, err)

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "task-1", job.ID)
	assert.Equal(t, model.JobActive, job.State)
	assert.Equal(t, 2, job.Options.Attempts)
	assert.Equal(t, 30*time.Second, job.Options.Timeout)
	assert.JSONEq(t, `{"task_id":"task-1"}`, string(job.Data))

	require.NoError(t, q.Ack(ctx, job))
	stored, err := q.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.State)
}

func TestRedisQueue_RetryBackoff(t *testing.T) {
	q, clock := newQueue(t, model.JobOptions{
		Attempts: 3,
		Backoff:  model.Backoff{Type: model.BackoffExponential, Delay: 10 * time.Second},
	})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &model.Job{ID: "task-1"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	willRetry, err := q.Retry(ctx, job, errors.New("503"))
	require.NoError(t, err)
	require.True(t, willRetry)

	next, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, next, "job waits for its backoff")

	clock.advance(10 * time.Second)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, "503", job.LastError)

	willRetry, err = q.Retry(ctx, job, errors.New("503 again"))
	require.NoError(t, err)
	require.True(t, willRetry)

	clock.advance(19 * time.Second)
	next, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, next, "second backoff doubles")
	clock.advance(time.Second)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.LastAttempt())
}

func TestRedisQueue_RetryExhausted(t *testing.T) {
	q, _ := newQueue(t, model.JobOptions{Attempts: 1, RemoveOnFail: keep()})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &model.Job{ID: "task-1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	willRetry, err := q.Retry(ctx, job, errors.New("timeout"))
	require.NoError(t, err)
	require.False(t, willRetry)

	stored, err := q.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, stored.State)
	assert.Equal(t, "timeout", stored.LastError)
}

func TestRedisQueue_FailRemovesByDefault(t *testing.T) {
	q, _ := newQueue(t, model.JobOptions{Attempts: 3})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &model.Job{ID: "task-1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, job, errors.New("validation")))
	_, err = q.Get(ctx, "task-1")
	require.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestRedisQueue_ReleaseKeepsAttempts(t *testing.T) {
	q, clock := newQueue(t, model.JobOptions{Attempts: 3})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &model.Job{ID: "task-1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, job, 2*time.Second))
	clock.advance(2 * time.Second)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Zero(t, job.AttemptsMade)
}

func TestRedisQueue_ReclaimExpired(t *testing.T) {
	q, clock := newQueue(t, model.JobOptions{Attempts: 3})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &model.Job{ID: "task-1"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	n, err := q.ReclaimExpired(ctx, clock.now())
	require.NoError(t, err)
	require.Zero(t, n, "claim still valid")

	clock.advance(2 * time.Minute)
	n, err = q.ReclaimExpired(ctx, clock.now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.Reclaimed)
	assert.Zero(t, job.AttemptsMade)
}

func TestRedisQueue_DelayedJob(t *testing.T) {
	q, clock := newQueue(t, model.JobOptions{Attempts: 1})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &model.Job{ID: "task-1", Options: model.JobOptions{Delay: time.Minute}})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, job)

	clock.advance(time.Minute)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestRedisQueue_RetryAfterReclaimIsRefused(t *testing.T) {
	q, clock := newQueue(t, model.JobOptions{Attempts: 3})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &model.Job{ID: "task-1"})
	require.NoError(t, err)
	stale, err := q.Dequeue(ctx)
	require.NoError(t, err)

	clock.advance(2 * time.Hour)
	n, err := q.ReclaimExpired(ctx, clock.now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	retried, err := q.Retry(ctx, stale, errors.New("late"))
	require.ErrorIs(t, err, model.ErrJobNotFound)
	require.False(t, retried)
}
