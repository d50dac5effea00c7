package repository

import (
	"context"
	"time"

	"social-publisher/domain/model"
)

// IJobQueue is a durable at-least-once queue. Jobs are keyed by id; enqueueing an id that is
// still outstanding is a no-op.
type IJobQueue interface {
	Enqueue(ctx context.Context, job *model.Job) (bool, error)
	// Dequeue claims the next ready job or returns nil when none is ready.
	Dequeue(ctx context.Context) (*model.Job, error)
	Ack(ctx context.Context, job *model.Job) error
	// Retry consumes an attempt and schedules the job after its backoff. It reports false when
	// the attempt budget is exhausted and the job was failed instead.
	Retry(ctx context.Context, job *model.Job, cause error) (bool, error)
	Fail(ctx context.Context, job *model.Job, cause error) error
	// Release puts a claimed job back without consuming an attempt.
	Release(ctx context.Context, job *model.Job, delay time.Duration) error
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, id string) (*model.Job, error)
}
