package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Name string
	// Defaults applies to every job field left zero by the caller.
	Defaults          model.JobOptions
	VisibilityTimeout time.Duration
}

// RedisQueue keeps each job in a hash and its position in two sorted sets: ready (scored by
// run-at time) and active (scored by visibility deadline). Every state change is one Lua script.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	prefix string
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	if opts.Name == "" {
		opts.Name = "publish"
	}
	if opts.Defaults.Attempts <= 0 {
		opts.Defaults.Attempts = 1
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = opts.Defaults.Timeout + time.Minute
	}
	return &RedisQueue{client: client, opts: opts, prefix: "queue:" + opts.Name, now: time.Now}
}

var _ repository.IJobQueue = (*RedisQueue)(nil)

func (q *RedisQueue) readyKey() string        { return q.prefix + ":ready" }
func (q *RedisQueue) activeKey() string       { return q.prefix + ":active" }
func (q *RedisQueue) jobKey(id string) string { return q.prefix + ":job:" + id }

func millis(t time.Time) int64 { return t.UnixMilli() }

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WithOptions resolves per-job options against the queue defaults.
func (q *RedisQueue) WithOptions(o model.JobOptions) model.JobOptions {
	d := q.opts.Defaults
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = d.Backoff.Type
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = d.Backoff.Delay
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.RemoveOnComplete == nil {
		o.RemoveOnComplete = d.RemoveOnComplete
	}
	if o.RemoveOnFail == nil {
		o.RemoveOnFail = d.RemoveOnFail
	}
	return o
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *model.Job) (bool, error) {
	if job.ID == "" {
		return false, errors.New("job id required")
	}
	job.Options = q.WithOptions(job.Options)
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return false, err
	}
	now := q.now()
	job.CreatedAt = now
	job.State = model.JobWaiting
	runAt := now
	if job.Options.Delay > 0 {
		runAt = now.Add(job.Options.Delay)
		job.State = model.JobDelayed
	}
	added, err := enqueueScript.Run(ctx, q.client, []string{q.jobKey(job.ID), q.readyKey()},
		job.ID, job.Name, job.Data, opts, millis(runAt), millis(now), string(job.State)).Int64()
	if err != nil {
		return false, err
	}
	if added == 0 {
		logger.GetLogger().WithField("job_id", job.ID).Debug("job already outstanding, enqueue collapsed")
	}
	return added == 1, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*model.Job, error) {
	now := q.now()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey(), q.activeKey()},
		millis(now), q.opts.VisibilityTimeout.Milliseconds(), q.prefix).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	fields, _ := res[1].([]any)
	job, err := decodeJob(id, fields)
	if err != nil {
		return nil, err
	}
	// Jobs with a longer timeout than the queue default keep their claim for that long.
	if deadline := job.Options.Timeout + time.Minute; deadline > q.opts.VisibilityTimeout {
		q.client.ZAddXX(ctx, q.activeKey(), redis.Z{Score: float64(millis(now.Add(deadline))), Member: id})
	}
	return job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *model.Job) error {
	return ackScript.Run(ctx, q.client, []string{q.jobKey(job.ID), q.activeKey()},
		job.ID, flag(boolOr(job.Options.RemoveOnComplete, true))).Err()
}

func (q *RedisQueue) Retry(ctx context.Context, job *model.Job, cause error) (bool, error) {
	delay := job.Options.Backoff.Next(job.AttemptsMade + 1)
	runAt := q.now().Add(delay)
	res, err := retryScript.Run(ctx, q.client, []string{q.jobKey(job.ID), q.activeKey(), q.readyKey()},
		job.ID, job.Options.Attempts, millis(runAt), errString(cause), flag(boolOr(job.Options.RemoveOnFail, true))).Int64()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		// Another worker reclaimed it; that worker owns the outcome now.
		return false, fmt.Errorf("%w: %s is no longer active", model.ErrJobNotFound, job.ID)
	case 0:
		return false, nil
	}
	job.AttemptsMade++
	return true, nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *model.Job, cause error) error {
	return failScript.Run(ctx, q.client, []string{q.jobKey(job.ID), q.activeKey()},
		job.ID, errString(cause), flag(boolOr(job.Options.RemoveOnFail, true))).Err()
}

func (q *RedisQueue) Release(ctx context.Context, job *model.Job, delay time.Duration) error {
	return releaseScript.Run(ctx, q.client, []string{q.jobKey(job.ID), q.activeKey(), q.readyKey()},
		job.ID, millis(q.now().Add(delay))).Err()
}

func (q *RedisQueue) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := reclaimScript.Run(ctx, q.client, []string{q.activeKey(), q.readyKey()}, millis(now), q.prefix).Int()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.GetLogger().WithField("count", n).Warn("reclaimed jobs past their visibility deadline")
	}
	return n, nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*model.Job, error) {
	m, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, model.ErrJobNotFound
	}
	fields := make([]any, 0, len(m)*2)
	for k, v := range m {
		fields = append(fields, k, v)
	}
	return decodeJob(id, fields)
}

func decodeJob(id string, fields []any) (*model.Job, error) {
	job := &model.Job{ID: id}
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		switch k {
		case "name":
			job.Name = v
		case "data":
			job.Data = []byte(v)
		case "opts":
			if err := json.Unmarshal([]byte(v), &job.Options); err != nil {
				return nil, fmt.Errorf("decode job %s options: %w", id, err)
			}
		case "state":
			job.State = model.JobState(v)
		case "attempts":
			job.AttemptsMade, _ = strconv.Atoi(v)
		case "last_error":
			job.LastError = v
		case "reclaimed":
			job.Reclaimed = v == "1"
		case "created_at":
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				job.CreatedAt = time.UnixMilli(ms)
			}
		}
	}
	return job, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
