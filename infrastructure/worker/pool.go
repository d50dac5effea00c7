package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"golang.org/x/sync/errgroup"
)

// Handler processes one claimed job. Its error decides what happens to the job: nil acks it,
// model.ErrLockNotAcquired hands it back untouched, a transient error retries it and anything
// else fails it.
type Handler interface {
	HandleJob(ctx context.Context, job *model.Job) error
	// Abandon is told about jobs whose retries ran out.
	Abandon(ctx context.Context, job *model.Job, cause error)
}

type Options struct {
	Workers         int
	PollInterval    time.Duration
	ReclaimInterval time.Duration
	// LockedDelay is how long a job refused by the task lock waits before it is ready again.
	LockedDelay time.Duration
}

// Pool runs independent workers against a shared queue.
type Pool struct {
	queue   repository.IJobQueue
	handler Handler
	opts    Options
	now     func() time.Time
}

func NewPool(queue repository.IJobQueue, handler Handler, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = 30 * time.Second
	}
	if opts.LockedDelay <= 0 {
		opts.LockedDelay = 5 * time.Second
	}
	return &Pool{queue: queue, handler: handler, opts: opts, now: time.Now}
}

// Run blocks until ctx is done and every in-flight job has finished.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		id := i
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.reclaimLoop(ctx)
		return nil
	})
	logger.GetLogger().WithField("workers", p.opts.Workers).Info("Worker pool started")
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	lg := logger.GetLogger().WithField("worker", id)
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				lg.WithField("error", err).Error("Error while dequeuing job")
			}
			sleep(ctx, p.opts.PollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, p.opts.PollInterval)
			continue
		}
		// Shutdown does not interrupt a started attempt; the job timeout bounds it.
		p.Process(context.WithoutCancel(ctx), job)
	}
}

// Process runs the handler on job and settles the job on the queue.
func (p *Pool) Process(ctx context.Context, job *model.Job) {
	lg := logger.GetLogger().WithField("job_id", job.ID).WithField("attempts_made", job.AttemptsMade)
	err := p.handle(ctx, job)

	var qerr error
	switch {
	case err == nil:
		qerr = p.queue.Ack(ctx, job)
	case errors.Is(err, model.ErrLockNotAcquired):
		qerr = p.queue.Release(ctx, job, p.opts.LockedDelay)
	case model.IsTransient(err):
		var retried bool
		retried, qerr = p.queue.Retry(ctx, job, err)
		if qerr == nil && !retried {
			lg.WithField("error", err).Warn("job retries exhausted")
			p.handler.Abandon(ctx, job, err)
		}
	default:
		qerr = p.queue.Fail(ctx, job, err)
	}
	if qerr != nil {
		// The visibility deadline brings the job back.
		lg.WithField("error", qerr).Error("Error while settling job")
	}
}

func (p *Pool) handle(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().WithField("job_id", job.ID).WithField("panic", r).Error("job handler panicked")
			err = model.Transient("worker", fmt.Errorf("panic: %v", r))
		}
	}()
	return p.handler.HandleJob(ctx, job)
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReclaimExpired(ctx, p.now())
			if err != nil {
				logger.GetLogger().WithField("error", err).Error("Error while reclaiming jobs")
				continue
			}
			if n > 0 {
				logger.GetLogger().WithField("count", n).Warn("Reclaimed jobs past their visibility deadline")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
