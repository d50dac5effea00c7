package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

// Scheduler moves due tasks onto the job queue.
type Scheduler struct {
	tasks   repository.IPublishTask
	machine *TaskStateMachine
	queue   repository.IJobQueue
	batch   int
	now     func() time.Time
}

func NewScheduler(tasks repository.IPublishTask, machine *TaskStateMachine, queue repository.IJobQueue, batch int) *Scheduler {
	if batch <= 0 {
		batch = 50
	}
	return &Scheduler{tasks: tasks, machine: machine, queue: queue, batch: batch, now: func() time.Time { return time.Now().UTC() }}
}

// DispatchDue enqueues every WaitingForPublish task whose publish time has come.
func (s *Scheduler) DispatchDue(ctx context.Context) (int, error) {
	due, err := s.tasks.ListDue(ctx, s.now(), s.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range due {
		if err := s.Dispatch(ctx, t); err != nil {
			logger.GetLogger().WithField("task_id", t.ID).WithField("error", err).Error("Error while dispatching task")
			continue
		}
		n++
	}
	return n, nil
}

// Dispatch enqueues a WaitingForPublish task and marks it Queued. The job goes first: a worker
// that sees the task still waiting marks it queued itself, so a lost status write never strands
// the job.
func (s *Scheduler) Dispatch(ctx context.Context, t *model.PublishTask) error {
	job := EncodeJob(t.ID)
	if delay := t.PublishTime.Sub(s.now()); delay > 0 {
		job.Options.Delay = delay
	}
	if _, err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", t.ID, err)
	}
	inQueue := true
	queueID := job.ID
	_, err := s.machine.Transition(ctx, t.ID, []model.PublishStatus{model.StatusWaitingForPublish}, model.StatusQueued,
		model.TaskPatch{QueueID: &queueID, InQueue: &inQueue})
	if errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrTaskNotFound) {
		return nil
	}
	return err
}

// Requeue is the explicit "retry now" of a Failed task. The status moves first; if the job cannot
// be enqueued the task goes back to Failed. The content id of the failed attempt is dropped so its
// late callbacks cannot settle the new one.
func (s *Scheduler) Requeue(ctx context.Context, t *model.PublishTask) (*model.PublishTask, error) {
	inQueue := true
	queued := false
	queueID := t.ID
	next, err := s.machine.Transition(ctx, t.ID, []model.PublishStatus{model.StatusFailed}, model.StatusQueued,
		model.TaskPatch{QueueID: &queueID, InQueue: &inQueue, Queued: &queued, ClearExternalRef: true})
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(ctx, EncodeJob(t.ID)); err != nil {
		if _, ferr := s.machine.Fail(ctx, t.ID, []model.PublishStatus{model.StatusQueued}, model.Transient("dispatch", err)); ferr != nil {
			logger.GetLogger().WithField("task_id", t.ID).WithField("error", ferr).Error("could not roll back requeue")
		}
		return nil, fmt.Errorf("enqueue %s: %w", t.ID, err)
	}
	return next, nil
}

// Run dispatches due tasks every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.DispatchDue(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while listing due tasks")
		} else if n > 0 {
			logger.GetLogger().WithField("count", n).Info("Dispatched due publish tasks")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
