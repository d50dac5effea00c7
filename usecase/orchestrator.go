package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/lock"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/platform"
	"social-publisher/infrastructure/telemetry"
)

const (
	PublishJobName      = "publish"
	publishLockResource = "publish-task"
)

// JobPayload is the body of a publish job.
type JobPayload struct {
	TaskID string `json:"task_id"`
}

type credentialResolver interface {
	Resolve(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error)
}

type adapterRegistry interface {
	Get(platform string) (repository.IPlatformAdapter, error)
}

// Orchestrator runs one publish attempt per job: lock the task, move it to Publishing, resolve a
// credential, drive the platform adapter and settle the outcome. It alone decides between retry
// and terminal failure; the worker maps its result onto the queue.
type Orchestrator struct {
	tasks    repository.IPublishTask
	machine  *TaskStateMachine
	creds    credentialResolver
	adapters adapterRegistry
	media    repository.IMediaSource
	guard    *lock.Guard
	parked   repository.IParkedCallbacks
	metrics  *telemetry.Metrics
}

func NewOrchestrator(
	tasks repository.IPublishTask,
	machine *TaskStateMachine,
	creds credentialResolver,
	adapters adapterRegistry,
	media repository.IMediaSource,
	guard *lock.Guard,
	parked repository.IParkedCallbacks,
	metrics *telemetry.Metrics,
) *Orchestrator {
	return &Orchestrator{
		tasks:    tasks,
		machine:  machine,
		creds:    creds,
		adapters: adapters,
		media:    media,
		guard:    guard,
		parked:   parked,
		metrics:  metrics,
	}
}

// HandleJob returns nil when the job is done, model.ErrLockNotAcquired when another worker holds
// the task, a transient error when the attempt should be retried and a terminal error otherwise.
func (o *Orchestrator) HandleJob(ctx context.Context, job *model.Job) error {
	var p JobPayload
	if err := json.Unmarshal(job.Data, &p); err != nil || p.TaskID == "" {
		return model.ValidationRejected("dispatch", "malformed publish job "+job.ID)
	}
	err := o.guard.WithLock(ctx, publishLockResource, []any{p.TaskID}, func(ctx context.Context) error {
		return o.attempt(ctx, job, p.TaskID)
	})
	if errors.Is(err, model.ErrLockNotAcquired) {
		// Counted by the guard's refusal hook.
		logger.GetLogger().WithField("task_id", p.TaskID).Info("task locked by another worker; handing job back")
	}
	return err
}

func (o *Orchestrator) attempt(ctx context.Context, job *model.Job, id string) error {
	lg := logger.GetLogger().WithField("task_id", id).WithField("job_attempt", job.AttemptsMade+1)

	t, err := o.tasks.GetByID(ctx, id)
	if errors.Is(err, model.ErrTaskNotFound) {
		lg.Info("task gone; dropping job")
		return nil
	}
	if err != nil {
		return model.Transient("dispatch", err)
	}

	switch {
	case t.Status == model.StatusWaitingForPublish:
		// Enqueued by the scheduler before its status write landed.
		if t, err = o.markQueued(ctx, job, t); err != nil {
			return err
		}
	case t.Status == model.StatusPublishing && job.Reclaimed && t.ExternalRef == nil:
		// The worker driving this task died before the platform accepted it.
		lg.Warn("recovering task abandoned mid-publish")
		if t, err = o.machine.Transition(ctx, id, []model.PublishStatus{model.StatusPublishing}, model.StatusQueued, model.TaskPatch{}); err != nil {
			return o.conflictOrTransient(err)
		}
	}
	if t.Status != model.StatusQueued {
		lg.WithField("status", t.Status).Info("task not queued; dropping job")
		return nil
	}

	queued := true
	t, err = o.machine.Transition(ctx, id, []model.PublishStatus{model.StatusQueued}, model.StatusPublishing,
		model.TaskPatch{Queued: &queued, IncrementAttempt: true, ClearExternalRef: true})
	if err != nil {
		return o.conflictOrTransient(err)
	}
	o.metrics.Attempt(ctx, t.Platform)

	attemptCtx := ctx
	if job.Options.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, job.Options.Timeout)
		defer cancel()
	}
	res, driveErr := o.drive(attemptCtx, t)
	return o.settle(context.WithoutCancel(ctx), job, t, res, driveErr)
}

func (o *Orchestrator) markQueued(ctx context.Context, job *model.Job, t *model.PublishTask) (*model.PublishTask, error) {
	inQueue := true
	queueID := job.ID
	next, err := o.machine.Transition(ctx, t.ID, []model.PublishStatus{model.StatusWaitingForPublish}, model.StatusQueued,
		model.TaskPatch{QueueID: &queueID, InQueue: &inQueue})
	if errors.Is(err, model.ErrInvalidTransition) {
		return o.tasks.GetByID(ctx, t.ID)
	}
	if err != nil {
		return nil, model.Transient("dispatch", err)
	}
	return next, nil
}

// conflictOrTransient drops the job when another writer moved the task first.
func (o *Orchestrator) conflictOrTransient(err error) error {
	if errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrTaskNotFound) {
		return nil
	}
	return model.Transient("dispatch", err)
}

func (o *Orchestrator) drive(ctx context.Context, t *model.PublishTask) (*model.PublishResult, error) {
	adapter, err := o.adapters.Get(t.Platform)
	if err != nil {
		return nil, model.ValidationRejected("dispatch", err.Error())
	}
	payload := t.Payload()
	if err := adapter.Validate(payload); err != nil {
		return nil, err
	}
	cred, err := o.creds.Resolve(ctx, t.AccountID, t.Platform)
	if err != nil {
		return nil, err
	}
	return platform.Drive(ctx, adapter, ToAuth(cred, t.AccountUID), payload, o.media)
}

func (o *Orchestrator) settle(ctx context.Context, job *model.Job, t *model.PublishTask, res *model.PublishResult, driveErr error) error {
	lg := logger.GetLogger().WithField("task_id", t.ID).WithField("platform", t.Platform)
	publishing := []model.PublishStatus{model.StatusPublishing}

	if driveErr == nil {
		if res.Pending {
			err := persist(ctx, func() error {
				_, err := o.tasks.SetExternalRef(ctx, t.ID, res.ProviderContentID)
				return err
			})
			if err != nil {
				lg.WithField("content_id", res.ProviderContentID).WithField("error", err).Error("platform accepted the publish but the external key was not stored")
				return nil
			}
			o.drainParked(ctx, t.Platform, t.AccountUID, res.ProviderContentID)
			return nil
		}
		dataID, link := res.ProviderContentID, res.WorkLink
		err := persist(ctx, func() error {
			_, err := o.machine.Transition(ctx, t.ID, publishing, model.StatusReleased, model.TaskPatch{DataID: &dataID, WorkLink: &link})
			return err
		})
		if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
			lg.WithField("content_id", dataID).WithField("error", err).Error("platform published the content but the release was not stored")
		}
		return nil
	}

	if model.IsTransient(driveErr) && !job.LastAttempt() {
		msg := model.UserMessage(driveErr)
		if _, err := o.machine.Transition(ctx, t.ID, publishing, model.StatusQueued, model.TaskPatch{ErrorMessage: &msg}); err != nil {
			lg.WithField("error", err).Error("could not return task to queue")
		}
		lg.WithField("error", driveErr).Warn("publish attempt failed; will retry")
		return driveErr
	}

	if _, err := o.machine.Fail(ctx, t.ID, publishing, driveErr); err != nil {
		lg.WithField("error", err).Error("could not mark task failed")
	}
	lg.WithField("error", driveErr).Error("publish failed")
	return driveErr
}

// Abandon fails the task of a job the queue gave up on.
func (o *Orchestrator) Abandon(ctx context.Context, job *model.Job, cause error) {
	var p JobPayload
	if err := json.Unmarshal(job.Data, &p); err != nil || p.TaskID == "" {
		return
	}
	_, err := o.machine.Fail(ctx, p.TaskID, []model.PublishStatus{model.StatusQueued, model.StatusPublishing}, cause)
	if err != nil && !errors.Is(err, model.ErrInvalidTransition) && !errors.Is(err, model.ErrTaskNotFound) {
		logger.GetLogger().WithField("task_id", p.TaskID).WithField("error", err).Error("could not fail abandoned task")
	}
}

// drainParked applies a callback that arrived before the external key was stored.
func (o *Orchestrator) drainParked(ctx context.Context, platformName, accountUID, contentID string) {
	if o.parked == nil {
		return
	}
	cb, err := o.parked.Take(ctx, platformName, accountUID, contentID)
	if err != nil {
		logger.GetLogger().WithField("content_id", contentID).WithField("error", err).Warn("parked callback lookup failed")
		return
	}
	if cb == nil {
		return
	}
	if _, _, err := o.machine.CompleteByExternalKey(ctx, cb); err != nil {
		logger.GetLogger().WithField("content_id", contentID).WithField("error", err).Error("parked callback not applied")
	}
}

// persist retries a write that follows a successful platform call.
func persist(ctx context.Context, write func() error) error {
	var err error
	for i := 0; i < 3; i++ {
		if err = write(); err == nil || errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrTaskNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
	return err
}

// EncodeJob builds the queue job of a task. The job id is the task id so dispatches collapse.
func EncodeJob(taskID string) *model.Job {
	data, _ := json.Marshal(JobPayload{TaskID: taskID})
	return &model.Job{ID: taskID, Name: PublishJobName, Data: data}
}
