package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/telemetry"

	"github.com/google/uuid"
)

// PublishTarget is one connected account a content is published to.
type PublishTarget struct {
	AccountID  string `json:"account_id" binding:"required"`
	Platform   string `json:"platform" binding:"required"`
	AccountUID string `json:"account_uid" binding:"required"`
}

type CreatePublishRequest struct {
	FlowID         *string              `json:"flow_id"`
	MaterialID     *string              `json:"material_id"`
	MaterialPolicy model.MaterialPolicy `json:"material_policy"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	Topics         []string             `json:"topics"`
	VideoURL       string               `json:"video_url"`
	CoverURL       string               `json:"cover_url"`
	ImageURLs      []string             `json:"image_urls"`
	PublishTime    *time.Time           `json:"publish_time"`
	Targets        []PublishTarget      `json:"targets" binding:"required,min=1,dive"`
}

// ErrBadRequest wraps request problems found before any task is stored.
var ErrBadRequest = errors.New("invalid publish request")

type IPublishUsecase interface {
	Create(ctx context.Context, userID string, req CreatePublishRequest) ([]*model.PublishTask, error)
	Get(ctx context.Context, userID, id string) (*model.PublishTask, error)
	Delete(ctx context.Context, userID, id string) error
	ListFlow(ctx context.Context, userID, flowID string) ([]*model.PublishTask, error)
	Retry(ctx context.Context, userID, id string) (*model.PublishTask, error)
	OnProviderCallback(ctx context.Context, cb *model.ProviderCallback) (string, error)
}

type publishUsecase struct {
	tasks     repository.IPublishTask
	machine   *TaskStateMachine
	scheduler *Scheduler
	adapters  adapterRegistry
	parked    repository.IParkedCallbacks
	audit     repository.ICallbackAudit
	metrics   *telemetry.Metrics
	now       func() time.Time
}

func NewPublishUsecase(
	tasks repository.IPublishTask,
	machine *TaskStateMachine,
	scheduler *Scheduler,
	adapters adapterRegistry,
	parked repository.IParkedCallbacks,
	audit repository.ICallbackAudit,
	metrics *telemetry.Metrics,
) IPublishUsecase {
	return &publishUsecase{
		tasks:     tasks,
		machine:   machine,
		scheduler: scheduler,
		adapters:  adapters,
		parked:    parked,
		audit:     audit,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores one task per target. Request problems reject the whole batch before anything is
// written. A payload the platform would refuse is stored and failed at once; tasks due now are
// dispatched right away.
func (u *publishUsecase) Create(ctx context.Context, userID string, req CreatePublishRequest) ([]*model.PublishTask, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user required", ErrBadRequest)
	}
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target account required", ErrBadRequest)
	}
	switch req.MaterialPolicy {
	case model.MaterialPolicyNone, model.MaterialPolicyDeleteDraft, model.MaterialPolicyIncrementUse:
	default:
		return nil, fmt.Errorf("%w: unknown material policy %q", ErrBadRequest, req.MaterialPolicy)
	}
	if req.MaterialPolicy != model.MaterialPolicyNone && req.MaterialID == nil {
		return nil, fmt.Errorf("%w: material policy needs a material id", ErrBadRequest)
	}

	now := u.now()
	publishTime := now
	if req.PublishTime != nil && !req.PublishTime.IsZero() {
		publishTime = req.PublishTime.UTC()
	}
	flowID := req.FlowID
	if flowID == nil && len(req.Targets) > 1 {
		id := uuid.NewString()
		flowID = &id
	}

	tasks := make([]*model.PublishTask, 0, len(req.Targets))
	rejected := make([]error, 0, len(req.Targets))
	seen := map[string]bool{}
	for _, target := range req.Targets {
		name := strings.ToLower(target.Platform)
		key := name + "|" + target.AccountID
		if seen[key] {
			return nil, fmt.Errorf("%w: account %s listed twice for %s", ErrBadRequest, target.AccountID, name)
		}
		seen[key] = true

		t := &model.PublishTask{
			ID:             uuid.NewString(),
			FlowID:         flowID,
			MaterialID:     req.MaterialID,
			MaterialPolicy: req.MaterialPolicy,
			UserID:         userID,
			AccountID:      target.AccountID,
			Platform:       name,
			AccountUID:     target.AccountUID,
			Title:          req.Title,
			Description:    req.Description,
			Topics:         req.Topics,
			VideoURL:       req.VideoURL,
			CoverURL:       req.CoverURL,
			ImageURLs:      req.ImageURLs,
			PublishTime:    publishTime,
		}
		adapter, err := u.adapters.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		tasks = append(tasks, t)
		rejected = append(rejected, adapter.Validate(t.Payload()))
	}

	for _, t := range tasks {
		if err := u.machine.Create(ctx, t); err != nil {
			return nil, err
		}
	}
	for i, t := range tasks {
		if rejected[i] != nil {
			// Platform rules rejected the payload: the task is kept so the user sees why.
			if failed, err := u.machine.Fail(ctx, t.ID, []model.PublishStatus{model.StatusWaitingForPublish}, rejected[i]); err == nil {
				*t = *failed
			}
			continue
		}
		if t.PublishTime.After(now) {
			continue
		}
		if err := u.scheduler.Dispatch(ctx, t); err != nil {
			// The scheduler picks it up on its next pass.
			logger.GetLogger().WithField("task_id", t.ID).WithField("error", err).Warn("immediate dispatch failed")
			continue
		}
		if fresh, err := u.tasks.GetByID(ctx, t.ID); err == nil {
			*t = *fresh
		}
	}
	return tasks, nil
}

func (u *publishUsecase) Get(ctx context.Context, userID, id string) (*model.PublishTask, error) {
	t, err := u.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, model.ErrTaskNotFound
	}
	return t, nil
}

func (u *publishUsecase) Delete(ctx context.Context, userID, id string) error {
	return u.tasks.DeleteWaiting(ctx, id, userID)
}

func (u *publishUsecase) ListFlow(ctx context.Context, userID, flowID string) ([]*model.PublishTask, error) {
	return u.tasks.ListByFlow(ctx, flowID, userID)
}

func (u *publishUsecase) Retry(ctx context.Context, userID, id string) (*model.PublishTask, error) {
	t, err := u.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.StatusFailed {
		return nil, fmt.Errorf("%w: only failed tasks can be retried", model.ErrInvalidTransition)
	}
	return u.scheduler.Requeue(ctx, t)
}

// Callback outcomes recorded in the audit trail.
const (
	CallbackApplied   = "applied"
	CallbackDuplicate = "duplicate"
	CallbackParked    = "parked"
)

// OnProviderCallback applies a platform completion notice. The notice is parked before the task
// lookup, so a callback racing the worker that stores the external key is never lost: whichever
// side comes second applies it.
func (u *publishUsecase) OnProviderCallback(ctx context.Context, cb *model.ProviderCallback) (string, error) {
	lg := logger.GetLogger().WithField("platform", cb.Platform).WithField("content_id", cb.ProviderContentID)
	if err := CheckCallback(cb); err != nil {
		lg.WithField("error", err).Warn("provider callback rejected")
		return "", err
	}
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = u.now()
	}
	if u.parked != nil {
		if err := u.parked.Park(ctx, cb); err != nil {
			lg.WithField("error", err).Warn("could not park callback")
		}
	}

	outcome := CallbackDuplicate
	_, applied, err := u.machine.CompleteByExternalKey(ctx, cb)
	switch {
	case errors.Is(err, model.ErrTaskNotFound):
		outcome = CallbackParked
		err = nil
	case err != nil:
		return "", err
	case applied:
		outcome = CallbackApplied
	}
	if outcome != CallbackParked && u.parked != nil {
		if derr := u.parked.Discard(ctx, cb.Platform, cb.AccountUID, cb.ProviderContentID); derr != nil {
			lg.WithField("error", derr).Warn("could not discard parked callback")
		}
	}
	if u.audit != nil {
		if aerr := u.audit.Record(ctx, cb, outcome); aerr != nil {
			lg.WithField("error", aerr).Warn("callback audit failed")
		}
	}
	u.metrics.Callback(ctx, cb.Platform, outcome)
	lg.WithField("outcome", outcome).Info("provider callback handled")
	return outcome, err
}
