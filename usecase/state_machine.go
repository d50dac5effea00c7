package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/telemetry"
)

// TaskStateMachine is the only writer of publish task status. Every change is a conditional write
// against the task row, and the side effects of Released run only for the write that won.
type TaskStateMachine struct {
	tasks       repository.IPublishTask
	events      repository.ICompletionPublisher
	materials   repository.IMaterial
	broadcaster repository.IStatusBroadcaster
	metrics     *telemetry.Metrics
	now         func() time.Time
}

func NewTaskStateMachine(
	tasks repository.IPublishTask,
	events repository.ICompletionPublisher,
	materials repository.IMaterial,
	broadcaster repository.IStatusBroadcaster,
	metrics *telemetry.Metrics,
) *TaskStateMachine {
	return &TaskStateMachine{
		tasks:       tasks,
		events:      events,
		materials:   materials,
		broadcaster: broadcaster,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new task in WaitingForPublish.
func (m *TaskStateMachine) Create(ctx context.Context, t *model.PublishTask) error {
	t.Status = model.StatusWaitingForPublish
	t.DataID, t.WorkLink, t.ErrorMessage, t.ExternalRef = nil, nil, nil, nil
	if err := m.tasks.Create(ctx, t); err != nil {
		return err
	}
	m.broadcast(t)
	return nil
}

// Transition moves a task from one of from into to. Edges outside the state graph are refused
// before touching storage; a task no longer in any of from yields model.ErrInvalidTransition.
// A patch that does not suit the target status yields model.ErrInvalidPatch.
func (m *TaskStateMachine) Transition(ctx context.Context, id string, from []model.PublishStatus, to model.PublishStatus, patch model.TaskPatch) (*model.PublishTask, error) {
	sources := model.Sources(to, from...)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %v -> %s", model.ErrInvalidTransition, from, to)
	}
	if err := checkReleasePatch(to, patch); err != nil {
		return nil, err
	}
	t, err := m.tasks.Transition(ctx, id, sources, to, patch)
	if err != nil {
		return nil, err
	}
	logger.GetLogger().
		WithField("task_id", id).
		WithField("status", t.Status).
		WithField("attempt", t.AttemptCount).
		Info("publish task transitioned")
	m.afterTransition(ctx, t)
	return t, nil
}

// dataId and workLink are present exactly when the task is Released.
func checkReleasePatch(to model.PublishStatus, patch model.TaskPatch) error {
	hasResult := patch.DataID != nil || patch.WorkLink != nil
	if to == model.StatusReleased {
		if patch.DataID == nil || *patch.DataID == "" || patch.WorkLink == nil || *patch.WorkLink == "" {
			return fmt.Errorf("%w: released requires data id and work link", model.ErrInvalidPatch)
		}
		return nil
	}
	if hasResult {
		return fmt.Errorf("%w: data id and work link are only set on release", model.ErrInvalidPatch)
	}
	return nil
}

// Fail records a terminal error on the task.
func (m *TaskStateMachine) Fail(ctx context.Context, id string, from []model.PublishStatus, cause error) (*model.PublishTask, error) {
	msg := model.UserMessage(cause)
	return m.Transition(ctx, id, from, model.StatusFailed, model.TaskPatch{ErrorMessage: &msg})
}

// CompleteByExternalKey applies a provider callback to the Publishing task holding its content id.
// It reports whether this call moved the task. Repeated callbacks, and callbacks for tasks
// already terminal, are no-ops. model.ErrTaskNotFound means no task carries the key yet. A success
// callback without a work link is rejected as a validation error and changes nothing.
func (m *TaskStateMachine) CompleteByExternalKey(ctx context.Context, cb *model.ProviderCallback) (*model.PublishTask, bool, error) {
	if err := CheckCallback(cb); err != nil {
		return nil, false, err
	}
	t, err := m.tasks.FindByExternalRef(ctx, cb.Platform, cb.AccountUID, cb.ProviderContentID)
	if err != nil {
		return nil, false, err
	}
	if t.Status != model.StatusPublishing {
		return t, false, nil
	}

	var next *model.PublishTask
	if cb.Success {
		dataID, link := cb.ProviderContentID, cb.WorkLink
		next, err = m.Transition(ctx, t.ID, []model.PublishStatus{model.StatusPublishing}, model.StatusReleased,
			model.TaskPatch{DataID: &dataID, WorkLink: &link})
	} else {
		msg := cb.ErrorMessage
		if msg == "" {
			msg = "platform reported the publish failed"
		}
		next, err = m.Transition(ctx, t.ID, []model.PublishStatus{model.StatusPublishing}, model.StatusFailed,
			model.TaskPatch{ErrorMessage: &msg})
	}
	if errors.Is(err, model.ErrInvalidTransition) {
		// Lost the race to another delivery of the same callback.
		current, gerr := m.tasks.GetByID(ctx, t.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// CheckCallback refuses callbacks that could never be applied.
func CheckCallback(cb *model.ProviderCallback) error {
	if cb.ProviderContentID == "" {
		return model.ValidationRejected("callback", "provider content id required")
	}
	if cb.Success && cb.WorkLink == "" {
		return model.ValidationRejected("callback", "success callback without work link")
	}
	return nil
}

func (m *TaskStateMachine) afterTransition(ctx context.Context, t *model.PublishTask) {
	ctx = context.WithoutCancel(ctx)
	switch t.Status {
	case model.StatusReleased:
		m.metrics.Outcome(ctx, t.Platform, string(t.Status))
		m.onReleased(ctx, t)
	case model.StatusFailed:
		m.metrics.Outcome(ctx, t.Platform, string(t.Status))
	}
	m.broadcast(t)
}

// onReleased emits the completion event and applies the material policy. Failures here are
// logged; the release itself already happened.
func (m *TaskStateMachine) onReleased(ctx context.Context, t *model.PublishTask) {
	lg := logger.GetLogger().WithField("task_id", t.ID)
	if m.events != nil {
		evt := model.CompletionEvent{
			TaskID:     t.ID,
			AccountID:  t.AccountID,
			Platform:   t.Platform,
			UserID:     t.UserID,
			ReleasedAt: m.now(),
		}
		if t.DataID != nil {
			evt.DataID = *t.DataID
		}
		if err := m.events.PublishCompletion(ctx, evt); err != nil {
			lg.WithField("error", err).Error("completion event not delivered")
		}
	}
	if m.materials == nil || t.MaterialID == nil {
		return
	}
	var err error
	switch t.MaterialPolicy {
	case model.MaterialPolicyDeleteDraft:
		err = m.materials.DeleteDraft(ctx, *t.MaterialID)
	case model.MaterialPolicyIncrementUse:
		err = m.materials.IncrementUse(ctx, *t.MaterialID)
	}
	if err != nil {
		lg.WithField("material_id", *t.MaterialID).WithField("error", err).Error("material policy not applied")
	}
}

func (m *TaskStateMachine) broadcast(t *model.PublishTask) {
	if m.broadcaster != nil {
		m.broadcaster.BroadcastTaskStatus(t)
	}
}
