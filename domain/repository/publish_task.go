package repository

import (
	"context"
	"time"

	"social-publisher/domain/model"
)

// IPublishTask persists publish tasks. Every status change goes through Transition, a single
// conditional write gated on the current status.
type IPublishTask interface {
	Create(ctx context.Context, t *model.PublishTask) error
	GetByID(ctx context.Context, id string) (*model.PublishTask, error)
	// Transition applies to+patch only when the stored status is in from. It returns
	// model.ErrInvalidTransition when the precondition does not hold.
	Transition(ctx context.Context, id string, from []model.PublishStatus, to model.PublishStatus, patch model.TaskPatch) (*model.PublishTask, error)
	// SetExternalRef records the provider content id of a pending publish. Only Publishing tasks qualify.
	SetExternalRef(ctx context.Context, id, externalRef string) (*model.PublishTask, error)
	FindByExternalRef(ctx context.Context, platform, accountUID, externalRef string) (*model.PublishTask, error)
	// DeleteWaiting removes a task owned by userID that is still WaitingForPublish.
	DeleteWaiting(ctx context.Context, id, userID string) error
	ListByFlow(ctx context.Context, flowID, userID string) ([]*model.PublishTask, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PublishTask, error)
}
