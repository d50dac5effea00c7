package repository

import (
	"context"

	"social-publisher/domain/model"
)

// ICompletionPublisher delivers completion events to the reward and notification collaborators.
type ICompletionPublisher interface {
	PublishCompletion(ctx context.Context, evt model.CompletionEvent) error
}

type IStatusBroadcaster interface {
	BroadcastTaskStatus(t *model.PublishTask)
}
