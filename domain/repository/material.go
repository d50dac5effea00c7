package repository

import "context"

// IMaterial is the media/material collaborator touched when a task tied to a generated material completes.
type IMaterial interface {
	DeleteDraft(ctx context.Context, materialID string) error
	IncrementUse(ctx context.Context, materialID string) error
}
