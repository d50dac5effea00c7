package repository

import (
	"context"
	"io"

	"social-publisher/domain/model"
)

// IPlatformAdapter drives one platform through the four publish stages. Every stage returns
// either a typed success or a *model.PublishError.
type IPlatformAdapter interface {
	Platform() string
	Strategy() model.UploadStrategy
	Validate(payload model.PublishPayload) error
	InitUpload(ctx context.Context, cred model.AuthCredential, payload model.PublishPayload) (*model.UploadHandle, error)
	UploadParts(ctx context.Context, cred model.AuthCredential, handle *model.UploadHandle, src IMediaSource) ([]model.PartResult, error)
	CompleteUpload(ctx context.Context, cred model.AuthCredential, handle *model.UploadHandle, partCount int) (string, error)
	Publish(ctx context.Context, cred model.AuthCredential, providerMediaID string, payload model.PublishPayload) (*model.PublishResult, error)
}

// IMediaSource streams media bytes. Size is -1 when unknown.
type IMediaSource interface {
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
}
