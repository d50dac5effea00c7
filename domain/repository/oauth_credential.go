package repository

import (
	"context"

	"social-publisher/domain/model"
)

type IOAuthCredential interface {
	Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error)
	Upsert(ctx context.Context, c *model.OAuth2Credential) error
	// UpdateRefreshed stores a refreshed token pair only if the row still holds previousAccessToken.
	UpdateRefreshed(ctx context.Context, c *model.OAuth2Credential, previousAccessToken string) error
}

// ITokenRefresher exchanges a refresh token for a new token pair at the platform.
type ITokenRefresher interface {
	Refresh(ctx context.Context, c *model.OAuth2Credential) (*model.OAuth2Credential, error)
}
