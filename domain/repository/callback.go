package repository

import (
	"context"

	"social-publisher/domain/model"
)

type ICallbackAudit interface {
	Record(ctx context.Context, cb *model.ProviderCallback, outcome string) error
}

// IParkedCallbacks holds provider callbacks that arrived before their task recorded the external key.
type IParkedCallbacks interface {
	Park(ctx context.Context, cb *model.ProviderCallback) error
	Take(ctx context.Context, platform, accountUID, providerContentID string) (*model.ProviderCallback, error)
	Discard(ctx context.Context, platform, accountUID, providerContentID string) error
}
