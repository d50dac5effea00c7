package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

const (
	StageInit     = "init_upload"
	StageParts    = "upload_parts"
	StageComplete = "complete_upload"
	StagePublish  = "publish"
)

// Registry resolves the adapter of a platform.
type Registry struct {
	adapters map[string]repository.IPlatformAdapter
}

func NewRegistry(adapters ...repository.IPlatformAdapter) *Registry {
	r := &Registry{adapters: make(map[string]repository.IPlatformAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Platform())] = a
	}
	return r
}

func (r *Registry) Get(platform string) (repository.IPlatformAdapter, error) {
	a, ok := r.adapters[strings.ToLower(platform)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedPlatform, platform)
	}
	return a, nil
}

func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	return out
}

// Drive runs the four publish stages of adapter. The upload strategy decides whether the part
// stage runs; every failure comes back as a *model.PublishError.
func Drive(ctx context.Context, adapter repository.IPlatformAdapter, cred model.AuthCredential, payload model.PublishPayload, src repository.IMediaSource) (*model.PublishResult, error) {
	log := logger.GetLogger().WithField("platform", adapter.Platform()).WithField("task_id", payload.TaskID)
	strategy := adapter.Strategy()

	handle, err := adapter.InitUpload(ctx, cred, payload)
	if err != nil {
		return nil, typed(StageInit, err)
	}

	partCount := 0
	if strategy.Mode != model.UploadSingleShot {
		parts, err := adapter.UploadParts(ctx, cred, handle, src)
		if err != nil {
			return nil, typed(StageParts, err)
		}
		partCount = len(parts)
		log.WithField("parts", partCount).Debug("media parts uploaded")
	}

	mediaID, err := adapter.CompleteUpload(ctx, cred, handle, partCount)
	if err != nil {
		return nil, typed(StageComplete, err)
	}

	res, err := adapter.Publish(ctx, cred, mediaID, payload)
	if err != nil {
		return nil, typed(StagePublish, err)
	}
	if res.ProviderContentID == "" {
		return nil, model.Transient(StagePublish, errors.New("platform returned no content id"))
	}
	log.WithField("content_id", res.ProviderContentID).WithField("pending", res.Pending).Info("publish accepted by platform")
	return res, nil
}

// typed makes sure an adapter failure carries a kind. Untyped errors are treated as transient.
func typed(stage string, err error) error {
	var pe *model.PublishError
	if errors.As(err, &pe) {
		return err
	}
	return ClassifyTransport(stage, err)
}
