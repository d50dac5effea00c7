package events

import (
	"context"
	"errors"
	"fmt"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/telemetry"
)

// Named pairs a publisher with the transport name used in logs and metrics.
type Named struct {
	Name      string
	Publisher repository.ICompletionPublisher
}

// Fanout delivers each completion event to every configured transport. One transport failing
// does not stop delivery to the others.
type Fanout struct {
	targets []Named
	metrics *telemetry.Metrics
}

func NewFanout(metrics *telemetry.Metrics, targets ...Named) *Fanout {
	return &Fanout{targets: targets, metrics: metrics}
}

var _ repository.ICompletionPublisher = (*Fanout)(nil)

func (f *Fanout) PublishCompletion(ctx context.Context, evt model.CompletionEvent) error {
	if len(f.targets) == 0 {
		logger.GetLogger().WithField("task_id", evt.TaskID).Debug("no completion transports configured")
		return nil
	}
	var errs []error
	for _, t := range f.targets {
		if err := t.Publisher.PublishCompletion(ctx, evt); err != nil {
			f.metrics.EventFailure(ctx, t.Name)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Len() int { return len(f.targets) }
