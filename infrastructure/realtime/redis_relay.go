package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

const DefaultStatusChannel = "publish:status"

type relayedEvent struct {
	TaskStatusEvent
	UserID string `json:"user_id"`
}

// RedisRelay carries status events from worker processes to the API process serving SSE.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultStatusChannel
	}
	return &RedisRelay{client: client, channel: channel}
}

var _ repository.IStatusBroadcaster = (*RedisRelay)(nil)

func (r *RedisRelay) BroadcastTaskStatus(t *model.PublishTask) {
	if t == nil {
		return
	}
	evt := NewTaskStatusEvent(t)
	data, err := json.Marshal(relayedEvent{TaskStatusEvent: evt, UserID: evt.UserID})
	if err != nil {
		return
	}
	if err := r.client.Publish(context.Background(), r.channel, data).Err(); err != nil {
		logger.GetLogger().WithField("error", err).WithField("task_id", t.ID).Warn("status relay publish failed")
	}
}

// Run forwards relayed events into hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt relayedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.GetLogger().WithField("error", err).Warn("dropping malformed status event")
				continue
			}
			evt.TaskStatusEvent.UserID = evt.UserID
			hub.Deliver(evt.TaskStatusEvent)
		}
	}
}
