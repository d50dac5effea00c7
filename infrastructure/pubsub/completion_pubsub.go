package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"cloud.google.com/go/pubsub"
	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

// CompletionPubSub publishes completion events to a Google Cloud Pub/Sub topic.
type CompletionPubSub struct {
	PubSubClient *pubsub.Client
	topicName    string

	mu    sync.Mutex
	topic *pubsub.Topic
}

func NewCompletionPubSub(pubSubClient *pubsub.Client, topicName string) *CompletionPubSub {
	return &CompletionPubSub{PubSubClient: pubSubClient, topicName: topicName}
}

var _ repository.ICompletionPublisher = (*CompletionPubSub)(nil)

func (p *CompletionPubSub) PublishCompletion(ctx context.Context, evt model.CompletionEvent) error {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"task_id":  evt.TaskID,
			"platform": evt.Platform,
		},
	}
	serverID, err := topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server ID", serverID).WithField("task_id", evt.TaskID).Info("Completion event published")
	return nil
}

// ensureTopic creates the topic on first use if it does not exist yet.
func (p *CompletionPubSub) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	topic := p.PubSubClient.Topic(p.topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", p.topicName).Info("Topic doesn't exist - creating it")
		if topic, err = p.PubSubClient.CreateTopic(ctx, p.topicName); err != nil {
			return nil, err
		}
	}
	p.topic = topic
	return topic, nil
}

// Close flushes buffered messages.
func (p *CompletionPubSub) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
	}
}
