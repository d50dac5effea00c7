package servicebus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

// NewClient connects to a Service Bus namespace with the default Azure credential chain,
// or with a connection string when one is given.
func NewClient(namespace, connectionString string) (*azservicebus.Client, error) {
	if connectionString != "" {
		return azservicebus.NewClientFromConnectionString(connectionString, nil)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return azservicebus.NewClient(namespace, cred, nil)
}

type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// CompletionServiceBus sends completion events to a Service Bus queue or topic.
type CompletionServiceBus struct {
	AzservicebusClient *azservicebus.Client
	entity             string

	mu     sync.Mutex
	sender messageSender
}

func NewCompletionServiceBus(azServiceBusClient *azservicebus.Client, entity string) *CompletionServiceBus {
	return &CompletionServiceBus{AzservicebusClient: azServiceBusClient, entity: entity}
}

var _ repository.ICompletionPublisher = (*CompletionServiceBus)(nil)

func (s *CompletionServiceBus) PublishCompletion(ctx context.Context, evt model.CompletionEvent) error {
	sender, err := s.getSender()
	if err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while making new sender service bus.")
		return err
	}
	msg, err := completionMessage(evt)
	if err != nil {
		return err
	}
	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending message.")
		return err
	}
	return nil
}

func (s *CompletionServiceBus) getSender() (messageSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender != nil {
		return s.sender, nil
	}
	sender, err := s.AzservicebusClient.NewSender(s.entity, nil)
	if err != nil {
		return nil, err
	}
	s.sender = sender
	return sender, nil
}

func (s *CompletionServiceBus) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender == nil {
		return
	}
	if err := s.sender.Close(ctx); err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while closing sender.")
	}
	s.sender = nil
}

// completionMessage keys the message by task id so broker-side duplicate detection can drop resends.
func completionMessage(evt model.CompletionEvent) (*azservicebus.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	contentType := "application/json"
	messageID := evt.TaskID
	subject := "publish.completed"
	return &azservicebus.Message{
		Body:        body,
		ContentType: &contentType,
		MessageID:   &messageID,
		Subject:     &subject,
		ApplicationProperties: map[string]any{
			"platform":   evt.Platform,
			"account_id": evt.AccountID,
		},
	}, nil
}
