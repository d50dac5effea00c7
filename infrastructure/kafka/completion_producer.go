package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	kgo "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// CompletionProducer writes completion events to a Kafka topic keyed by task id.
type CompletionProducer struct {
	writer  messageWriter
	timeout time.Duration
}

func NewCompletionProducer(brokersCSV, topic string) *CompletionProducer {
	w := &kgo.Writer{
		Addr:         kgo.TCP(splitCSV(brokersCSV)...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireAll,
	}
	return &CompletionProducer{writer: w, timeout: 5 * time.Second}
}

var _ repository.ICompletionPublisher = (*CompletionProducer)(nil)

func (p *CompletionProducer) PublishCompletion(ctx context.Context, evt model.CompletionEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(evt.TaskID),
		Value: b,
		Time:  evt.ReleasedAt,
		Headers: []kgo.Header{
			{Key: "platform", Value: []byte(evt.Platform)},
		},
	})
}

func (p *CompletionProducer) Close() error {
	return p.writer.Close()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
