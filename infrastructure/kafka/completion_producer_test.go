package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"social-publisher/domain/model"

	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs     []kgo.Message
	deadline bool
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	_, w.deadline = ctx.Deadline()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestCompletionProducer_KeysByTask(t *testing.T) {
	w := &captureWriter{}
	p := &CompletionProducer{writer: w, timeout: time.Second}
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, p.PublishCompletion(context.Background(), model.CompletionEvent{TaskID: "t9", Platform: "facebook", DataID: "v", ReleasedAt: at}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t9", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)
	assert.True(t, w.deadline)

	var evt model.CompletionEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	assert.Equal(t, "v", evt.DataID)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitCSV(" a:9092, ,b:9092"))
}
