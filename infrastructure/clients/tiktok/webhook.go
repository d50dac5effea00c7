package tiktok

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
)

const (
	eventPublished = "video.publish.completed"
	eventFailed    = "video.publish.failed"
)

// webhookEvent is the body TikTok posts when a created item finishes review. Content is a JSON
// document encoded as a string.
type webhookEvent struct {
	Event      string `json:"event"`
	UserOpenID string `json:"user_openid"`
	CreateTime int64  `json:"create_time"`
	Content    string `json:"content"`
}

type webhookContent struct {
	ItemID   string `json:"item_id"`
	ShareURL string `json:"share_url"`
	Reason   string `json:"reason"`
}

// ParseCallback turns a webhook body into a provider callback. Events other than publish
// completion or failure return a nil callback.
func ParseCallback(raw []byte) (*model.ProviderCallback, error) {
	var evt webhookEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("tiktok webhook: %w", err)
	}
	if evt.Event != eventPublished && evt.Event != eventFailed {
		return nil, nil
	}
	var content webhookContent
	if err := json.Unmarshal([]byte(evt.Content), &content); err != nil {
		return nil, fmt.Errorf("tiktok webhook content: %w", err)
	}
	if content.ItemID == "" || evt.UserOpenID == "" {
		return nil, errors.New("tiktok webhook: item id and open id required")
	}
	cb := &model.ProviderCallback{
		Platform:          Platform,
		AccountUID:        evt.UserOpenID,
		ProviderContentID: content.ItemID,
		Success:           evt.Event == eventPublished,
		WorkLink:          content.ShareURL,
		ErrorMessage:      content.Reason,
		Raw:               raw,
	}
	if cb.Success && cb.WorkLink == "" {
		cb.WorkLink = WorkLink(evt.UserOpenID, content.ItemID)
	}
	if evt.CreateTime > 0 {
		cb.ReceivedAt = time.Unix(evt.CreateTime, 0).UTC()
	}
	return cb, nil
}

func WorkLink(openID, itemID string) string {
	return fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", openID, itemID)
}
