package model

import "time"

type PublishStatus string

const (
	StatusWaitingForPublish PublishStatus = "WaitingForPublish"
	StatusQueued            PublishStatus = "Queued"
	StatusPublishing        PublishStatus = "Publishing"
	StatusReleased          PublishStatus = "Released"
	StatusFailed            PublishStatus = "Failed"
)

// MaterialPolicy decides what happens to a generated material once its task is released.
type MaterialPolicy string

const (
	MaterialPolicyNone         MaterialPolicy = ""
	MaterialPolicyDeleteDraft  MaterialPolicy = "delete_draft"
	MaterialPolicyIncrementUse MaterialPolicy = "increment_use"
)

// PublishTask is one (content, target account) publish unit.
type PublishTask struct {
	ID             string         `json:"id"`
	FlowID         *string        `json:"flow_id,omitempty"`
	MaterialID     *string        `json:"material_id,omitempty"`
	MaterialPolicy MaterialPolicy `json:"material_policy,omitempty"`
	UserID         string         `json:"user_id"`

	AccountID  string `json:"account_id"`
	Platform   string `json:"platform"`
	AccountUID string `json:"account_uid"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	Topics      []string `json:"topics"`
	VideoURL    string   `json:"video_url,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`

	PublishTime time.Time     `json:"publish_time"`
	Status      PublishStatus `json:"status"`

	QueueID *string `json:"queue_id,omitempty"`
	InQueue bool    `json:"in_queue"`
	Queued  bool    `json:"queued"`

	DataID       *string `json:"data_id,omitempty"`
	WorkLink     *string `json:"work_link,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ExternalRef  *string `json:"external_ref,omitempty"`
	AttemptCount int     `json:"attempt_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Payload returns the opaque content handed to a platform adapter.
func (t *PublishTask) Payload() PublishPayload {
	return PublishPayload{
		TaskID:      t.ID,
		AccountUID:  t.AccountUID,
		Title:       t.Title,
		Description: t.Description,
		Topics:      t.Topics,
		VideoURL:    t.VideoURL,
		CoverURL:    t.CoverURL,
		ImageURLs:   t.ImageURLs,
	}
}

// TaskPatch carries the optional fields applied together with a status transition.
// Nil pointers leave the column untouched except where the target status clears it.
type TaskPatch struct {
	DataID       *string
	WorkLink     *string
	ErrorMessage *string
	ExternalRef  *string
	QueueID      *string
	InQueue      *bool
	Queued       *bool
	// IncrementAttempt bumps attempt_count in the same write.
	IncrementAttempt bool
	// ClearExternalRef drops the content id of a previous attempt. It wins over ExternalRef.
	ClearExternalRef bool
}

var transitions = map[PublishStatus][]PublishStatus{
	StatusWaitingForPublish: {StatusQueued, StatusFailed},
	StatusQueued:            {StatusPublishing, StatusFailed},
	StatusPublishing:        {StatusReleased, StatusFailed, StatusQueued},
	StatusFailed:            {StatusQueued},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to PublishStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Sources returns the subset of from whose edge into to is allowed.
func Sources(to PublishStatus, from ...PublishStatus) []PublishStatus {
	out := make([]PublishStatus, 0, len(from))
	for _, f := range from {
		if CanTransition(f, to) {
			out = append(out, f)
		}
	}
	return out
}

func (s PublishStatus) Valid() bool {
	switch s {
	case StatusWaitingForPublish, StatusQueued, StatusPublishing, StatusReleased, StatusFailed:
		return true
	}
	return false
}

func (s PublishStatus) Terminal() bool {
	return s == StatusReleased || s == StatusFailed
}

// CompletionEvent is emitted exactly once per Released transition.
type CompletionEvent struct {
	TaskID     string    `json:"task_id"`
	AccountID  string    `json:"account_id"`
	Platform   string    `json:"platform"`
	DataID     string    `json:"data_id"`
	UserID     string    `json:"user_id,omitempty"`
	ReleasedAt time.Time `json:"released_at"`
}

// ProviderCallback is a platform's asynchronous completion notice.
type ProviderCallback struct {
	Platform          string    `json:"platform"`
	AccountUID        string    `json:"account_uid"`
	ProviderContentID string    `json:"provider_content_id"`
	Success           bool      `json:"success"`
	WorkLink          string    `json:"work_link,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	Raw               []byte    `json:"raw,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}
