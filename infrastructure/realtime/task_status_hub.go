package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// TaskStatusEvent is the SSE payload for a publish task status change.
type TaskStatusEvent struct {
	Type         string  `json:"type"`
	UserID       string  `json:"-"`
	TaskID       string  `json:"task_id"`
	FlowID       *string `json:"flow_id,omitempty"`
	Platform     string  `json:"platform"`
	AccountID    string  `json:"account_id"`
	Status       string  `json:"status"`
	WorkLink     *string `json:"work_link,omitempty"`
	ErrorMessage *string `json:"error,omitempty"`
}

func NewTaskStatusEvent(t *model.PublishTask) TaskStatusEvent {
	return TaskStatusEvent{
		Type:         "task_status",
		UserID:       t.UserID,
		TaskID:       t.ID,
		FlowID:       t.FlowID,
		Platform:     t.Platform,
		AccountID:    t.AccountID,
		Status:       string(t.Status),
		WorkLink:     t.WorkLink,
		ErrorMessage: t.ErrorMessage,
	}
}

// Hub maintains per-user subscribers listening for task status events.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[chan TaskStatusEvent]struct{}
}

func NewTaskStatusHub() *Hub {
	return &Hub{users: make(map[string]map[chan TaskStatusEvent]struct{})}
}

var _ repository.IStatusBroadcaster = (*Hub)(nil)

// Serve registers an SSE stream for the authenticated user (user_id set by middleware).
func (h *Hub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := make(chan TaskStatusEvent, 8)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(userID, ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			_, _ = c.Writer.Write([]byte("event: task_status\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Hub) addSubscriber(userID string, ch chan TaskStatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan TaskStatusEvent]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *Hub) removeSubscriber(userID string, ch chan TaskStatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// BroadcastTaskStatus sends to all subscribers of the task owner.
func (h *Hub) BroadcastTaskStatus(t *model.PublishTask) {
	if t == nil {
		return
	}
	h.Deliver(NewTaskStatusEvent(t))
}

// Deliver pushes evt to its user's subscribers without blocking; slow readers miss events.
func (h *Hub) Deliver(evt TaskStatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.users[evt.UserID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
