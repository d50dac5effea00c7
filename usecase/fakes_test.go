package usecase

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// memTasks mirrors the conditional-write semantics of the SQL repositories.
type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*model.PublishTask
}

func newMemTasks() *memTasks { return &memTasks{tasks: map[string]*model.PublishTask{}} }

var _ repository.IPublishTask = (*memTasks)(nil)

func clone(t *model.PublishTask) *model.PublishTask {
	c := *t
	return &c
}

func (m *memTasks) Create(_ context.Context, t *model.PublishTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m.tasks[t.ID] = clone(t)
	return nil
}

func (m *memTasks) GetByID(_ context.Context, id string) (*model.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return clone(t), nil
}

func (m *memTasks) Transition(_ context.Context, id string, from []model.PublishStatus, to model.PublishStatus, p model.TaskPatch) (*model.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	match := false
	for _, f := range from {
		if t.Status == f {
			match = true
		}
	}
	if !match {
		return nil, model.ErrInvalidTransition
	}
	t.Status = to
	set := func(dst **string, v *string) {
		if v != nil {
			s := *v
			*dst = &s
		}
	}
	set(&t.DataID, p.DataID)
	set(&t.WorkLink, p.WorkLink)
	set(&t.ErrorMessage, p.ErrorMessage)
	set(&t.ExternalRef, p.ExternalRef)
	set(&t.QueueID, p.QueueID)
	if p.ClearExternalRef {
		t.ExternalRef = nil
	}
	if to == model.StatusReleased {
		t.ErrorMessage = nil
	}
	if p.InQueue != nil {
		t.InQueue = *p.InQueue
	}
	if p.Queued != nil {
		t.Queued = *p.Queued
	}
	if p.IncrementAttempt {
		t.AttemptCount++
	}
	t.UpdatedAt = time.Now().UTC()
	return clone(t), nil
}

func (m *memTasks) SetExternalRef(_ context.Context, id, ref string) (*model.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	if t.Status != model.StatusPublishing {
		return nil, model.ErrInvalidTransition
	}
	t.ExternalRef = &ref
	return clone(t), nil
}

func (m *memTasks) FindByExternalRef(_ context.Context, platform, uid, ref string) (*model.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Platform != platform || t.AccountUID != uid {
			continue
		}
		if (t.ExternalRef != nil && *t.ExternalRef == ref) || (t.DataID != nil && *t.DataID == ref) {
			return clone(t), nil
		}
	}
	return nil, model.ErrTaskNotFound
}

func (m *memTasks) DeleteWaiting(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.ErrTaskNotFound
	}
	if t.UserID != userID || t.Status != model.StatusWaitingForPublish {
		return model.ErrDeleteRefused
	}
	delete(m.tasks, id)
	return nil
}

func (m *memTasks) ListByFlow(_ context.Context, flowID, userID string) ([]*model.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PublishTask
	for _, t := range m.tasks {
		if t.FlowID != nil && *t.FlowID == flowID && t.UserID == userID {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTasks) ListDue(_ context.Context, now time.Time, limit int) ([]*model.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PublishTask
	for _, t := range m.tasks {
		if t.Status == model.StatusWaitingForPublish && !t.PublishTime.After(now) {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishTime.Before(out[j].PublishTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTasks) put(t *model.PublishTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = clone(t)
}

// memCreds applies refreshed tokens only over the access token they were refreshed from.
type memCreds struct {
	mu    sync.Mutex
	creds map[string]*model.OAuth2Credential
}

func newMemCreds(cs ...*model.OAuth2Credential) *memCreds {
	m := &memCreds{creds: map[string]*model.OAuth2Credential{}}
	for _, c := range cs {
		cp := *c
		m.creds[c.AccountID+"|"+c.Platform] = &cp
	}
	return m
}

func (m *memCreds) Get(_ context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[accountID+"|"+platform]
	if !ok {
		return nil, model.ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCreds) Upsert(_ context.Context, c *model.OAuth2Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.creds[c.AccountID+"|"+c.Platform] = &cp
	return nil
}

func (m *memCreds) UpdateRefreshed(_ context.Context, c *model.OAuth2Credential, prev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.creds[c.AccountID+"|"+c.Platform]
	if !ok || cur.AccessToken != prev {
		return model.ErrCredentialConflict
	}
	cp := *c
	m.creds[c.AccountID+"|"+c.Platform] = &cp
	return nil
}

type countingRefresher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context, c *model.OAuth2Credential) (*model.OAuth2Credential, error) {
	n := r.calls.Add(1)
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	out := *c
	out.AccessToken = c.AccessToken + "-r" + string(rune('0'+n))
	exp := time.Now().Add(time.Hour)
	out.AccessTokenExpiresAt = &exp
	return &out, nil
}

// scriptedAdapter returns queued stage errors in order and records concurrency.
type scriptedAdapter struct {
	name     string
	strategy model.UploadStrategy
	pending  bool
	hold     time.Duration

	mu          sync.Mutex
	publishErrs []error
	calls       int
	inFlight    int
	maxInFlight int
	validateErr error
}

var _ repository.IPlatformAdapter = (*scriptedAdapter)(nil)

func (a *scriptedAdapter) Platform() string { return a.name }
func (a *scriptedAdapter) Strategy() model.UploadStrategy { return a.strategy }

func (a *scriptedAdapter) Validate(model.PublishPayload) error { return a.validateErr }

func (a *scriptedAdapter) enter() {
	a.mu.Lock()
	a.calls++
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	a.mu.Unlock()
}

func (a *scriptedAdapter) leave() {
	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()
}

// InitUpload holds for a.hold or until ctx ends, like a slow platform call.
func (a *scriptedAdapter) InitUpload(ctx context.Context, _ model.AuthCredential, _ model.PublishPayload) (*model.UploadHandle, error) {
	a.enter()
	defer a.leave()
	select {
	case <-time.After(a.hold):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &model.UploadHandle{UploadID: "up"}, nil
}

func (a *scriptedAdapter) UploadParts(context.Context, model.AuthCredential, *model.UploadHandle, repository.IMediaSource) ([]model.PartResult, error) {
	return []model.PartResult{{Index: 1}}, nil
}

func (a *scriptedAdapter) CompleteUpload(context.Context, model.AuthCredential, *model.UploadHandle, int) (string, error) {
	return "media-1", nil
}

func (a *scriptedAdapter) Publish(_ context.Context, cred model.AuthCredential, mediaID string, p model.PublishPayload) (*model.PublishResult, error) {
	a.mu.Lock()
	var err error
	if len(a.publishErrs) > 0 {
		err, a.publishErrs = a.publishErrs[0], a.publishErrs[1:]
	}
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	id := "content-" + p.TaskID
	res := &model.PublishResult{ProviderContentID: id, Pending: a.pending}
	if !a.pending {
		res.WorkLink = "https://" + a.name + ".example/" + id
	}
	return res, nil
}

func (a *scriptedAdapter) networkCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type nopMedia struct{}

func (nopMedia) Open(context.Context, string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader("x")), 1, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []model.CompletionEvent
}

func (r *recordedEvents) PublishCompletion(_ context.Context, evt model.CompletionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordedEvents) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordedMaterials struct {
	deleted     []string
	incremented []string
}

func (r *recordedMaterials) DeleteDraft(_ context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *recordedMaterials) IncrementUse(_ context.Context, id string) error {
	r.incremented = append(r.incremented, id)
	return nil
}
