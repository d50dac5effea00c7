package usecase

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"social-publisher/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []model.PublishStatus{
	model.StatusWaitingForPublish,
	model.StatusQueued,
	model.StatusPublishing,
	model.StatusReleased,
	model.StatusFailed,
}

func strPtr(s string) *string { return &s }

func TestTransition_RandomWalkKeepsTaskConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for walk := 0; walk < 200; walk++ {
		tasks := newMemTasks()
		events := &recordedEvents{}
		m := NewTaskStateMachine(tasks, events, nil, nil, nil)
		require.NoError(t, m.Create(ctx, &model.PublishTask{ID: "t", Platform: "tiktok"}))

		for step := 0; step < 12; step++ {
			before, _ := tasks.GetByID(ctx, "t")
			from := []model.PublishStatus{allStatuses[rng.Intn(len(allStatuses))]}
			to := allStatuses[rng.Intn(len(allStatuses))]
			patch := model.TaskPatch{}
			if to == model.StatusReleased || rng.Intn(4) == 0 {
				patch.DataID, patch.WorkLink = strPtr("d"), strPtr("l")
			}

			after, err := m.Transition(ctx, "t", from, to, patch)
			allowed := from[0] == before.Status && model.CanTransition(from[0], to) &&
				(to == model.StatusReleased) == (patch.DataID != nil)
			if allowed {
				require.NoError(t, err, "%s -> %s", before.Status, to)
				assert.Equal(t, to, after.Status)
			} else {
				require.Error(t, err, "%s (claimed %s) -> %s", before.Status, from[0], to)
				assert.True(t, errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrInvalidPatch), err.Error())
			}

			cur, _ := tasks.GetByID(ctx, "t")
			assert.True(t, cur.Status.Valid())
			released := cur.Status == model.StatusReleased
			assert.Equal(t, released, cur.DataID != nil, "data id iff released")
			assert.Equal(t, released, cur.WorkLink != nil, "work link iff released")
			if before.Status == model.StatusReleased {
				assert.Equal(t, model.StatusReleased, cur.Status, "released is final")
			}
		}
		cur, _ := tasks.GetByID(ctx, "t")
		if cur.Status == model.StatusReleased {
			assert.Equal(t, 1, events.count(), "one completion event per release")
		} else {
			assert.Zero(t, events.count())
		}
	}
}

func TestTransition_StaleWriterIsRejected(t *testing.T) {
	ctx := context.Background()
	tasks := newMemTasks()
	m := NewTaskStateMachine(tasks, nil, nil, nil, nil)
	tasks.put(&model.PublishTask{ID: "t", Status: model.StatusPublishing})

	_, err := m.Transition(ctx, "t", []model.PublishStatus{model.StatusPublishing}, model.StatusReleased,
		model.TaskPatch{DataID: strPtr("d1"), WorkLink: strPtr("l1")})
	require.NoError(t, err)

	_, err = m.Transition(ctx, "t", []model.PublishStatus{model.StatusPublishing}, model.StatusFailed,
		model.TaskPatch{ErrorMessage: strPtr("late failure")})
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	cur, _ := tasks.GetByID(ctx, "t")
	assert.Equal(t, model.StatusReleased, cur.Status)
	assert.Nil(t, cur.ErrorMessage)
}

func TestTransition_UnknownTask(t *testing.T) {
	m := NewTaskStateMachine(newMemTasks(), nil, nil, nil, nil)
	_, err := m.Transition(context.Background(), "missing", []model.PublishStatus{model.StatusQueued}, model.StatusPublishing, model.TaskPatch{})
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
}

func TestRelease_EmitsEventAndAppliesMaterialPolicy(t *testing.T) {
	ctx := context.Background()
	tasks := newMemTasks()
	events := &recordedEvents{}
	materials := &recordedMaterials{}
	m := NewTaskStateMachine(tasks, events, materials, nil, nil)
	m.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	tasks.put(&model.PublishTask{ID: "a", UserID: "u", AccountID: "acc", Platform: "youtube", Status: model.StatusPublishing,
		MaterialID: strPtr("mat-1"), MaterialPolicy: model.MaterialPolicyDeleteDraft})
	tasks.put(&model.PublishTask{ID: "b", Status: model.StatusPublishing,
		MaterialID: strPtr("mat-2"), MaterialPolicy: model.MaterialPolicyIncrementUse})

	for _, id := range []string{"a", "b"} {
		_, err := m.Transition(ctx, id, []model.PublishStatus{model.StatusPublishing}, model.StatusReleased,
			model.TaskPatch{DataID: strPtr("data-" + id), WorkLink: strPtr("link")})
		require.NoError(t, err)
	}

	require.Equal(t, 2, events.count())
	assert.Equal(t, model.CompletionEvent{
		TaskID: "a", AccountID: "acc", Platform: "youtube", DataID: "data-a", UserID: "u",
		ReleasedAt: time.Unix(1700000000, 0).UTC(),
	}, events.events[0])
	assert.Equal(t, []string{"mat-1"}, materials.deleted)
	assert.Equal(t, []string{"mat-2"}, materials.incremented)
}

func TestCompleteByExternalKey_DuplicateCallbackIsNoop(t *testing.T) {
	ctx := context.Background()
	tasks := newMemTasks()
	events := &recordedEvents{}
	m := NewTaskStateMachine(tasks, events, nil, nil, nil)
	tasks.put(&model.PublishTask{ID: "t", Platform: "tiktok", AccountUID: "uid", Status: model.StatusPublishing, ExternalRef: strPtr("item-1")})

	cb := &model.ProviderCallback{Platform: "tiktok", AccountUID: "uid", ProviderContentID: "item-1", Success: true, WorkLink: "https://tiktok/item-1"}
	task, applied, err := m.CompleteByExternalKey(ctx, cb)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusReleased, task.Status)

	for i := 0; i < 3; i++ {
		task, applied, err = m.CompleteByExternalKey(ctx, cb)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, model.StatusReleased, task.Status)
	}
	assert.Equal(t, 1, events.count())

	_, _, err = m.CompleteByExternalKey(ctx, &model.ProviderCallback{Platform: "tiktok", AccountUID: "uid", ProviderContentID: "unknown"})
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
}

func TestCompleteByExternalKey_FailureCallback(t *testing.T) {
	ctx := context.Background()
	tasks := newMemTasks()
	m := NewTaskStateMachine(tasks, nil, nil, nil, nil)
	tasks.put(&model.PublishTask{ID: "t", Platform: "tiktok", AccountUID: "uid", Status: model.StatusPublishing, ExternalRef: strPtr("item-1")})

	task, applied, err := m.CompleteByExternalKey(ctx, &model.ProviderCallback{Platform: "tiktok", AccountUID: "uid", ProviderContentID: "item-1", ErrorMessage: "review rejected"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, "review rejected", *task.ErrorMessage)
	assert.Nil(t, task.DataID)
}

func TestCompleteByExternalKey_IncompleteSuccessIsNotADuplicate(t *testing.T) {
	ctx := context.Background()
	tasks := newMemTasks()
	events := &recordedEvents{}
	m := NewTaskStateMachine(tasks, events, nil, nil, nil)
	tasks.put(&model.PublishTask{ID: "t", Platform: "tiktok", AccountUID: "uid", Status: model.StatusPublishing, ExternalRef: strPtr("item-1")})

	_, applied, err := m.CompleteByExternalKey(ctx, &model.ProviderCallback{Platform: "tiktok", AccountUID: "uid", ProviderContentID: "item-1", Success: true})
	require.Error(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.KindValidationRejected, model.KindOf(err))

	_, err = m.Transition(ctx, "t", []model.PublishStatus{model.StatusPublishing}, model.StatusReleased, model.TaskPatch{DataID: strPtr("item-1")})
	assert.ErrorIs(t, err, model.ErrInvalidPatch)
	assert.NotErrorIs(t, err, model.ErrInvalidTransition)

	cur, _ := tasks.GetByID(ctx, "t")
	assert.Equal(t, model.StatusPublishing, cur.Status)
	assert.Zero(t, events.count())
}
