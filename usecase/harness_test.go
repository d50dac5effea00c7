package usecase

import (
	"testing"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/lock"
	"social-publisher/infrastructure/platform"
	"social-publisher/infrastructure/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type harness struct {
	mr        *miniredis.Miniredis
	redis     *redis.Client
	tasks     *memTasks
	creds     *memCreds
	refresher *countingRefresher
	adapter   *scriptedAdapter
	events    *recordedEvents
	materials *recordedMaterials
	guard     *lock.Guard
	queue     *queue.RedisQueue
	parked    *cache.ParkedCallbackCache
	machine   *TaskStateMachine
	store     *CredentialStore
	orch      *Orchestrator
	scheduler *Scheduler
	publish   IPublishUsecase
}

func future(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func validCredential() *model.OAuth2Credential {
	return &model.OAuth2Credential{
		AccountID:            "acc-1",
		Platform:             "tiktok",
		AccessToken:          "access",
		RefreshToken:         "refresh",
		AccessTokenExpiresAt: future(24 * time.Hour),
	}
}

func newHarness(t *testing.T, adapter *scriptedAdapter, creds ...*model.OAuth2Credential) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	if adapter == nil {
		adapter = &scriptedAdapter{name: "tiktok", strategy: model.Chunked(4)}
	}
	if len(creds) == 0 {
		creds = []*model.OAuth2Credential{validCredential()}
	}
	h := &harness{
		mr:        mr,
		redis:     client,
		tasks:     newMemTasks(),
		creds:     newMemCreds(creds...),
		refresher: &countingRefresher{delay: 20 * time.Millisecond},
		adapter:   adapter,
		events:    &recordedEvents{},
		materials: &recordedMaterials{},
	}
	h.guard = lock.NewGuard(lock.NewRedisLocker(client), lock.Options{Prefix: "lock", TTL: time.Minute, Retries: 2, RetryDelay: 10 * time.Millisecond})
	h.queue = queue.NewRedisQueue(client, queue.Options{
		Name:              "publish",
		Defaults:          model.JobOptions{Attempts: 3, Backoff: model.Backoff{Type: model.BackoffFixed}},
		VisibilityTimeout: time.Minute,
	})
	h.parked = cache.NewParkedCallbackCache(client, time.Hour)
	h.machine = NewTaskStateMachine(h.tasks, h.events, h.materials, nil, nil)
	h.store = NewCredentialStore(h.creds, h.refresher, h.guard, 5*time.Minute, nil)
	registry := platform.NewRegistry(adapter)
	h.orch = NewOrchestrator(h.tasks, h.machine, h.store, registry, nopMedia{}, h.guard, h.parked, nil)
	h.scheduler = NewScheduler(h.tasks, h.machine, h.queue, 10)
	h.publish = NewPublishUsecase(h.tasks, h.machine, h.scheduler, registry, h.parked, nil, nil)
	return h
}

// queuedTask stores a task already in Queued and returns the job that dispatches it.
func (h *harness) queuedTask(id string) *model.Job {
	h.tasks.put(&model.PublishTask{
		ID:          id,
		UserID:      "user-1",
		AccountID:   "acc-1",
		Platform:    h.adapter.name,
		AccountUID:  "uid-1",
		Title:       "title",
		VideoURL:    "https://cdn.example/v.mp4",
		PublishTime: time.Now().Add(-time.Minute),
		Status:      model.StatusQueued,
	})
	job := EncodeJob(id)
	job.Options = model.JobOptions{Attempts: 3, Timeout: 10 * time.Second}
	return job
}

func (h *harness) status(t *testing.T, id string) *model.PublishTask {
	t.Helper()
	task, err := h.tasks.GetByID(t.Context(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return task
}
