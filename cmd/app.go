package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/clients/facebook"
	"social-publisher/infrastructure/clients/oauth"
	"social-publisher/infrastructure/clients/tiktok"
	"social-publisher/infrastructure/clients/youtube"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/events"
	"social-publisher/infrastructure/kafka"
	"social-publisher/infrastructure/lock"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/persistence"
	"social-publisher/infrastructure/platform"
	"social-publisher/infrastructure/pubsub"
	"social-publisher/infrastructure/queue"
	"social-publisher/infrastructure/realtime"
	"social-publisher/infrastructure/servicebus"
	"social-publisher/infrastructure/telemetry"
	"social-publisher/usecase"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// App holds every long-lived dependency of a process. Commands build it once and start the
// parts they need.
type App struct {
	DB          *sql.DB
	Redis       *redis.Client
	Mongo       *mongo.Client
	Tasks       repository.IPublishTask
	Credentials repository.IOAuthCredential
	Queue       *queue.RedisQueue
	Guard       *lock.Guard
	Registry    *platform.Registry
	OAuth       *oauth.Client
	Hub         *realtime.Hub
	Relay       *realtime.RedisRelay

	Machine      *usecase.TaskStateMachine
	Scheduler    *usecase.Scheduler
	Orchestrator *usecase.Orchestrator
	Publish      usecase.IPublishUsecase

	Metrics *telemetry.Metrics

	closers []func(ctx context.Context)
}

func NewApp(ctx context.Context) (*App, error) {
	C := configuration.C
	app := &App{Metrics: telemetry.Default()}

	db, mssql, err := InitiateDatabase()
	if err != nil {
		return nil, err
	}
	app.DB = db
	app.onClose(func(context.Context) { _ = db.Close() })
	if mssql {
		if err := persistence.EnsurePublishSchemaMSSQL(db); err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("ensure publish schema: %w", err)
		}
		app.Tasks = persistence.NewPublishTaskRepositoryMSSQL(db)
		app.Credentials = persistence.NewOAuthCredentialRepositoryMSSQL(db)
	} else {
		if err := persistence.EnsurePublishSchema(db); err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("ensure publish schema: %w", err)
		}
		app.Tasks = persistence.NewPublishTaskRepository(db)
		app.Credentials = persistence.NewOAuthCredentialRepository(db)
	}

	app.Redis, err = cache.NewCache(ctx,
		fmt.Sprintf("%s:%s", C.RedisClient.Host, C.RedisClient.Port),
		C.RedisClient.Username,
		C.RedisClient.Password,
	)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("redis: %w", err)
	}
	app.onClose(func(context.Context) { _ = app.Redis.Close() })
	logger.GetLogger().Info("Redis client initialized successfully.")

	app.Guard = lock.NewGuard(lock.NewRedisLocker(app.Redis), lock.Options{
		Prefix:     C.Lock.Prefix,
		TTL:        C.Lock.TTL,
		Retries:    C.Lock.Retries,
		RetryDelay: C.Lock.RetryDelay,
	})
	app.Guard.OnRefused = func(key string) { app.Metrics.LockRefused(context.Background(), lockResource(key)) }

	removeOnComplete, removeOnFail := C.Queue.RemoveOnComplete, C.Queue.RemoveOnFail
	app.Queue = queue.NewRedisQueue(app.Redis, queue.Options{
		Name: C.Queue.Name,
		Defaults: model.JobOptions{
			Attempts:         C.Queue.Attempts,
			Backoff:          model.Backoff{Type: model.BackoffType(C.Queue.BackoffType), Delay: C.Queue.BackoffDelay},
			Timeout:          C.Queue.Timeout,
			RemoveOnComplete: &removeOnComplete,
			RemoveOnFail:     &removeOnFail,
		},
		VisibilityTimeout: C.Queue.VisibilityTimeout,
	})
	parked := cache.NewParkedCallbackCache(app.Redis, C.Orchestrator.CallbackParkTTL)

	app.Hub = realtime.NewTaskStatusHub()
	app.Relay = realtime.NewRedisRelay(app.Redis, realtime.DefaultStatusChannel)

	httpClient := &http.Client{Timeout: C.Queue.Timeout}
	app.OAuth = oauth.NewClient(C.Platforms, httpClient)
	app.Registry = platform.NewRegistry(adapters(C.Platforms, httpClient)...)
	logger.GetLogger().WithField("platforms", app.Registry.Platforms()).Info("Platform adapters registered")

	app.Machine = usecase.NewTaskStateMachine(app.Tasks, app.completionPublisher(ctx), app.materials(), app.Relay, app.Metrics)
	credStore := usecase.NewCredentialStore(app.Credentials, app.OAuth, app.Guard, C.Orchestrator.RefreshWindow, app.Metrics)
	app.Scheduler = usecase.NewScheduler(app.Tasks, app.Machine, app.Queue, C.Orchestrator.SchedulerBatch)
	app.Orchestrator = usecase.NewOrchestrator(app.Tasks, app.Machine, credStore, app.Registry,
		platform.NewHTTPMediaSource(httpClient), app.Guard, parked, app.Metrics)
	app.Publish = usecase.NewPublishUsecase(app.Tasks, app.Machine, app.Scheduler, app.Registry, parked, app.callbackAudit(ctx), app.Metrics)
	return app, nil
}

func (a *App) onClose(fn func(ctx context.Context)) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

// InitiateDatabase opens the task store. Production (or DB_VENDOR=mssql) runs on SQL Server,
// everything else on PostgreSQL.
func InitiateDatabase() (*sql.DB, bool, error) {
	env := os.Getenv("ENV")
	if os.Getenv("DB_VENDOR") == "mssql" || env == "production" || env == "prod" {
		db, err := persistence.NewMSSQLDB()
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Cannot connect to MSSQL")
			return nil, false, err
		}
		logger.GetLogger().Info("Database connected (MSSQL).")
		return db, true, nil
	}
	db, err := persistence.NewPostgreSQLDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Cannot connect to PostgreSQL")
		return nil, false, err
	}
	logger.GetLogger().Info("Database connected (PostgreSQL).")
	return db, false, nil
}

func adapters(platforms map[string]configuration.PlatformConfig, httpClient *http.Client) []repository.IPlatformAdapter {
	var out []repository.IPlatformAdapter
	for name, cfg := range platforms {
		if !cfg.Enabled {
			continue
		}
		switch strings.ToLower(name) {
		case youtube.Platform:
			out = append(out, youtube.NewClient(cfg, httpClient))
		case facebook.Platform:
			out = append(out, facebook.NewClient(cfg, httpClient))
		case tiktok.Platform:
			out = append(out, tiktok.NewClient(cfg, httpClient))
		default:
			logger.GetLogger().WithField("platform", name).Warn("No adapter for configured platform")
		}
	}
	return out
}

// completionPublisher fans completion events out to every transport in events.transports. A
// transport that cannot be set up is skipped with a warning.
func (a *App) completionPublisher(ctx context.Context) repository.ICompletionPublisher {
	C := configuration.C
	var targets []events.Named
	for _, transport := range C.Events.Transports {
		lg := logger.GetLogger().WithField("transport", transport)
		switch strings.ToLower(transport) {
		case "pubsub":
			client, err := pubsub.NewClient(ctx, C.Pubsub.ProjectID)
			if err != nil {
				lg.WithField("error", err).Warn("PubSub not available - completion events will not be sent there")
				continue
			}
			p := pubsub.NewCompletionPubSub(client, C.Events.Topic)
			a.onClose(func(context.Context) { p.Close(); _ = client.Close() })
			targets = append(targets, events.Named{Name: "pubsub", Publisher: p})
		case "servicebus":
			client, err := servicebus.NewClient(C.ServiceBus.Namespace, C.ServiceBus.ConnectionString)
			if err != nil {
				lg.WithField("error", err).Warn("Azure Service Bus not available - completion events will not be sent there")
				continue
			}
			s := servicebus.NewCompletionServiceBus(client, C.Events.Topic)
			a.onClose(func(ctx context.Context) { s.Close(ctx); _ = client.Close(ctx) })
			targets = append(targets, events.Named{Name: "servicebus", Publisher: s})
		case "kafka":
			if C.Kafka.Brokers == "" {
				lg.Warn("KAFKA_BROKERS not set - completion events will not be sent to Kafka")
				continue
			}
			k := kafka.NewCompletionProducer(C.Kafka.Brokers, C.Events.Topic)
			a.onClose(func(context.Context) { _ = k.Close() })
			targets = append(targets, events.Named{Name: "kafka", Publisher: k})
		default:
			lg.Warn("Unknown completion transport")
			continue
		}
		lg.Info("Completion transport enabled")
	}
	return events.NewFanout(a.Metrics, targets...)
}

// materials is the optional material service database. Without it release policies are skipped.
func (a *App) materials() repository.IMaterial {
	if configuration.C.Database.MySql.Host == "" {
		logger.GetLogger().Info("Material database not configured - material policies disabled")
		return nil
	}
	db, err := persistence.NewMaterialDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Material database not available - material policies disabled")
		return nil
	}
	if sqlDB, err := db.DB(); err == nil {
		a.onClose(func(context.Context) { _ = sqlDB.Close() })
	}
	return persistence.NewMaterialRepository(db)
}

// callbackAudit records provider callbacks in MongoDB when it is reachable.
func (a *App) callbackAudit(ctx context.Context) repository.ICallbackAudit {
	cfg := configuration.C.Database.Mongo
	if cfg.Host == "" {
		return nil
	}
	client, err := persistence.NewMongoDb(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - continuing without callback audit")
		return nil
	}
	if err := client.Ping(ctx, nil); err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - continuing without callback audit")
		_ = client.Disconnect(ctx)
		return nil
	}
	logger.GetLogger().Info("MongoDB connected successfully")
	a.Mongo = client
	a.onClose(func(ctx context.Context) { _ = client.Disconnect(ctx) })
	return persistence.NewCallbackAuditRepository(client, cfg.Name)
}

// lockResource strips the argument hash from a lock key for metric labels.
func lockResource(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return key
	}
	return strings.Join(parts[1:len(parts)-1], ":")
}
