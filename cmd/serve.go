package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/telemetry"
	"social-publisher/infrastructure/worker"
	httpHandler "social-publisher/interfaces/http"
	"social-publisher/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func ServeCmd() *cobra.Command {
	var withWorkers bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, and by default the workers and scheduler too",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), withWorkers)
		},
	}
	serveCmd.Flags().BoolVar(&withWorkers, "workers", true, "Also run publish workers and the scheduler in this process")
	return serveCmd
}

func runServe(parent context.Context, withWorkers bool) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.Setup(ctx, time.Minute)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx)
	if err != nil {
		return err
	}
	C := configuration.C

	publishHandler := httpHandler.NewPublishHandler(app.Publish)
	webhookHandler := httpHandler.NewWebhookHandler(app.Publish, webhookSecrets(C.Platforms))
	oauthHandler := httpHandler.NewOAuthHandler(app.OAuth, app.Credentials, C.App.SecretKey)
	healthHandler := httpHandler.NewHealthHandler(map[string]httpHandler.Check{
		"database": app.DB.PingContext,
		"redis":    func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() },
	})
	router := server.InitiateRouter(C.App.SecretKey, C.App.CORSOrigins,
		publishHandler, webhookHandler, oauthHandler, healthHandler, app.Hub.Serve)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", C.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Relay.Run(gctx, app.Hub) })
	if withWorkers {
		startBackground(gctx, g, app)
	}
	g.Go(func() error {
		logger.GetLogger().WithFields(map[string]interface{}{"port": C.App.Port, "tls": C.App.TLSEnabled}).Info("Starting application")
		var err error
		if C.App.TLSEnabled && C.App.TLSCertFile != "" && C.App.TLSKeyFile != "" {
			err = httpServer.ListenAndServeTLS(C.App.TLSCertFile, C.App.TLSKeyFile)
		} else {
			if C.App.TLSEnabled {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
			}
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.GetLogger().Info("Application shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.Close(closeCtx)
	if merr := shutdownMetrics(closeCtx); merr != nil {
		logger.GetLogger().WithField("error", merr).Warn("metrics shutdown failed")
	}
	return err
}

// startBackground adds the worker pool and the due-task scheduler to g.
func startBackground(ctx context.Context, g *errgroup.Group, app *App) {
	o := configuration.C.Orchestrator
	pool := worker.NewPool(app.Queue, app.Orchestrator, worker.Options{
		Workers:      o.Workers,
		PollInterval: o.PollInterval,
	})
	logger.GetLogger().WithField("workers", o.Workers).Info("Starting publish workers")
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return app.Scheduler.Run(ctx, o.SchedulerInterval) })
}

func webhookSecrets(platforms map[string]configuration.PlatformConfig) map[string]string {
	out := map[string]string{}
	for name, p := range platforms {
		if p.WebhookSecret != "" {
			out[strings.ToLower(name)] = p.WebhookSecret
		}
	}
	return out
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
