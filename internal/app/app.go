// Package app builds the thumbnailer's long-lived services from configuration and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/api"
	"github.com/JakeFAU/site-thumbnailer/internal/config"
	"github.com/JakeFAU/site-thumbnailer/internal/notify"
	notifypubsub "github.com/JakeFAU/site-thumbnailer/internal/notify/pubsub"
	"github.com/JakeFAU/site-thumbnailer/internal/orchestrator"
	"github.com/JakeFAU/site-thumbnailer/internal/policy/ratelimit"
	"github.com/JakeFAU/site-thumbnailer/internal/reconcile"
	pgstore "github.com/JakeFAU/site-thumbnailer/internal/store/postgres"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

const hubDrainTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	objects      thumbnail.ObjectStore
	projects     thumbnail.ProjectStore
	notifier     thumbnail.Notifier
	authn        thumbnail.Authenticator
	limiter      *ratelimit.Limiter
	orchestrator *orchestrator.Orchestrator
	filesDir     string

	notifyHub      *notify.Hub
	eventSink      thumbnail.Notifier
	gcsClient      *storage.Client
	pgStore        *pgstore.ProjectStore
	redisClient    *redis.Client
	pubsubClient   *pubsub.Client
	pubsubNotifier *notifypubsub.Notifier
}

// Build creates the application's dependencies. On failure everything opened so far is
// closed before returning.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("db_backend", cfg.DB.Backend),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	if err := a.build(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.objects, err = setupStorage(ctx, a); err != nil {
		return err
	}
	if a.projects, err = setupDatabase(ctx, a); err != nil {
		return err
	}
	if a.notifier, err = setupNotifier(ctx, a); err != nil {
		return err
	}
	if a.authn, err = setupAuth(a); err != nil {
		return err
	}
	locker, err := setupLock(ctx, a)
	if err != nil {
		return err
	}
	if a.orchestrator, err = setupOrchestrator(a, locker); err != nil {
		return err
	}
	a.limiter = ratelimit.New(ratelimit.Config{
		PerMinute: a.cfg.RateLimit.CapturesPerMinute,
		Burst:     a.cfg.RateLimit.Burst,
	})
	return nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator returns the capture pipeline.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Projects returns the configured project store.
func (a *App) Projects() thumbnail.ProjectStore {
	return a.projects
}

// Objects returns the configured object store.
func (a *App) Objects() thumbnail.ObjectStore {
	return a.objects
}

// Notifier returns the non-blocking capture event notifier.
func (a *App) Notifier() thumbnail.Notifier {
	return a.notifier
}

// EventSink returns the downstream notifier (Pub/Sub or memory) behind Notifier.
func (a *App) EventSink() thumbnail.Notifier {
	return a.eventSink
}

// Sweeper builds an orphan sweeper over the configured collection.
func (a *App) Sweeper() (*reconcile.Sweeper, error) {
	sweeper, err := reconcile.New(a.objects, a.projects, a.cfg.Storage.Collection, a.logger,
		reconcile.WithGracePeriod(a.cfg.ReconcileGrace()))
	if err != nil {
		return nil, fmt.Errorf("sweeper init failed: %w", err)
	}
	return sweeper, nil
}

// Handler builds the HTTP API.
func (a *App) Handler() (http.Handler, error) {
	server, err := api.NewServer(api.Deps{
		Capturer: a.orchestrator,
		Projects: a.projects,
		Auth:     a.authn,
		Limiter:  a.limiter,
		Notifier: a.notifier,
		Logger:   a.logger,
	}, api.Config{
		RequestTimeout: a.cfg.RequestTimeout(),
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
		FilesDir:       a.filesDir,
	})
	if err != nil {
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return server.Handler(), nil
}

// Run serves the HTTP API until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases every client the App opened and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.notifyHub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), hubDrainTimeout)
		if err := a.notifyHub.Close(ctx); err != nil {
			a.logger.Warn("notification hub close failed", zap.Error(err))
		}
		cancel()
	}
	if a.pubsubNotifier != nil {
		a.pubsubNotifier.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
