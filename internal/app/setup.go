package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/site-thumbnailer/internal/auth"
	"github.com/JakeFAU/site-thumbnailer/internal/clock/system"
	"github.com/JakeFAU/site-thumbnailer/internal/config"
	"github.com/JakeFAU/site-thumbnailer/internal/hash/sha256"
	"github.com/JakeFAU/site-thumbnailer/internal/id/uuid"
	"github.com/JakeFAU/site-thumbnailer/internal/lock"
	"github.com/JakeFAU/site-thumbnailer/internal/notify"
	notifymemory "github.com/JakeFAU/site-thumbnailer/internal/notify/memory"
	notifypubsub "github.com/JakeFAU/site-thumbnailer/internal/notify/pubsub"
	"github.com/JakeFAU/site-thumbnailer/internal/orchestrator"
	"github.com/JakeFAU/site-thumbnailer/internal/policy/target"
	"github.com/JakeFAU/site-thumbnailer/internal/render/headless"
	thumbstorage "github.com/JakeFAU/site-thumbnailer/internal/storage"
	gcsstorage "github.com/JakeFAU/site-thumbnailer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-thumbnailer/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-thumbnailer/internal/storage/memory"
	memorystore "github.com/JakeFAU/site-thumbnailer/internal/store/memory"
	pgstore "github.com/JakeFAU/site-thumbnailer/internal/store/postgres"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
	"github.com/JakeFAU/site-thumbnailer/internal/transcode"
	"github.com/JakeFAU/site-thumbnailer/internal/workspace"
)

const redisPingTimeout = 5 * time.Second

func setupStorage(ctx context.Context, app *App) (thumbnail.ObjectStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCS.Bucket))
		var opts []option.ClientOption
		if cfg.GCS.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.GCS.Endpoint), option.WithoutAuthentication())
			app.logger.Debug("GCS endpoint override", zap.String("endpoint", cfg.GCS.Endpoint))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:        cfg.GCS.Bucket,
			PublicBaseURL: cfg.GCS.PublicBaseURL,
			CacheControl:  cfg.CacheControl,
			VerifyUpload:  cfg.GCS.VerifyUpload,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		store, err := localstorage.New(localstorage.Config{
			BaseDir:       cfg.Local.BaseDir,
			PublicBaseURL: cfg.Local.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.filesDir = store.BaseDir()
		return store, nil
	default:
		app.logger.Warn("using in-memory storage backend; thumbnails are lost on exit")
		return memorystorage.NewBlobStore(cfg.Memory.PublicBaseURL), nil
	}
}

func setupDatabase(ctx context.Context, app *App) (thumbnail.ProjectStore, error) {
	cfg := app.cfg.DB
	if cfg.Backend != "postgres" {
		seed, err := app.cfg.SeedProjects()
		if err != nil {
			return nil, err
		}
		if len(seed) == 0 {
			app.logger.Warn("using in-memory project store with no projects; set db.memory.projects or db.memory.seed")
		} else {
			app.logger.Warn("using in-memory project store; changes are lost on exit", zap.Int("projects", len(seed)))
		}
		return memorystore.NewProjectStore(seed...), nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("project store init failed: %w", err)
	}
	app.pgStore = store
	app.logger.Info("project store initialized", zap.String("table", cfg.Table))
	return store, nil
}

func setupNotifier(ctx context.Context, app *App) (thumbnail.Notifier, error) {
	cfg := app.cfg.PubSub
	var sink thumbnail.Notifier
	if cfg.Topic == "" {
		app.logger.Info("no Pub/Sub topic configured, capture events stay in memory")
		sink = notifymemory.New()
	} else {
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubNotifier = notifypubsub.New(client.Topic(cfg.Topic))
		sink = app.pubsubNotifier
		app.logger.Info("Pub/Sub notifier initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
	}
	app.eventSink = sink
	app.notifyHub = notify.NewHub(notify.Config{Logger: app.logger.Named("notify")},
		notify.NewLogNotifier(app.logger.Named("events")),
		sink,
	)
	return app.notifyHub, nil
}

func setupAuth(app *App) (thumbnail.Authenticator, error) {
	cfg := app.cfg.Auth
	if cfg.Mode == "userinfo" {
		authn, err := auth.NewUserInfo(auth.UserInfoConfig{
			URL:     cfg.UserInfoURL,
			APIKey:  cfg.UserInfoAPIKey,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("userinfo authenticator init failed: %w", err)
		}
		return authn, nil
	}
	authn, err := NewJWT(app.cfg)
	if err != nil {
		return nil, err
	}
	return authn, nil
}

// NewJWT builds the HS256 authenticator described by cfg.Auth.
func NewJWT(cfg config.Config) (*auth.JWTAuthenticator, error) {
	a := cfg.Auth
	authn, err := auth.NewJWT(auth.JWTConfig{
		Secret:   a.JWTSecret,
		Issuer:   a.JWTIssuer,
		Audience: a.JWTAudience,
		TTL:      cfg.TokenTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("jwt authenticator init failed: %w", err)
	}
	return authn, nil
}

func setupLock(ctx context.Context, app *App) (thumbnail.Locker, error) {
	cfg := app.cfg.Lock
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.redisClient = client
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		locker, err := lock.NewRedis(client, app.cfg.LockTTL())
		if err != nil {
			return nil, fmt.Errorf("redis locker init failed: %w", err)
		}
		app.logger.Info("using redis entity locks", zap.String("address", cfg.Redis.Address))
		return locker, nil
	case "file":
		locker, err := lock.NewFile(cfg.File.Dir)
		if err != nil {
			return nil, fmt.Errorf("file locker init failed: %w", err)
		}
		app.logger.Info("using file entity locks", zap.String("dir", cfg.File.Dir))
		return locker, nil
	default:
		app.logger.Info("entity locks disabled; concurrent captures of one project are last-writer-wins")
		return lock.NewNop(), nil
	}
}

func setupOrchestrator(app *App, locker thumbnail.Locker) (*orchestrator.Orchestrator, error) {
	cfg := app.cfg
	renderer, err := headless.New(headless.Config{
		NavigationTimeout: cfg.NavigationTimeout(),
		MaxParallel:       cfg.Render.MaxParallel,
		UserAgent:         cfg.Render.UserAgent,
		ExecPath:          cfg.Render.ExecPath,
		NoSandbox:         cfg.Render.NoSandbox,
	}, app.logger.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	transcoder, err := transcode.New(cfg.ImageSpec())
	if err != nil {
		return nil, fmt.Errorf("transcoder init failed: %w", err)
	}
	workspaces, err := workspace.New(cfg.Workspace.Root, cfg.Workspace.Prefix, app.logger.Named("workspace"))
	if err != nil {
		return nil, fmt.Errorf("workspace manager init failed: %w", err)
	}
	publisher, err := thumbstorage.NewPublisher(app.objects, cfg.UploadTimeout(), app.logger.Named("publisher"))
	if err != nil {
		return nil, fmt.Errorf("publisher init failed: %w", err)
	}
	orch, err := orchestrator.New(orchestrator.Deps{
		Targets:    target.New(cfg.Render.BlockedHosts, cfg.Render.BlockPrivateAddresses),
		Renderer:   renderer,
		Transcoder: transcoder,
		Publisher:  publisher,
		Workspaces: workspaces,
		Locker:     locker,
		Hasher:     sha256.New(),
		IDs:        uuid.New(),
		Clock:      system.New(),
		Logger:     app.logger,
	}, orchestrator.Config{
		Collection:  cfg.Storage.Collection,
		ContentType: cfg.Storage.ContentType,
		Viewport:    cfg.Viewport(),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	app.logger.Info("capture pipeline ready",
		zap.String("collection", cfg.Storage.Collection),
		zap.Int("viewport_width", cfg.Render.ViewportWidth),
		zap.Int("viewport_height", cfg.Render.ViewportHeight),
		zap.Int("max_parallel", cfg.Render.MaxParallel),
	)
	return orch, nil
}
