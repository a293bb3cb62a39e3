// Package orchestrator runs the capture pipeline for one entity:
//
//	start -> locked -> workspace -> rendered -> transcoded -> published -> done
//
// Any failure jumps straight to a classified error. The workspace is always
// removed and the entity lock always released before Capture returns.
// Nothing is retried here; callers re-trigger captures explicitly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/lock"
	"github.com/JakeFAU/site-thumbnailer/internal/metrics"
	"github.com/JakeFAU/site-thumbnailer/internal/storage"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

const releaseTimeout = 5 * time.Second

// Workspaces scopes a capture's scratch files.
type Workspaces interface {
	With(ctx context.Context, fn func(dir string) error) error
}

// Config holds the per-deployment capture parameters.
type Config struct {
	Collection  string
	ContentType string
	Viewport    thumbnail.Viewport
}

// TargetPolicy rejects URLs the renderer must not visit.
type TargetPolicy interface {
	Check(u *url.URL) error
}

// Deps are the collaborators a capture needs. Targets, Locker, Hasher, IDs,
// Clock and Logger are optional.
type Deps struct {
	Targets    TargetPolicy
	Renderer   thumbnail.Renderer
	Transcoder thumbnail.Transcoder
	Publisher  thumbnail.Publisher
	Workspaces Workspaces
	Locker     thumbnail.Locker
	Hasher     thumbnail.Hasher
	IDs        thumbnail.IDGenerator
	Clock      thumbnail.Clock
	Logger     *zap.Logger
}

// Orchestrator composes render, transcode and publish into one capture.
// It holds no per-capture state and is safe for concurrent use.
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Renderer == nil:
		return nil, errors.New("renderer is required")
	case deps.Transcoder == nil:
		return nil, errors.New("transcoder is required")
	case deps.Publisher == nil:
		return nil, errors.New("publisher is required")
	case deps.Workspaces == nil:
		return nil, errors.New("workspace manager is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("collection is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "image/jpeg"
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg}, nil
}

// Capture renders rawURL and publishes the thumbnail for entityID.
// Every returned error carries a thumbnail.Kind.
func (o *Orchestrator) Capture(ctx context.Context, rawURL, entityID string) (thumbnail.Result, error) {
	start := o.deps.Clock.Now()
	logger := o.deps.Logger.With(zap.String("entity_id", entityID), zap.String("url", rawURL))

	result, err := o.capture(ctx, logger, start, rawURL, entityID)
	if err != nil {
		kind := thumbnail.KindOf(err)
		metrics.ObserveCapture(string(kind))
		logger.Warn("capture failed",
			zap.String("kind", string(kind)),
			zap.Duration("elapsed", o.deps.Clock.Now().Sub(start)),
			zap.Error(err),
		)
		return thumbnail.Result{}, err
	}
	metrics.ObserveCapture("success")
	logger.Info("capture complete",
		zap.String("capture_id", result.CaptureID),
		zap.String("thumbnail_url", result.URL),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (o *Orchestrator) capture(
	ctx context.Context,
	logger *zap.Logger,
	start time.Time,
	rawURL, entityID string,
) (thumbnail.Result, error) {
	target, err := thumbnail.ValidateTargetURL(rawURL)
	if err != nil {
		return thumbnail.Result{}, err
	}
	if o.deps.Targets != nil {
		if err := o.deps.Targets.Check(target); err != nil {
			return thumbnail.Result{}, thumbnail.Classify(err, thumbnail.KindInvalidInput, "target policy")
		}
	}
	if err := thumbnail.ValidateEntityID(entityID); err != nil {
		return thumbnail.Result{}, err
	}
	captureID, err := o.newID()
	if err != nil {
		return thumbnail.Result{}, thumbnail.NewError(thumbnail.KindInternal, "capture id", err)
	}
	logger = logger.With(zap.String("capture_id", captureID))
	o.stage(logger, thumbnail.StageStart, start)

	release, err := o.deps.Locker.Acquire(ctx, entityID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return thumbnail.Result{}, thumbnail.NewError(thumbnail.KindConflict, "acquire entity lock", err)
		}
		return thumbnail.Result{}, thumbnail.Classify(err, thumbnail.KindInternal, "acquire entity lock")
	}
	defer o.release(logger, release)
	o.stage(logger, thumbnail.StageLocked, start)

	result := thumbnail.Result{
		CaptureID: captureID,
		EntityID:  entityID,
		SourceURL: target.String(),
		Key:       storage.ObjectKey(o.cfg.Collection, entityID, o.cfg.ContentType),
	}
	err = o.deps.Workspaces.With(ctx, func(dir string) error {
		o.stage(logger, thumbnail.StageWorkspace, start)

		rawPath, err := o.deps.Renderer.Render(ctx, result.SourceURL, o.cfg.Viewport, dir)
		if err != nil {
			return thumbnail.Classify(err, thumbnail.KindRenderCrash, "render")
		}
		o.stage(logger, thumbnail.StageRendered, start)

		outPath, err := o.deps.Transcoder.Transcode(ctx, rawPath)
		if err != nil {
			return thumbnail.Classify(err, thumbnail.KindTranscodeFailure, "transcode")
		}
		o.stage(logger, thumbnail.StageTranscoded, start)

		if o.deps.Hasher != nil {
			result.Checksum, result.Bytes, err = o.digest(outPath)
			if err != nil {
				return thumbnail.NewError(thumbnail.KindInternal, "digest", err)
			}
		}

		url, err := o.deps.Publisher.Publish(ctx, outPath, o.cfg.Collection, entityID, o.cfg.ContentType)
		if err != nil {
			return thumbnail.Classify(err, thumbnail.KindUploadFailure, "publish")
		}
		result.URL = url
		o.stage(logger, thumbnail.StagePublished, start)
		return nil
	})
	if err != nil {
		return thumbnail.Result{}, thumbnail.Classify(err, thumbnail.KindInternal, "capture")
	}

	result.CapturedAt = o.deps.Clock.Now()
	result.Duration = result.CapturedAt.Sub(start)
	o.stage(logger, thumbnail.StageDone, start)
	return result, nil
}

func (o *Orchestrator) digest(path string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // path is produced inside a capture workspace
	if err != nil {
		return "", 0, fmt.Errorf("open artifact: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return o.deps.Hasher.HashReader(f)
}

func (o *Orchestrator) newID() (string, error) {
	if o.deps.IDs == nil {
		return "", nil
	}
	return o.deps.IDs.NewID()
}

// release frees the entity lock even when the capture context is gone.
func (o *Orchestrator) release(logger *zap.Logger, release func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := release(ctx); err != nil {
		logger.Warn("entity lock release failed", zap.Error(err))
	}
}

func (o *Orchestrator) stage(logger *zap.Logger, stage thumbnail.Stage, start time.Time) {
	elapsed := o.deps.Clock.Now().Sub(start)
	metrics.ObserveStage(string(stage), elapsed)
	logger.Debug("capture stage", zap.String("stage", string(stage)), zap.Duration("elapsed", elapsed))
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
