// Package headless renders pages to PNG screenshots with headless Chrome.
//
// Every Render call launches its own browser process through a dedicated
// allocator and tears it down before returning, so a crashed or wedged page
// can never leak into the next capture.
package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/metrics"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// RawName is the file Render writes inside the workspace.
const RawName = "raw.png"

const (
	defaultNavTimeout = 30 * time.Second
	// idleLifecycleEvent fires once the page has had at most two open
	// connections for 500ms.
	idleLifecycleEvent = "networkAlmostIdle"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	NavigationTimeout time.Duration
	// MaxParallel bounds concurrent browser processes. Zero means unbounded.
	MaxParallel int
	UserAgent   string
	ExecPath    string
	NoSandbox   bool
}

// Renderer implements thumbnail.Renderer using chromedp.
type Renderer struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
}

// New creates a renderer backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Renderer{cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Render loads rawURL in a fresh browser sized to viewport, waits for the
// network to settle and writes a viewport screenshot into dir.
func (r *Renderer) Render(ctx context.Context, rawURL string, viewport thumbnail.Viewport, dir string) (string, error) {
	if _, err := thumbnail.ValidateTargetURL(rawURL); err != nil {
		return "", err
	}
	if viewport.Width <= 0 || viewport.Height <= 0 {
		return "", thumbnail.Errorf(thumbnail.KindInvalidInput, "render", "viewport %dx%d is invalid", viewport.Width, viewport.Height)
	}
	if viewport.ScaleFactor <= 0 {
		viewport.ScaleFactor = 1
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return "", thumbnail.NewError(thumbnail.KindCanceled, "acquire render slot", err)
	}
	defer release()

	metrics.IncActiveRenders()
	defer metrics.DecActiveRenders()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(r.logger.Sugar().Debugf),
	)
	defer func() {
		// Close the browser gracefully, then make sure the process is gone.
		if err := chromedp.Cancel(browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Debug("browser close failed", zap.Error(err))
		}
		browserCancel()
		allocCancel()
	}()

	start := time.Now()
	if err := chromedp.Run(browserCtx); err != nil {
		if ctx.Err() != nil {
			return "", thumbnail.NewError(thumbnail.KindCanceled, "launch browser", ctx.Err())
		}
		return "", thumbnail.NewError(thumbnail.KindRenderCrash, "launch browser", err)
	}

	tracker := newIdleTracker()
	chromedp.ListenTarget(browserCtx, tracker.handle)

	navCtx, navCancel := context.WithTimeout(browserCtx, r.cfg.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, r.navigate(rawURL, viewport, tracker)); err != nil {
		return "", classifyNavigation(ctx, navCtx, err)
	}

	var png []byte
	if err := chromedp.Run(browserCtx, chromedp.CaptureScreenshot(&png)); err != nil {
		if ctx.Err() != nil {
			return "", thumbnail.NewError(thumbnail.KindCanceled, "screenshot", ctx.Err())
		}
		return "", thumbnail.NewError(thumbnail.KindRenderCrash, "screenshot", err)
	}
	if len(png) == 0 {
		return "", thumbnail.Errorf(thumbnail.KindRenderCrash, "screenshot", "browser returned an empty screenshot")
	}

	outPath := filepath.Join(dir, RawName)
	if err := os.WriteFile(outPath, png, 0o600); err != nil {
		return "", thumbnail.NewError(thumbnail.KindInternal, "write screenshot", err)
	}
	r.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.Int("bytes", len(png)),
		zap.Duration("duration", time.Since(start)),
	)
	return outPath, nil
}

func (r *Renderer) navigate(rawURL string, vp thumbnail.Viewport, tracker *idleTracker) chromedp.Tasks {
	return chromedp.Tasks{
		page.SetLifecycleEventsEnabled(true),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height), chromedp.EmulateScale(vp.ScaleFactor)),
		chromedp.Navigate(rawURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			return tracker.wait(ctx, tree.Frame.ID)
		}),
	}
}

func (r *Renderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
	)
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

func (r *Renderer) acquire(ctx context.Context) (func(), error) {
	if r.limiter == nil {
		return func() {}, nil
	}
	select {
	case r.limiter <- struct{}{}:
		return func() { <-r.limiter }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

// classifyNavigation maps a navigation failure to a kind. The caller's
// context takes precedence so a dropped request is never reported as a
// page timeout.
func classifyNavigation(parent, navCtx context.Context, err error) error {
	const op = "navigate"
	switch {
	case parent.Err() != nil:
		return thumbnail.NewError(thumbnail.KindCanceled, op, parent.Err())
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded):
		return thumbnail.NewError(thumbnail.KindNavigationTimeout, op, err)
	case isNetworkError(err):
		return thumbnail.NewError(thumbnail.KindNavigationError, op, err)
	default:
		return thumbnail.NewError(thumbnail.KindRenderCrash, op, err)
	}
}

func isNetworkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "net::ERR_") || strings.Contains(msg, "page load error")
}
