package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// LogNotifier writes each capture event as a structured log line.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wires a zap logger to the Notifier interface.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(_ context.Context, event thumbnail.CapturedEvent) error {
	n.logger.Info("thumbnail captured",
		zap.String("capture_id", event.CaptureID),
		zap.String("entity_id", event.EntityID),
		zap.String("url", event.SourceURL),
		zap.String("thumbnail_url", event.ThumbnailURL),
		zap.String("checksum", event.Checksum),
		zap.Time("captured_at", event.CapturedAt),
	)
	return nil
}
