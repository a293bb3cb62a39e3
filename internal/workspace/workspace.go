// Package workspace provides per-capture scratch directories that are always
// removed when the capture finishes, whatever the outcome.
package workspace

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/metrics"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// DefaultPrefix names scratch directories when no prefix is configured.
const DefaultPrefix = "thumbnail-"

// Manager creates and removes scratch directories.
type Manager struct {
	root   string
	prefix string
	logger *zap.Logger
	remove func(string) error
}

// New returns a Manager rooted at root. An empty root uses the system temp dir.
func New(root, prefix string, logger *zap.Logger) (*Manager, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{root: root, prefix: prefix, logger: logger, remove: os.RemoveAll}, nil
}

// With creates a fresh directory, runs fn inside it and removes it afterwards.
// Removal also runs when fn panics. A cleanup failure is logged and counted
// but never replaces fn's result.
func (m *Manager) With(ctx context.Context, fn func(dir string) error) error {
	if err := ctx.Err(); err != nil {
		return thumbnail.NewError(thumbnail.KindCanceled, "create workspace", err)
	}
	dir, err := os.MkdirTemp(m.root, m.prefix+"*")
	if err != nil {
		return thumbnail.NewError(thumbnail.KindInternal, "create workspace", err)
	}
	defer m.cleanup(dir)
	return fn(dir)
}

func (m *Manager) cleanup(dir string) {
	if err := m.remove(dir); err != nil {
		metrics.ObserveWorkspaceCleanupFailure()
		m.logger.Warn("workspace cleanup failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	m.logger.Debug("workspace removed", zap.String("dir", dir))
}
