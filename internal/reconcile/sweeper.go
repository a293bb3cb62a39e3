// Package reconcile removes stored thumbnails that no project references.
//
// Objects become orphaned when a capture uploads successfully but the project write-back
// fails, or when a project is deleted after its thumbnail was stored.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// Report summarizes one sweep. Recent counts unreferenced objects left alone
// because they were written inside the grace period.
type Report struct {
	Scanned int      `json:"scanned"`
	Skipped int      `json:"skipped"`
	Recent  int      `json:"recent"`
	Orphans []string `json:"orphans"`
	Deleted int      `json:"deleted"`
	DryRun  bool     `json:"dry_run"`
}

// modTimer is implemented by object stores that know when a key was written.
type modTimer interface {
	ModTime(ctx context.Context, key string) (time.Time, error)
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithGracePeriod keeps unreferenced objects younger than d. A capture
// publishes before its project row points at the object, so a sweep running
// in between would otherwise delete a thumbnail that is about to be referenced.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Sweeper) { s.grace = d }
}

// Sweeper compares objects under a collection with the projects that should own them.
type Sweeper struct {
	objects    thumbnail.ObjectStore
	projects   thumbnail.ProjectStore
	collection string
	grace      time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// New returns a Sweeper for collection.
func New(objects thumbnail.ObjectStore, projects thumbnail.ProjectStore, collection string, logger *zap.Logger, opts ...Option) (*Sweeper, error) {
	switch {
	case objects == nil:
		return nil, errors.New("object store is required")
	case projects == nil:
		return nil, errors.New("project store is required")
	}
	collection = strings.Trim(collection, "/")
	if collection == "" {
		return nil, errors.New("collection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		objects:    objects,
		projects:   projects,
		collection: collection,
		now:        time.Now,
		logger:     logger.Named("reconcile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.grace > 0 {
		if _, ok := objects.(modTimer); !ok {
			return nil, errors.New("grace period needs an object store that reports modification times")
		}
	}
	return s, nil
}

// Run lists every key in the collection and deletes the orphans unless dryRun is set.
// A project lookup failure aborts the sweep; delete failures are collected and the sweep
// continues.
func (s *Sweeper) Run(ctx context.Context, dryRun bool) (Report, error) {
	report := Report{DryRun: dryRun}
	prefix := s.collection + "/"
	keys, err := s.objects.ListObjects(ctx, prefix)
	if err != nil {
		return report, fmt.Errorf("list %s: %w", prefix, err)
	}

	var deleteErrs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sweep interrupted: %w", err)
		}
		report.Scanned++

		entityID, ok := entityFromKey(prefix, key)
		if !ok {
			report.Skipped++
			s.logger.Debug("skipping unrecognized key", zap.String("key", key))
			continue
		}
		orphan, err := s.isOrphan(ctx, entityID, key)
		if err != nil {
			return report, err
		}
		if !orphan {
			continue
		}
		recent, err := s.isRecent(ctx, key)
		if err != nil {
			return report, err
		}
		if recent {
			report.Recent++
			s.logger.Debug("unreferenced object inside grace period", zap.String("key", key))
			continue
		}
		report.Orphans = append(report.Orphans, key)
		if dryRun {
			s.logger.Info("orphan found", zap.String("key", key), zap.String("entity_id", entityID))
			continue
		}
		if err := s.objects.DeleteObject(ctx, key); err != nil {
			s.logger.Warn("orphan delete failed", zap.String("key", key), zap.Error(err))
			deleteErrs = append(deleteErrs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		report.Deleted++
		s.logger.Info("orphan deleted", zap.String("key", key), zap.String("entity_id", entityID))
	}
	return report, errors.Join(deleteErrs...)
}

func (s *Sweeper) isOrphan(ctx context.Context, entityID, key string) (bool, error) {
	project, err := s.projects.GetProject(ctx, entityID)
	if errors.Is(err, thumbnail.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load project %s: %w", entityID, err)
	}
	if project.ThumbnailURL == "" {
		return true, nil
	}
	url, err := s.objects.PublicURL(ctx, key)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", key, err)
	}
	return project.ThumbnailURL != url, nil
}

func (s *Sweeper) isRecent(ctx context.Context, key string) (bool, error) {
	if s.grace <= 0 {
		return false, nil
	}
	written, err := s.objects.(modTimer).ModTime(ctx, key)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return s.now().Sub(written) < s.grace, nil
}

// entityFromKey extracts the entity ID from "{collection}/{entityID}.{ext}".
func entityFromKey(prefix, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	id := strings.TrimSuffix(rest, path.Ext(rest))
	if id == "" {
		return "", false
	}
	return id, true
}
