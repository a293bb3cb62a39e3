package reconcile

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagememory "github.com/JakeFAU/site-thumbnailer/internal/storage/memory"
	storememory "github.com/JakeFAU/site-thumbnailer/internal/store/memory"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

const base = "https://storage.example"

func seed(t *testing.T, blobs *storagememory.BlobStore, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, blobs.PutObject(context.Background(), key, "image/jpeg", bytes.NewReader([]byte("jpeg"))))
	}
}

func newStores(t *testing.T) (*storagememory.BlobStore, *storememory.ProjectStore) {
	t.Helper()
	blobs := storagememory.NewBlobStore(base)
	seed(t, blobs,
		"project-thumbnails/live.jpg",
		"project-thumbnails/deleted.jpg",
		"project-thumbnails/unpersisted.jpg",
		"project-thumbnails/stale.jpg",
		"project-thumbnails/nested/x.jpg",
		"other/live.jpg",
	)
	projects := storememory.NewProjectStore(
		thumbnail.Project{ID: "live", OwnerID: "u", ThumbnailURL: base + "/project-thumbnails/live.jpg"},
		thumbnail.Project{ID: "unpersisted", OwnerID: "u"},
		thumbnail.Project{ID: "stale", OwnerID: "u", ThumbnailURL: base + "/project-thumbnails/stale.png"},
	)
	return blobs, projects
}

func TestSweepDeletesOrphans(t *testing.T) {
	t.Parallel()

	blobs, projects := newStores(t)
	s, err := New(blobs, projects, "project-thumbnails", nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{
		"project-thumbnails/deleted.jpg",
		"project-thumbnails/stale.jpg",
		"project-thumbnails/unpersisted.jpg",
	}, report.Orphans)
	assert.Equal(t, 3, report.Deleted)

	keys, err := blobs.ListObjects(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other/live.jpg", "project-thumbnails/live.jpg", "project-thumbnails/nested/x.jpg"}, keys)
}

func TestSweepDryRunKeepsObjects(t *testing.T) {
	t.Parallel()

	blobs, projects := newStores(t)
	s, err := New(blobs, projects, "/project-thumbnails/", nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Orphans, 3)
	assert.Zero(t, report.Deleted)
	assert.Equal(t, 6, blobs.Len())
}

type brokenProjects struct{ *storememory.ProjectStore }

func (brokenProjects) GetProject(context.Context, string) (thumbnail.Project, error) {
	return thumbnail.Project{}, errors.New("connection reset")
}

func TestSweepAbortsOnLookupFailure(t *testing.T) {
	t.Parallel()

	blobs, _ := newStores(t)
	s, err := New(blobs, brokenProjects{storememory.NewProjectStore()}, "project-thumbnails", nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, 6, blobs.Len())
}

type stickyBlobs struct{ *storagememory.BlobStore }

func (stickyBlobs) DeleteObject(context.Context, string) error {
	return errors.New("permission denied")
}

func TestSweepCollectsDeleteFailures(t *testing.T) {
	t.Parallel()

	blobs, projects := newStores(t)
	s, err := New(stickyBlobs{blobs}, projects, "project-thumbnails", nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Len(t, report.Orphans, 3)
	assert.Zero(t, report.Deleted)
}

func TestSweepCanceled(t *testing.T) {
	t.Parallel()

	blobs, projects := newStores(t)
	s, err := New(blobs, projects, "project-thumbnails", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEntityFromKey(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		id string
		ok bool
	}{
		"c/p1.jpg":     {"p1", true},
		"c/p1":         {"p1", true},
		"c/a/b.jpg":    {"", false},
		"c/":           {"", false},
		"c/.jpg":       {"", false},
		"other/p1.jpg": {"", false},
		"c/p.1.2.jpg":  {"p.1.2", true},
	}
	for key, want := range cases {
		id, ok := entityFromKey("c/", key)
		assert.Equal(t, want.ok, ok, key)
		assert.Equal(t, want.id, id, key)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	blobs, projects := newStores(t)
	_, err := New(nil, projects, "c", nil)
	assert.Error(t, err)
	_, err = New(blobs, nil, "c", nil)
	assert.Error(t, err)
	_, err = New(blobs, projects, "/", nil)
	assert.Error(t, err)
}

func TestSweepGracePeriodKeepsFreshObjects(t *testing.T) {
	t.Parallel()

	blobs, projects := newStores(t)
	s, err := New(blobs, projects, "project-thumbnails", nil, WithGracePeriod(10*time.Minute))
	require.NoError(t, err)

	// A just-published object whose project row is not written yet survives.
	report, err := s.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Recent)
	assert.Empty(t, report.Orphans)
	assert.Zero(t, report.Deleted)
	assert.Equal(t, 6, blobs.Len())

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err = s.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.Recent)
	assert.Equal(t, 3, report.Deleted)
}

// opaqueStore hides ModTime from the sweeper.
type opaqueStore struct{ thumbnail.ObjectStore }

func TestGracePeriodNeedsModTimes(t *testing.T) {
	t.Parallel()

	blobs, projects := newStores(t)
	_, err := New(opaqueStore{blobs}, projects, "project-thumbnails", nil, WithGracePeriod(time.Minute))
	assert.Error(t, err)

	_, err = New(opaqueStore{blobs}, projects, "project-thumbnails", nil)
	assert.NoError(t, err)
}
