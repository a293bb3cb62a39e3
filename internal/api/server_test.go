package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	notifymemory "github.com/JakeFAU/site-thumbnailer/internal/notify/memory"
	"github.com/JakeFAU/site-thumbnailer/internal/policy/ratelimit"
	storememory "github.com/JakeFAU/site-thumbnailer/internal/store/memory"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

const thumbURL = "https://storage.example/project-thumbnails/p1.jpg"

type fakeCapturer struct {
	mu     sync.Mutex
	calls  []thumbnail.Request
	err    error
	panics bool
	stall  bool
}

func (f *fakeCapturer) Capture(ctx context.Context, rawURL, entityID string) (thumbnail.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, thumbnail.Request{URL: rawURL, EntityID: entityID})
	stall := f.stall
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return thumbnail.Result{}, thumbnail.NewError(thumbnail.KindCanceled, "render", ctx.Err())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("renderer exploded")
	}
	if f.err != nil {
		return thumbnail.Result{}, f.err
	}
	return thumbnail.Result{
		CaptureID:  "cap-1",
		EntityID:   entityID,
		SourceURL:  rawURL,
		URL:        thumbURL,
		Key:        "project-thumbnails/" + entityID + ".jpg",
		Checksum:   "abc123",
		CapturedAt: time.Unix(1700000000, 0).UTC(),
	}, nil
}

func (f *fakeCapturer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeAuth accepts "token-<user>" and reports an outage for "outage".
type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, token string) (thumbnail.Identity, error) {
	switch {
	case token == "outage":
		return thumbnail.Identity{}, thumbnail.Errorf(thumbnail.KindInternal, "userinfo", "provider down")
	case strings.HasPrefix(token, "token-"):
		return thumbnail.Identity{UserID: strings.TrimPrefix(token, "token-")}, nil
	default:
		return thumbnail.Identity{}, errors.New("bad token")
	}
}

type failingProjects struct {
	*storememory.ProjectStore
	setErr  error
	getErr  error
	pingErr error
}

func (f *failingProjects) GetProject(ctx context.Context, id string) (thumbnail.Project, error) {
	if f.getErr != nil {
		return thumbnail.Project{}, f.getErr
	}
	return f.ProjectStore.GetProject(ctx, id)
}

func (f *failingProjects) SetThumbnailURL(ctx context.Context, id, url string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.ProjectStore.SetThumbnailURL(ctx, id, url)
}

func (f *failingProjects) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.ProjectStore.Ping(ctx)
}

type fixture struct {
	server   *Server
	capturer *fakeCapturer
	projects *failingProjects
	notifier *notifymemory.Notifier
}

func newFixture(t *testing.T, limiter RateLimiter, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		capturer: &fakeCapturer{},
		projects: &failingProjects{ProjectStore: storememory.NewProjectStore(
			thumbnail.Project{ID: "p1", OwnerID: "alice"},
			thumbnail.Project{ID: "p2", OwnerID: "bob"},
		)},
		notifier: notifymemory.New(),
	}
	server, err := NewServer(Deps{
		Capturer: f.capturer,
		Projects: f.projects,
		Auth:     fakeAuth{},
		Limiter:  limiter,
		Notifier: f.notifier,
		Logger:   zap.NewNop(),
	}, cfg)
	require.NoError(t, err)
	f.server = server
	return f
}

func (f *fixture) post(body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/thumbnail", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateThumbnail_Succeeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	rec := f.post(`{"entityId":"p1","url":"https://example.com"}`, "token-alice")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp thumbnailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, thumbURL, resp.ThumbnailURL)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	project, err := f.projects.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, thumbURL, project.ThumbnailURL)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "p1", events[0].EntityID)
	assert.Equal(t, thumbURL, events[0].ThumbnailURL)
	assert.Equal(t, "abc123", events[0].Checksum)
}

func TestCreateThumbnail_InvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	for name, body := range map[string]string{
		"malformed":      `{invalid`,
		"missing entity": `{"url":"https://example.com"}`,
		"missing url":    `{"entityId":"p1"}`,
		"blank fields":   `{"entityId":"  ","url":" "}`,
	} {
		// Validation precedes authentication, so no token is needed for a 400.
		rec := f.post(body, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, "InvalidInput", decodeError(t, rec).Kind, name)
	}
	assert.Zero(t, f.capturer.Calls())
}

func TestCreateThumbnail_BodyTooLarge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{MaxBodyBytes: 32})
	rec := f.post(`{"entityId":"p1","url":"https://example.com/`+strings.Repeat("a", 64)+`"}`, "token-alice")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateThumbnail_Unauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	body := `{"entityId":"p1","url":"https://example.com"}`

	rec := f.post(body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec).Kind)

	rec = f.post(body, "garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post(body, "outage")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeError(t, rec).Error)

	assert.Zero(t, f.capturer.Calls())
}

func TestCreateThumbnail_NotFoundOrForbidden(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})

	missing := f.post(`{"entityId":"nope","url":"https://example.com"}`, "token-alice")
	foreign := f.post(`{"entityId":"p2","url":"https://example.com"}`, "token-alice")

	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Equal(t, http.StatusNotFound, foreign.Code)
	// Both cases must be indistinguishable to the caller.
	assert.Equal(t, missing.Body.String(), foreign.Body.String())
	assert.Zero(t, f.capturer.Calls())
}

func TestCreateThumbnail_ProjectLookupFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	f.projects.getErr = errors.New("connection refused")

	rec := f.post(`{"entityId":"p1","url":"https://example.com"}`, "token-alice")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Zero(t, f.capturer.Calls())
}

func TestCreateThumbnail_CaptureFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind       thumbnail.Kind
		wantStatus int
		wantClass  string
	}{
		{thumbnail.KindInvalidInput, http.StatusBadRequest, "InvalidInput"},
		{thumbnail.KindConflict, http.StatusConflict, "Conflict"},
		{thumbnail.KindNavigationTimeout, http.StatusInternalServerError, "RenderFailure"},
		{thumbnail.KindNavigationError, http.StatusInternalServerError, "RenderFailure"},
		{thumbnail.KindRenderCrash, http.StatusInternalServerError, "RenderFailure"},
		{thumbnail.KindTranscodeFailure, http.StatusInternalServerError, "TranscodeFailure"},
		{thumbnail.KindUploadFailure, http.StatusInternalServerError, "PublishFailure"},
		{thumbnail.KindResolutionFailure, http.StatusInternalServerError, "PublishFailure"},
		{thumbnail.KindCanceled, http.StatusInternalServerError, "Canceled"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil, Config{})
			f.capturer.err = thumbnail.Errorf(tc.kind, "capture", "secret detail from https://internal.example")

			rec := f.post(`{"entityId":"p1","url":"https://example.com"}`, "token-alice")
			require.Equal(t, tc.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.wantClass, body.Kind)
			assert.NotContains(t, rec.Body.String(), "secret detail")

			project, err := f.projects.GetProject(context.Background(), "p1")
			require.NoError(t, err)
			assert.Empty(t, project.ThumbnailURL)
			assert.Empty(t, f.notifier.Events())
		})
	}
}

func TestCreateThumbnail_PersistenceFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	f.projects.setErr = errors.New("read only transaction")

	rec := f.post(`{"entityId":"p1","url":"https://example.com"}`, "token-alice")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "PersistenceFailure", decodeError(t, rec).Kind)
	assert.Equal(t, 1, f.capturer.Calls())
	assert.Empty(t, f.notifier.Events())
}

func TestCreateThumbnail_NotifyFailureIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	f.notifier.FailWith(errors.New("broker down"))

	rec := f.post(`{"entityId":"p1","url":"https://example.com"}`, "token-alice")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateThumbnail_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ratelimit.New(ratelimit.Config{PerMinute: 1, Burst: 1}), Config{})
	body := `{"entityId":"p1","url":"https://example.com"}`

	require.Equal(t, http.StatusOK, f.post(body, "token-alice").Code)
	rec := f.post(body, "token-alice")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RateLimited", decodeError(t, rec).Kind)
	assert.Equal(t, 1, f.capturer.Calls())

	// Other callers keep their own budget.
	require.Equal(t, http.StatusNotFound, f.post(body, "token-bob").Code)
}

func TestCreateThumbnail_PanicRecovered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	f.capturer.panics = true

	rec := f.post(`{"entityId":"p1","url":"https://example.com"}`, "token-alice")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal", decodeError(t, rec).Kind)
}

func TestCreateThumbnail_RequestTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{RequestTimeout: 50 * time.Millisecond})
	f.capturer.stall = true

	rec := f.post(`{"entityId":"p1","url":"https://example.com"}`, "token-alice")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Canceled", decodeError(t, rec).Kind)

	project, err := f.projects.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, project.ThumbnailURL)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, Config{})
	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}

	f.projects.pingErr = errors.New("db down")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFilesRoute(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "project-thumbnails"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "project-thumbnails", "p1.jpg"), []byte("jpeg"), 0o644))

	f := newFixture(t, nil, Config{FilesDir: dir})
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/project-thumbnails/p1.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())

	noFiles := newFixture(t, nil, Config{})
	rec = httptest.NewRecorder()
	noFiles.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/project-thumbnails/p1.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Deps{}, Config{})
	assert.Error(t, err)
	_, err = NewServer(Deps{Capturer: &fakeCapturer{}}, Config{})
	assert.Error(t, err)
	_, err = NewServer(Deps{Capturer: &fakeCapturer{}, Projects: storememory.NewProjectStore()}, Config{})
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusInternalServerError, statusFor(thumbnail.KindPersistenceFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(thumbnail.KindInternal))
	assert.Equal(t, http.StatusNotFound, statusFor(thumbnail.KindNotFound))
}
