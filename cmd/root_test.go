package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/app"
	"github.com/JakeFAU/site-thumbnailer/internal/config"
	"github.com/JakeFAU/site-thumbnailer/internal/reconcile"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("THUMBNAILER_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("THUMBNAILER_LOGGING_DEVELOPMENT", "false")
	t.Setenv("THUMBNAILER_LOGGING_LEVEL", "error")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "--user", "user-1", "--email", "u1@example.com")
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	authn, err := app.NewJWT(cfg)
	require.NoError(t, err)
	id, err := authn.Authenticate(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, thumbnail.Identity{UserID: "user-1", Email: "u1@example.com"}, id)
}

func TestTokenCommandRequiresUser(t *testing.T) {
	_, err := execute(t, "token")
	assert.Error(t, err)
}

func TestReconcileDryRun(t *testing.T) {
	out, err := execute(t, "reconcile", "--dry-run")
	require.NoError(t, err)

	var report reconcile.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	assert.Zero(t, report.Scanned)
}

func TestCaptureRejectsInvalidURL(t *testing.T) {
	_, err := execute(t, "capture", "--url", "ftp://example.com", "--entity", "p1")
	require.Error(t, err)
	assert.Equal(t, thumbnail.KindInvalidInput, thumbnail.KindOf(err))
}

func TestCaptureRequiresFlags(t *testing.T) {
	_, err := execute(t, "capture", "--url", "https://example.com")
	assert.Error(t, err)
}

func TestConfigFlag(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "token", "--user", "u")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_issuer: from-file\n"), 0o600))
	out, err := execute(t, "--config", path, "token", "--user", "u")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestServeReportsBuildFailure(t *testing.T) {
	orig := buildApp
	buildApp = func(context.Context, config.Config, *zap.Logger) (*app.App, error) {
		return nil, errors.New("redis unreachable")
	}
	t.Cleanup(func() { buildApp = orig })

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unreachable")
}
