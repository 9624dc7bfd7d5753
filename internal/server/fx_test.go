package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/config"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestBuildInMemory(t *testing.T) {
	cfg := loadConfig(t, `
browser:
  enabled: false
discovery:
  schedule: "@every 1h"
pipeline:
  workers: 1
`)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	require.Nil(t, app.pgStore)
	require.Nil(t, app.pool)
	require.NotNil(t, app.queue)
	require.NotNil(t, app.dispatch)
	require.NotNil(t, app.scheduler)

	srv := httptest.NewServer(app.apiServer.Handler())
	t.Cleanup(srv.Close)
	for _, path := range []string{"/healthz", "/readyz", "/v1/stats", "/v1/products"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestBuildLocalStorageWithoutWorkers(t *testing.T) {
	cfg := loadConfig(t, `
browser:
  enabled: false
storage:
  backend: local
  base_dir: `+t.TempDir()+`
pipeline:
  workers: 0
`)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	require.Nil(t, app.queue)
	require.Nil(t, app.dispatch)
	require.Nil(t, app.scheduler)
	require.NotNil(t, app.blobs)
}

func TestDryRunPublishersCoverEveryPlatform(t *testing.T) {
	cfg := loadConfig(t, `
browser:
  enabled: false
distribution:
  dry_run: true
`)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	registry, err := app.publishers(context.Background())
	require.NoError(t, err)
	for _, p := range []pipeline.Platform{pipeline.PlatformYouTube, pipeline.PlatformTikTok, pipeline.PlatformInstagram} {
		_, err := registry.Get(p)
		require.NoError(t, err, string(p))
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	cfg := loadConfig(t, "database:\n  driver: memory\n")
	err := Migrate(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "postgres")
}

func TestEventsTopicPrefersPipelineOverride(t *testing.T) {
	cfg := &config.Config{}
	require.Empty(t, eventsTopic(cfg))

	cfg.PubSub.Topic = "reviewer-events"
	require.Equal(t, "reviewer-events", eventsTopic(cfg))

	cfg.Pipeline.EventsTopic = "pipeline"
	require.Equal(t, "pipeline", eventsTopic(cfg))
}
