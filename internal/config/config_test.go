package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, BackendMemory, cfg.Database.Driver)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, KnownSources, cfg.Discovery.Sources)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, time.Second, cfg.Retry.BaseDelay)
	require.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	require.Equal(t, 10*time.Minute, cfg.Pipeline.StageTimeout)
	require.True(t, cfg.Distribution.RequireApproval)
	require.False(t, cfg.RateLimit.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
logging:
  development: false
database:
  driver: postgres
  dsn: postgres://reviewer@localhost/reviewer
storage:
  backend: minio
  bucket: media
  public_base_url: https://cdn.example.com
  minio:
    endpoint: localhost:9000
discovery:
  sources: [hackernews]
  schedule: "0 */6 * * *"
  timeout: 45s
retry:
  max_attempts: 5
  base_delay: 250ms
  max_delay: 2s
distribution:
  require_approval: false
  youtube:
    client_id: id
    client_secret: shh
    refresh_token: tok
pipeline:
  workers: 4
ratelimit:
  enabled: true
  window: 30s
  max_requests: 5
redis:
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "secret", cfg.Server.APIKey)
	require.Equal(t, BackendPostgres, cfg.Database.Driver)
	require.Equal(t, "localhost:9000", cfg.Storage.MinIO.Endpoint)
	require.Equal(t, []string{"hackernews"}, cfg.Discovery.Sources)
	require.Equal(t, 45*time.Second, cfg.Discovery.Timeout)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	require.True(t, cfg.Distribution.YouTube.Enabled())
	require.False(t, cfg.Distribution.RequireApproval)
	require.Equal(t, 4, cfg.Pipeline.Workers)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REVIEWER_SERVER_PORT", "7070")
	t.Setenv("REVIEWER_LLM_API_KEY", "sk-test")
	t.Setenv("REVIEWER_DISTRIBUTION_TIKTOK_ACCESS_TOKEN", "tt")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.Equal(t, "tt", cfg.Distribution.TikTok.AccessToken)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func validConfig() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		Database:  DatabaseConfig{Driver: BackendMemory},
		Storage:   StorageConfig{Backend: BackendMemory},
		Browser:   BrowserConfig{Enabled: true, PoolSize: 3},
		Discovery: DiscoveryConfig{Sources: []string{"reddit"}},
		Retry:     RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		Pipeline:  PipelineConfig{StageTimeout: time.Minute},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = BackendPostgres }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.bucket"},
		{"minio without endpoint", func(c *Config) {
			c.Storage.Backend = BackendMinIO
			c.Storage.Bucket = "media"
		}, "storage.minio.endpoint"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"pubsub without project", func(c *Config) { c.PubSub.Enabled = true }, "pubsub.project_id"},
		{"empty browser pool", func(c *Config) { c.Browser.PoolSize = 0 }, "browser.pool_size"},
		{"unknown source", func(c *Config) { c.Discovery.Sources = []string{"digg"} }, "digg"},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"inverted delays", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "retry.max_delay"},
		{"negative workers", func(c *Config) { c.Pipeline.Workers = -1 }, "pipeline.workers"},
		{"ratelimit without redis", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, Window: time.Minute, MaxRequests: 1}
		}, "redis.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
