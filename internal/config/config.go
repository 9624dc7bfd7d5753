// Package config loads and validates reviewer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. REVIEWER_SERVER_PORT.
const EnvPrefix = "REVIEWER"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendMinIO    = "minio"
	BackendPostgres = "postgres"
)

// KnownSources lists the discovery sources the service can build.
var KnownSources = []string{"producthunt", "hackernews", "reddit"}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Renderer     RendererConfig     `mapstructure:"renderer"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	// Driver is memory or postgres.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// AutoMigrate applies the schema on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig locates the Redis instance backing the API rate limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects where screenshots and videos live.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	// PublicBaseURL prefixes object keys for platforms that fetch media by URL.
	PublicBaseURL string      `mapstructure:"public_base_url"`
	MinIO         MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig holds S3-compatible connection settings.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// PubSubConfig holds metadata for pipeline event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// BrowserConfig sizes the headless browser pool.
type BrowserConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PoolSize      int           `mapstructure:"pool_size"`
	RecycleAfter  int           `mapstructure:"recycle_after"`
	Headless      bool          `mapstructure:"headless"`
	NoSandbox     bool          `mapstructure:"no_sandbox"`
	UserAgent     string        `mapstructure:"user_agent"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
}

// DiscoveryConfig configures the product sources.
type DiscoveryConfig struct {
	Sources []string      `mapstructure:"sources"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Schedule is a cron expression; empty disables scheduled discovery.
	Schedule           string   `mapstructure:"schedule"`
	UserAgent          string   `mapstructure:"user_agent"`
	RequestsPerSecond  float64  `mapstructure:"requests_per_second"`
	Burst              int      `mapstructure:"burst"`
	HackerNewsURL      string   `mapstructure:"hackernews_url"`
	RedditURL          string   `mapstructure:"reddit_url"`
	Subreddits         []string `mapstructure:"subreddits"`
	ProductHuntToken   string   `mapstructure:"producthunt_token"`
	ProductHuntAPIURL  string   `mapstructure:"producthunt_api_url"`
	ProductHuntPageURL string   `mapstructure:"producthunt_page_url"`
}

// LLMConfig configures the Messages API client.
type LLMConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RendererConfig locates the video renderer service.
type RendererConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryConfig is the default policy for external calls.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DistributionConfig configures the platform publishers.
type DistributionConfig struct {
	RequireApproval bool `mapstructure:"require_approval"`
	// DryRun records uploads in memory instead of contacting platforms.
	DryRun    bool            `mapstructure:"dry_run"`
	YouTube   YouTubeConfig   `mapstructure:"youtube"`
	TikTok    TikTokConfig    `mapstructure:"tiktok"`
	Instagram InstagramConfig `mapstructure:"instagram"`
}

// YouTubeConfig holds OAuth credentials for uploads.
type YouTubeConfig struct {
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	RefreshToken  string `mapstructure:"refresh_token"`
	PrivacyStatus string `mapstructure:"privacy_status"`
}

// Enabled reports whether enough credentials are present to upload.
func (c YouTubeConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// TikTokConfig holds the Content Posting API token.
type TikTokConfig struct {
	AccessToken  string `mapstructure:"access_token"`
	BaseURL      string `mapstructure:"base_url"`
	PrivacyLevel string `mapstructure:"privacy_level"`
}

// InstagramConfig holds Graph API credentials.
type InstagramConfig struct {
	AccessToken       string `mapstructure:"access_token"`
	BusinessAccountID string `mapstructure:"business_account_id"`
	BaseURL           string `mapstructure:"base_url"`
}

// PipelineConfig governs the stage orchestrator and auto-advance workers.
type PipelineConfig struct {
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	// Workers is the auto-advance pool size; 0 disables auto-advance.
	Workers     int           `mapstructure:"workers"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	VideoFormat string        `mapstructure:"video_format"`
	EventsTopic string        `mapstructure:"events_topic"`
}

// RateLimitConfig configures the Redis sliding-window limiter on POST routes.
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// Load builds a Config from disk and environment. With an empty path the
// working directory and /etc/reviewer are searched for config.yaml; a missing
// file there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reviewer/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", BackendMemory)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	// Bound explicitly so AutomaticEnv sees the keys during Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.base_dir", "data/blobs")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "reviewer-events")
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.recycle_after", 10)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.user_agent", "agentic-reviewer/0.1")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.page_timeout", "30s")
	v.SetDefault("discovery.sources", KnownSources)
	v.SetDefault("discovery.timeout", "2m")
	v.SetDefault("discovery.schedule", "")
	v.SetDefault("discovery.user_agent", "agentic-reviewer/0.1")
	v.SetDefault("discovery.requests_per_second", 2.0)
	v.SetDefault("discovery.burst", 2)
	v.SetDefault("discovery.producthunt_token", "")
	v.SetDefault("discovery.subreddits", []string{"SaaS", "startups"})
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("renderer.base_url", "")
	v.SetDefault("renderer.timeout", "5m")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("distribution.require_approval", true)
	v.SetDefault("distribution.dry_run", false)
	v.SetDefault("distribution.youtube.privacy_status", "private")
	v.SetDefault("distribution.tiktok.privacy_level", "SELF_ONLY")
	for _, key := range []string{
		"server.api_key",
		"storage.minio.endpoint", "storage.minio.access_key", "storage.minio.secret_key",
		"llm.base_url",
		"distribution.youtube.client_id", "distribution.youtube.client_secret", "distribution.youtube.refresh_token",
		"distribution.tiktok.access_token", "distribution.tiktok.base_url",
		"distribution.instagram.access_token", "distribution.instagram.business_account_id", "distribution.instagram.base_url",
		"discovery.hackernews_url", "discovery.reddit_url", "discovery.producthunt_api_url", "discovery.producthunt_page_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("pipeline.stage_timeout", "10m")
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.retry_delay", "30s")
	v.SetDefault("pipeline.video_format", "youtube_long")
	v.SetDefault("pipeline.events_topic", "")
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.max_requests", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Database.Driver {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.driver is postgres")
		}
	default:
		return fmt.Errorf("database.driver %q must be memory or postgres", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case BackendMinIO:
		if c.Storage.Bucket == "" || c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("storage.bucket and storage.minio.endpoint must be set for the minio backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be memory, local, gcs or minio", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Browser.Enabled && c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0 when the browser is enabled")
	}
	for _, name := range c.Discovery.Sources {
		if !slices.Contains(KnownSources, name) {
			return fmt.Errorf("discovery.sources: unknown source %q", name)
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay >= 0")
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must be >= 0")
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.stage_timeout must be > 0")
	}
	if c.RateLimit.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when ratelimit is enabled")
		}
		if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("ratelimit.window and ratelimit.max_requests must be > 0")
		}
	}
	return nil
}
