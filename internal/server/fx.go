// Package server builds the reviewer's dependency graph from configuration and
// runs the HTTP API, the auto-advance workers and the discovery scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/api"
	"github.com/JakeFAU/agentic-reviewer/internal/browser"
	"github.com/JakeFAU/agentic-reviewer/internal/clock/system"
	"github.com/JakeFAU/agentic-reviewer/internal/config"
	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
	"github.com/JakeFAU/agentic-reviewer/internal/dispatcher"
	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	"github.com/JakeFAU/agentic-reviewer/internal/distribution/instagram"
	distmemory "github.com/JakeFAU/agentic-reviewer/internal/distribution/memory"
	"github.com/JakeFAU/agentic-reviewer/internal/distribution/tiktok"
	"github.com/JakeFAU/agentic-reviewer/internal/distribution/youtube"
	collyfetcher "github.com/JakeFAU/agentic-reviewer/internal/fetcher/colly"
	"github.com/JakeFAU/agentic-reviewer/internal/headless/detector"
	"github.com/JakeFAU/agentic-reviewer/internal/id/uuid"
	"github.com/JakeFAU/agentic-reviewer/internal/llm"
	"github.com/JakeFAU/agentic-reviewer/internal/logging"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	hostlimit "github.com/JakeFAU/agentic-reviewer/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/agentic-reviewer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/agentic-reviewer/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/agentic-reviewer/internal/queue/memory"
	"github.com/JakeFAU/agentic-reviewer/internal/ratelimit"
	"github.com/JakeFAU/agentic-reviewer/internal/render"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
	"github.com/JakeFAU/agentic-reviewer/internal/scheduler"
	"github.com/JakeFAU/agentic-reviewer/internal/stage"
	gcsstorage "github.com/JakeFAU/agentic-reviewer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/agentic-reviewer/internal/storage/local"
	memoryStorage "github.com/JakeFAU/agentic-reviewer/internal/storage/memory"
	miniostorage "github.com/JakeFAU/agentic-reviewer/internal/storage/minio"
	pgstore "github.com/JakeFAU/agentic-reviewer/internal/storage/postgres"
	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
	"github.com/JakeFAU/agentic-reviewer/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store        pipeline.Store
	blobs        pipeline.BlobStore
	events       pipeline.Publisher
	pgStore      *pgstore.Store
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	redisClient  *redis.Client
	pool         *browser.Pool

	discovery    *discovery.Service
	orchestrator *stage.Orchestrator
	queue        *queueMemory.Queue
	dispatch     *dispatcher.Dispatcher
	scheduler    *scheduler.Scheduler
	apiServer    *api.Server
}

// Build creates the application's dependencies. Every client opened here is
// released by Close, including when Build itself fails part way.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	telemetry.InitPropagation()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Backend))

	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	app.setupBrowser()

	ids := uuid.New()
	clock := system.New()
	policy := retryPolicy(cfg.Retry)

	if cfg.Pipeline.Workers > 0 {
		app.queue = queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Discovery.UserAgent,
		Timeout:   30 * time.Second,
		Limiter: hostlimit.New(hostlimit.Config{
			DefaultRPS:   cfg.Discovery.RequestsPerSecond,
			DefaultBurst: cfg.Discovery.Burst,
		}),
	})
	aggregator := discovery.NewAggregator(cfg.Discovery.Timeout, logger.Named("discovery"),
		app.sources(cfg.Discovery, fetcher, policy)...)

	stageCfg, err := app.stageConfig(ctx, policy)
	if err != nil {
		return nil, err
	}
	stageCfg.IDs = ids
	stageCfg.Clock = clock
	if app.orchestrator, err = stage.New(stageCfg); err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	svcCfg := discovery.ServiceConfig{
		Store:     app.store,
		Runner:    aggregator,
		IDs:       ids,
		Clock:     clock,
		Publisher: app.events,
		Topic:     eventsTopic(cfg),
		Logger:    logger.Named("discovery"),
	}
	if app.queue != nil {
		app.dispatch = dispatcher.New(app.queue, cfg.Pipeline.Workers, app.orchestrator, workerConfig(cfg.Pipeline), logger.Named("worker"))
		svcCfg.Queue = app.dispatch
	}
	if app.discovery, err = discovery.NewService(svcCfg); err != nil {
		return nil, fmt.Errorf("discovery init failed: %w", err)
	}

	if cfg.Discovery.Schedule != "" {
		app.scheduler, err = scheduler.New(scheduler.Config{
			Spec:    cfg.Discovery.Schedule,
			Sources: cfg.Discovery.Sources,
			Timeout: cfg.Discovery.Timeout * 2,
		}, app.discovery, logger.Named("scheduler"))
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	deps := api.Deps{Store: app.store, Discoverer: app.discovery, Stages: app.orchestrator}
	if app.pgStore != nil {
		deps.Ready = append(deps.Ready, app.pgStore)
	}
	if cfg.RateLimit.Enabled {
		if app.redisClient, err = ratelimit.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		limiter, err := ratelimit.New(app.redisClient, ratelimit.Config{
			Window:      cfg.RateLimit.Window,
			MaxRequests: cfg.RateLimit.MaxRequests,
		})
		if err != nil {
			return nil, fmt.Errorf("rate limiter init failed: %w", err)
		}
		deps.Limiter = limiter
		deps.Ready = append(deps.Ready, redisPinger{app.redisClient})
	}
	app.apiServer = api.NewServer(deps, api.Config{
		APIKey:      cfg.Server.APIKey,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, logger.Named("api"))

	return app, nil
}

// Discover runs one discovery pass outside the server.
func (a *App) Discover(ctx context.Context, sources []string) (discovery.Report, error) {
	return a.discovery.Discover(ctx, sources)
}

// Run serves HTTP and runs the workers and scheduler until ctx is canceled or
// the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if a.dispatch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Pipeline.Workers))
			a.dispatch.Run(ctx)
		}()
	}
	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("discovery scheduler started", zap.String("schedule", a.cfg.Discovery.Schedule))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	wg.Wait()
	return a.Close()
}

// Close releases every client the app opened.
func (a *App) Close() error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

// Migrate applies the Postgres schema without building the rest of the app.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Driver != config.BackendPostgres {
		return fmt.Errorf("migrate needs database.driver=postgres, got %q", cfg.Database.Driver)
	}
	store, err := openPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema applied")
	return nil
}

func openPostgres(ctx context.Context, db config.DatabaseConfig) (*pgstore.Store, error) {
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	return store, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.Driver != config.BackendPostgres {
		a.logger.Warn("using in-memory record store; data is lost on restart")
		a.store = memoryStorage.NewStore()
		return nil
	}
	store, err := openPostgres(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	a.pgStore = store
	a.store = store
	if a.cfg.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	a.logger.Info("postgres record store initialized")
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
	case config.BackendMinIO:
		m := a.cfg.Storage.MinIO
		a.blobs, err = miniostorage.Dial(ctx, miniostorage.Config{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    a.cfg.Storage.Bucket,
			UseSSL:    m.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("minio blob store init failed: %w", err)
		}
		a.logger.Info("using MinIO storage backend", zap.String("endpoint", m.Endpoint), zap.String("bucket", a.cfg.Storage.Bucket))
	case config.BackendLocal:
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memoryStorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("Pub/Sub disabled, using in-memory event publisher")
		a.events = memorypublisher.NewBounded(1000, a.logger.Named("events"))
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(a.pubsubClient)
	a.events = a.gcpPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic))
	return nil
}

func (a *App) setupBrowser() {
	b := a.cfg.Browser
	if !b.Enabled {
		a.logger.Warn("browser disabled; enrichment and Product Hunt scraping are unavailable")
		return
	}
	pool, err := browser.NewPool(browser.Config{Capacity: b.PoolSize, RecycleAfter: b.RecycleAfter},
		browser.ChromedpLauncher(browser.ChromedpConfig{
			UserAgent:     b.UserAgent,
			Headless:      b.Headless,
			NoSandbox:     b.NoSandbox,
			LaunchTimeout: b.LaunchTimeout,
		}), a.logger.Named("browser"))
	if err != nil {
		// NewPool only fails without a launcher.
		a.logger.Error("browser pool init failed", zap.Error(err))
		return
	}
	a.pool = pool
	a.logger.Info("browser pool ready", zap.Int("capacity", b.PoolSize), zap.Int("recycle_after", b.RecycleAfter))
}

func (a *App) renderer() *browser.PoolRenderer {
	if a.pool == nil {
		return nil
	}
	return &browser.PoolRenderer{Pool: a.pool, Timeout: a.cfg.Browser.PageTimeout}
}

func (a *App) sources(cfg config.DiscoveryConfig, fetcher discovery.Fetcher, policy retry.Policy) []discovery.Source {
	sources := []discovery.Source{
		&discovery.HackerNews{
			BaseURL: cfg.HackerNewsURL,
			Fetcher: fetcher,
			Policy:  policy.Named("hackernews"),
			Logger:  a.logger.Named("hackernews"),
		},
		&discovery.Reddit{
			BaseURL:    cfg.RedditURL,
			UserAgent:  cfg.UserAgent,
			Subreddits: cfg.Subreddits,
			Fetcher:    fetcher,
			Policy:     policy.Named("reddit"),
			Logger:     a.logger.Named("reddit"),
		},
	}
	ph := &discovery.ProductHunt{
		Token:    cfg.ProductHuntToken,
		APIURL:   cfg.ProductHuntAPIURL,
		PageURL:  cfg.ProductHuntPageURL,
		Fetcher:  fetcher,
		Detector: detector.NewHeuristic(0),
		Policy:   policy.Named("producthunt"),
	}
	if r := a.renderer(); r != nil {
		ph.Renderer = r
	}
	return append(sources, ph)
}

func (a *App) stageConfig(ctx context.Context, policy retry.Policy) (stage.Config, error) {
	cfg := a.cfg
	policies := stage.DefaultPolicies()
	policies.Capture = policy.Named("capture")
	policies.Distribute = policy.Named("distribute")
	policies.LLM = policy.Named("llm")
	policies.LLM.Timeout = cfg.LLM.Timeout
	policies.Render.BaseDelay, policies.Render.MaxDelay = policy.BaseDelay, policy.MaxDelay
	if cfg.Renderer.Timeout > 0 {
		policies.Render.Timeout = cfg.Renderer.Timeout
	}

	out := stage.Config{
		Store:           a.store,
		Blobs:           a.blobs,
		Publisher:       a.events,
		Topic:           eventsTopic(cfg),
		Policies:        policies,
		Timeout:         cfg.Pipeline.StageTimeout,
		RequireApproval: cfg.Distribution.RequireApproval,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		Logger:          a.logger.Named("stage"),
	}
	if r := a.renderer(); r != nil {
		out.Capturer = r
	}
	if cfg.LLM.APIKey != "" {
		client := llm.NewClient(llm.Config{
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		out.Summarizer = llm.NewSummarizer(client)
		out.Scorer = llm.NewScorer(client)
	} else {
		a.logger.Warn("llm.api_key not set; summarize and score are unavailable")
	}
	if cfg.Renderer.BaseURL != "" {
		client, err := render.NewClient(cfg.Renderer.BaseURL, nil)
		if err != nil {
			return stage.Config{}, fmt.Errorf("renderer init failed: %w", err)
		}
		out.Renderer = client
	} else {
		a.logger.Warn("renderer.base_url not set; video rendering is unavailable")
	}
	registry, err := a.publishers(ctx)
	if err != nil {
		return stage.Config{}, err
	}
	out.Publishers = registry
	return out, nil
}

func (a *App) publishers(ctx context.Context) (*distribution.Registry, error) {
	d := a.cfg.Distribution
	if d.DryRun {
		a.logger.Warn("distribution dry run: uploads are recorded in memory only")
		return distribution.NewRegistry(
			distmemory.New(pipeline.PlatformYouTube),
			distmemory.New(pipeline.PlatformTikTok),
			distmemory.New(pipeline.PlatformInstagram),
		), nil
	}
	registry := distribution.NewRegistry()
	if d.YouTube.Enabled() {
		yt, err := youtube.New(ctx, youtube.Config{
			ClientID:      d.YouTube.ClientID,
			ClientSecret:  d.YouTube.ClientSecret,
			RefreshToken:  d.YouTube.RefreshToken,
			PrivacyStatus: d.YouTube.PrivacyStatus,
		})
		if err != nil {
			return nil, fmt.Errorf("youtube publisher init failed: %w", err)
		}
		registry.Register(yt)
	}
	if d.TikTok.AccessToken != "" {
		tt, err := tiktok.New(tiktok.Config{
			AccessToken:  d.TikTok.AccessToken,
			BaseURL:      d.TikTok.BaseURL,
			PrivacyLevel: d.TikTok.PrivacyLevel,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("tiktok publisher init failed: %w", err)
		}
		registry.Register(tt)
	}
	if d.Instagram.AccessToken != "" && d.Instagram.BusinessAccountID != "" {
		ig, err := instagram.New(instagram.Config{
			AccessToken:       d.Instagram.AccessToken,
			BusinessAccountID: d.Instagram.BusinessAccountID,
			BaseURL:           d.Instagram.BaseURL,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("instagram publisher init failed: %w", err)
		}
		registry.Register(ig)
	}
	a.logger.Info("platform publishers registered", zap.Any("platforms", registry.Platforms()))
	return registry, nil
}

func retryPolicy(c config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.MaxAttempts
	p.BaseDelay = c.BaseDelay
	p.MaxDelay = c.MaxDelay
	return p
}

func workerConfig(c config.PipelineConfig) worker.Config {
	return worker.Config{
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
		Format:      pipeline.Format(c.VideoFormat),
	}
}

// eventsTopic prefers the pipeline override, then the Pub/Sub topic.
func eventsTopic(cfg *config.Config) string {
	if cfg.Pipeline.EventsTopic != "" {
		return cfg.Pipeline.EventsTopic
	}
	return cfg.PubSub.Topic
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
