// Package main is the entrypoint for the Raven filing job server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/raven/internal/ai"
	"github.com/kiranshivaraju/raven/internal/api"
	"github.com/kiranshivaraju/raven/internal/api/handler"
	mw "github.com/kiranshivaraju/raven/internal/api/middleware"
	"github.com/kiranshivaraju/raven/internal/api/response"
	"github.com/kiranshivaraju/raven/internal/bus"
	"github.com/kiranshivaraju/raven/internal/cache"
	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/internal/config"
	"github.com/kiranshivaraju/raven/internal/filing"
	"github.com/kiranshivaraju/raven/internal/intake"
	"github.com/kiranshivaraju/raven/internal/metrics"
	"github.com/kiranshivaraju/raven/internal/ratelimit"
	"github.com/kiranshivaraju/raven/internal/retry"
	"github.com/kiranshivaraju/raven/internal/store"
	"github.com/kiranshivaraju/raven/internal/worker"
	"github.com/lmittmann/tint"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("/secrets/.env")

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsDevelopment() {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("config loaded", "llm_provider", cfg.LLM.Provider, "store", cfg.Store.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Redis cache, shared by the rate limiter, status mirror and redis store
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
	}

	// 3. Job store
	backend, closeBackend, err := openBackend(ctx, cfg, redisCache)
	if err != nil {
		return err
	}
	defer closeBackend()
	jobs := store.NewJobStore(backend, store.WithPrefix(cfg.Store.Prefix))
	slog.Info("job store ready", "backend", cfg.Store.Backend)

	// 4. Optional NATS bus
	var nc *bus.Client
	if cfg.NATS.URL != "" {
		nc, err = bus.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	registry := worker.NewRegistry()
	m := metrics.New(func() int { return len(registry.Active()) })

	// 5. Reasoning provider behind the shared rate limiter
	provider, err := ai.NewProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	limiter := ratelimit.New(cfg.LLM.MaxRPM, cfg.LLM.MaxTPM, cfg.LLM.Window,
		ratelimit.WithWaitObserver(m.LimiterWaited))
	remote := retry.RemotePolicy()
	remote.MaxAttempts = cfg.LLM.MaxAttempts
	reasoner := classify.NewReasoner(provider, limiter,
		classify.WithPolicy(remote),
		classify.WithVerdictObserver(m.Verdict))

	var (
		source      filing.Source           = filing.DirSource{Root: cfg.Filing.SourceDir}
		transcripts filing.TranscriptSource = filing.DirTranscripts{Root: cfg.Filing.SourceDir}
		archive     *filing.ArchiveClient
	)
	if cfg.Filing.ArchiveURL != "" {
		archive = filing.NewArchiveClient(cfg.Filing.ArchiveURL, cfg.Filing.ArchiveToken,
			cfg.Filing.UserAgent, cfg.Filing.ArchiveTimeout)
		source, transcripts = archive.Filings(), archive.Transcripts()
		slog.Info("using filing archive", "url", cfg.Filing.ArchiveURL)
	}

	processor := filing.NewProcessor(filing.Dependencies{
		Source:      source,
		Transcripts: transcripts,
		Splitter:    filing.TextSplitter{},
		Sink:        filing.DirSink{Root: cfg.Filing.OutputDir, DataVersion: cfg.Filing.DataVersion},
		Folders:     filing.NewFolderCache(filing.DirFolders{Root: cfg.Filing.OutputDir}),
		Classifier:  reasoner,
		Jobs:        jobs,
	}, cfg.LLM.Workers, cfg.Filing.ContextWindow)

	// 6. Worker pool
	notifiers := worker.MultiNotifier{m}
	if redisCache != nil {
		notifiers = append(notifiers, cache.NewStatusNotifier(redisCache, cache.DefaultStatusTTL))
	}
	if nc != nil {
		notifiers = append(notifiers, bus.NewStatusPublisher(nc, cfg.NATS.StatusSubject))
	}

	policy := retry.WorkerPolicy()
	policy.MaxAttempts = cfg.Worker.MaxAttempts
	policy.Initial = cfg.Worker.BackoffBase

	pool := worker.New(jobs, registry, processor.Process,
		worker.WithSize(cfg.Worker.PoolSize),
		worker.WithPolicy(policy),
		worker.WithNotifier(notifiers),
		worker.WithAttemptHook(m.AttemptFailed),
	)
	pool.Start(ctx)

	if cfg.Worker.RecoverOnStart {
		n, err := pool.Recover(ctx)
		if err != nil {
			slog.Warn("job recovery failed", "error", err)
		} else if n > 0 {
			slog.Info("recovered queued jobs", "count", n)
		}
	}

	var intakeOpts []intake.Option
	if redisCache != nil {
		intakeOpts = append(intakeOpts, intake.WithStatusCache(redisCache))
	}
	svc := intake.NewService(jobs, registry, pool, intakeOpts...)

	if nc != nil {
		if err := bus.SubscribeSubmissions(nc, cfg.NATS.SubmitSubject, svc); err != nil {
			return err
		}
	}

	// 7. Build router with dependencies
	var rateLimit *mw.RateLimit
	if cfg.Server.RateLimit > 0 {
		rateLimit = mw.NewRateLimit(redisCache, cfg.Server.RateLimit)
	}

	checks := map[string]pinger{"store": jobs}
	if redisCache != nil {
		checks["cache"] = redisCache
	}
	if nc != nil {
		checks["bus"] = nc
	}
	if archive != nil {
		checks["archive"] = archive
	}

	router := api.NewRouter(api.Dependencies{
		Auth:        mw.NewAuth(cfg.Auth.APIKeyHash),
		RateLimit:   rateLimit,
		CORSOrigins: cfg.Server.CORSOrigins,

		HealthHandler:  healthHandler(checks),
		MetricsHandler: m.Handler(),
		ProcessHandler: handler.NewProcessHandler(svc),
		UpdatesHandler: handler.NewUpdatesHandler(svc),
		JobHandler:     handler.NewJobHandler(svc),
	})

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker shutdown: %w", err)
	}

	slog.Info("server stopped gracefully", "llm_usage", reasoner.CostSummary())
	return nil
}

// openBackend builds the configured record backend and returns a cleanup
// func for it.
func openBackend(ctx context.Context, cfg *config.Config, rc *cache.RedisCache) (store.Backend, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		slog.Warn("using in-memory job store; records are lost on restart")
		return store.NewMemoryBackend(), func() {}, nil
	case "sqlite":
		b, err := store.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return b, func() { b.Close() }, nil
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresBackend(pool), pool.Close, nil
	case "redis":
		if rc == nil {
			return nil, nil, fmt.Errorf("redis store requires REDIS_URL")
		}
		return store.NewRedisBackend(rc.Client()), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler pings every named dependency.
func healthHandler(deps map[string]pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		degraded := false
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				slog.Warn("health check failed", "service", name, "error", err)
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
