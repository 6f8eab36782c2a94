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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/contractreview/internal/adapter/http"
	"github.com/Strob0t/contractreview/internal/adapter/litellm"
	cfmcp "github.com/Strob0t/contractreview/internal/adapter/mcp"
	cfnats "github.com/Strob0t/contractreview/internal/adapter/nats"
	"github.com/Strob0t/contractreview/internal/adapter/natskv"
	cfotel "github.com/Strob0t/contractreview/internal/adapter/otel"
	"github.com/Strob0t/contractreview/internal/adapter/postgres"
	"github.com/Strob0t/contractreview/internal/adapter/reviewer"
	"github.com/Strob0t/contractreview/internal/adapter/ristretto"
	"github.com/Strob0t/contractreview/internal/adapter/tiered"
	"github.com/Strob0t/contractreview/internal/adapter/ws"
	"github.com/Strob0t/contractreview/internal/config"
	"github.com/Strob0t/contractreview/internal/logger"
	"github.com/Strob0t/contractreview/internal/middleware"
	"github.com/Strob0t/contractreview/internal/port/a2a"
	"github.com/Strob0t/contractreview/internal/port/analyzer"
	"github.com/Strob0t/contractreview/internal/port/cache"
	"github.com/Strob0t/contractreview/internal/resilience"
	"github.com/Strob0t/contractreview/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	appLogger, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(appLogger)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent", cfg.Lifecycle.MaxConcurrent,
		"analysis_timeout", cfg.Lifecycle.AnalysisTimeout,
		"retention", cfg.Lifecycle.Retention,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := cfotel.Setup(ctx, cfg.OTEL, cfg.Logging.Service, cfg.Agent.Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure (all optional) ---

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Drain() }()
		slog.Info("nats connected")
	}

	// --- Analyzer ---

	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Timeout)
	llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	var contractAnalyzer analyzer.Analyzer = reviewer.New(llm, cfg.LiteLLM.Model, cfg.LiteLLM.Temperature)

	resultCache, closeCache, err := newResultCache(ctx, cfg.Cache, queue)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer closeCache()
	contractAnalyzer = service.NewCachedAnalyzer(contractAnalyzer, resultCache, cfg.Cache.TTL, cfg.LiteLLM.Model)

	// --- Task lifecycle core ---

	store := service.NewTaskStore(cfg.Lifecycle.MaxTasks)
	hub := service.NewEventHub(store, service.HubConfig{
		BufferSize:   cfg.Hub.BufferSize,
		DeliveryWait: cfg.Hub.DeliveryWait,
	})
	hub.SetMetrics(metrics)
	manager := service.NewLifecycleManager(store, hub, contractAnalyzer, service.LifecycleConfig{
		MaxConcurrent:   cfg.Lifecycle.MaxConcurrent,
		AnalysisTimeout: cfg.Lifecycle.AnalysisTimeout,
		Retention:       cfg.Lifecycle.Retention,
		SweepInterval:   cfg.Lifecycle.SweepInterval,
	})
	manager.SetMetrics(metrics)

	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		manager.SetArchive(postgres.NewArchive(pool))
		slog.Info("task archive enabled")
	}

	if queue != nil {
		manager.SetRelay(service.NewRelay(queue))
		stopCancels, err := service.ListenForCancels(ctx, queue, manager)
		if err != nil {
			return fmt.Errorf("cancel listener: %w", err)
		}
		defer stopCancels()
	}

	manager.StartRetention(ctx)

	// --- HTTP ---

	card := a2a.BuildAgentCard(a2a.CardInfo{
		Name:        cfg.Agent.Name,
		Description: cfg.Agent.Description,
		Version:     cfg.Agent.Version,
		BaseURL:     cfg.Server.BaseURL,
	})
	wsHub := ws.NewHub(manager)
	handlers := cfhttp.NewHandlers(manager, card, cfhttp.Options{
		Version:   cfg.Agent.Version,
		BodyLimit: cfg.Server.BodyLimit,
		WebSocket: wsHub.HandleWS,
	})

	protect := []func(http.Handler) http.Handler{middleware.APIKey(cfg.Auth.APIKey)}
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Rate.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateConfig{
			RequestsPerSecond: cfg.Rate.RequestsPerSecond,
			Burst:             cfg.Rate.Burst,
		})
		protect = append(protect, limiter.Handler)
		g.Go(func() error {
			limiter.RunCleanup(gctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
			return nil
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))

	cfhttp.MountRoutes(r, handlers, protect...)

	var mcpSrv *cfmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = cfmcp.NewServer(cfmcp.ServerConfig{Name: cfg.Logging.Service, Version: cfg.Agent.Version}, manager)
		r.With(protect...).Handle(cfg.MCP.Path, mcpSrv.Handler())
		slog.Info("mcp server mounted", "path", cfg.MCP.Path)
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.RequestTimeout,
		// No WriteTimeout: SSE and WebSocket streams stay open until the task ends.
		IdleTimeout: 120 * time.Second,
	}

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Cancel in-flight analyses first so open streams receive their
		// final CANCELED event before connections are closed.
		if err := manager.Shutdown(sctx); err != nil {
			slog.Error("lifecycle shutdown", "error", err)
		}
		wsHub.CloseAll()
		if mcpSrv != nil {
			if err := mcpSrv.Shutdown(sctx); err != nil {
				slog.Error("mcp shutdown", "error", err)
			}
		}
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// newResultCache builds the analysis cache: in-process L1, plus a NATS KV
// L2 when a bucket is configured and NATS is connected.
func newResultCache(ctx context.Context, cfg config.Cache, queue *cfnats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("l1: %w", err)
	}
	if queue == nil || cfg.L2Bucket == "" {
		return l1, l1.Close, nil
	}
	kv, err := queue.KeyValue(ctx, cfg.L2Bucket, cfg.TTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("l2 bucket %s: %w", cfg.L2Bucket, err)
	}
	slog.Info("analysis cache l2 enabled", "bucket", cfg.L2Bucket)
	return tiered.New(l1, natskv.New(kv), time.Hour), l1.Close, nil
}
