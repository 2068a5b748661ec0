package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/kerf/internal"
	"github.com/DukeRupert/kerf/internal/ai"
	aimock "github.com/DukeRupert/kerf/internal/ai/mock"
	"github.com/DukeRupert/kerf/internal/ai/openai"
	"github.com/DukeRupert/kerf/internal/billing"
	"github.com/DukeRupert/kerf/internal/catalog"
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/email"
	"github.com/DukeRupert/kerf/internal/handler"
	"github.com/DukeRupert/kerf/internal/jobs"
	"github.com/DukeRupert/kerf/internal/ledger"
	"github.com/DukeRupert/kerf/internal/metrics"
	"github.com/DukeRupert/kerf/internal/middleware"
	"github.com/DukeRupert/kerf/internal/repository"
	"github.com/DukeRupert/kerf/internal/scheduler"
	"github.com/DukeRupert/kerf/internal/service"
	"github.com/DukeRupert/kerf/internal/storage"
	"github.com/DukeRupert/kerf/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	if cfg.APIToken == "" {
		logger.Warn("API_TOKEN is empty; API routes are unauthenticated")
	}

	shutdownTracing, err := internal.InitTracing(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Tracing shutdown error", "error", err)
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// ==========================================================================
	// Tier catalog and billing
	// ==========================================================================

	prices := billing.PriceConfig{
		StarterMonthlyPriceID: cfg.StripeStarterMonthlyPriceID,
		StarterYearlyPriceID:  cfg.StripeStarterYearlyPriceID,
		MakerMonthlyPriceID:   cfg.StripeMakerMonthlyPriceID,
		MakerYearlyPriceID:    cfg.StripeMakerYearlyPriceID,
		ProMonthlyPriceID:     cfg.StripeProMonthlyPriceID,
		ProYearlyPriceID:      cfg.StripeProYearlyPriceID,
	}

	baseCatalog, err := catalog.Default()
	if err != nil {
		return fmt.Errorf("tier catalog: %w", err)
	}
	cat, err := baseCatalog.WithPrices(prices.TierPrices())
	if err != nil {
		return fmt.Errorf("tier catalog prices: %w", err)
	}

	stripeService := billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = stripeService
	} else {
		logger.Warn("STRIPE_SECRET_KEY is empty; billing sessions are disabled")
	}

	processor, err := billing.NewProcessor(db, repo, stripeService, billing.NewDecoder(cat), billing.ProcessorConfig{
		Timeout:         cfg.WebhookTimeout,
		DedupCacheSize:  cfg.WebhookDedupCacheSize,
		ArchivePayloads: cfg.WebhookArchivePayloads,
	}, logger)
	if err != nil {
		return fmt.Errorf("webhook processor: %w", err)
	}

	// ==========================================================================
	// Usage ledger and services
	// ==========================================================================

	readiness := map[string]handler.Pinger{
		"database": handler.PingFunc(db.PingContext),
	}

	var usage ledger.Ledger
	switch cfg.UsageStore {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		readiness["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		usage = ledger.NewRedis(client)
	default:
		usage = ledger.NewPostgres(repo)
	}
	logger.Info("Usage ledger ready", "store", cfg.UsageStore, "timezone", loc.String())

	subscriptionService := service.NewSubscriptionService(repo, logger)
	quotaService := service.NewQuotaService(usage, cat, subscriptionService, service.QuotaConfig{Location: loc}, logger)

	store, err := storage.New(cfg.StorageProvider,
		storage.LocalConfig{BasePath: cfg.LocalStoragePath},
		storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	provider, err := newAIProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("AI provider initialization failed: %w", err)
	}

	// ==========================================================================
	// Background work
	// ==========================================================================

	var jobWorker *worker.Worker
	if cfg.WorkerEnabled {
		emailService, err := email.NewSMTPEmailService(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}, cfg.BaseURL, logger)
		if err != nil {
			return fmt.Errorf("email service initialization failed: %w", err)
		}

		workerCfg := worker.DefaultConfig()
		workerCfg.Concurrency = cfg.WorkerConcurrency
		workerCfg.PollInterval = cfg.WorkerPollInterval
		workerCfg.JobTimeout = cfg.WorkerJobTimeout
		if workerCfg.StaleJobThreshold <= workerCfg.JobTimeout {
			workerCfg.StaleJobThreshold = 2 * workerCfg.JobTimeout
		}
		if cfg.WebhookArchivePayloads {
			workerCfg.RequiredJobTypes = append(workerCfg.RequiredJobTypes, worker.JobTypeArchiveWebhookEvent)
		}

		jobWorker, err = worker.New(db, repo, workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		if err := jobWorker.Register(jobs.NewBillingEmailHandler(repo, emailService, cat, logger)); err != nil {
			return err
		}
		if err := jobWorker.Register(jobs.NewArchiveWebhookEventHandler(repo, store, logger)); err != nil {
			return err
		}
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.UsageArchiveSchedule = cfg.UsageArchiveSchedule
	schedCfg.JobCleanupSchedule = cfg.JobCleanupSchedule
	schedCfg.UsageRetentionDays = cfg.UsageRetentionDays
	schedCfg.Location = loc
	sched, err := scheduler.New(db, repo, schedCfg, logger)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()
	tokenAuth := middleware.NewTokenAuthMiddleware(cfg.APIToken, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute, logger)
	defer limiter.Close()
	quotaGate := middleware.NewQuotaMiddleware(quotaService, logger)

	protect := middleware.Stack(limiter.Limit, tokenAuth.RequireToken)

	mux := http.NewServeMux()

	// Unmatched routes get a JSON 404 instead of the default text body.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	handler.NewHealthHandler(readiness, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger).Handler(promhttp.Handler()))

	// Public, authenticated by the Stripe signature
	handler.NewWebhookHandler(processor, logger).RegisterRoutes(mux)

	handler.NewQuotaHandler(quotaService, logger).RegisterRoutes(mux, protect)
	handler.NewSubscriptionHandler(subscriptionService, cat, logger).RegisterRoutes(mux, protect)
	handler.NewGenerateHandler(quotaService, provider, logger).RegisterRoutes(mux, protect)
	handler.NewBillingHandler(billingService, subscriptionService, cfg.BaseURL, prices, logger).RegisterRoutes(mux, protect)
	handler.NewTemplateHandler(store, logger).RegisterRoutes(mux, protect,
		quotaGate.RequireQuota(domain.FeatureTemplateDownload, middleware.UserIDFromContext))

	// metrics.Middleware wraps the mux directly so it sees the matched pattern.
	root := middleware.Stack(
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
		metrics.Middleware,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(root, internal.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if jobWorker != nil {
		g.Go(func() error {
			if err := jobWorker.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			jobWorker.Stop()
			return nil
		})
	}

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.AIProvider, error) {
	switch cfg.AIProvider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			ProviderConfig: ai.ProviderConfig{
				MaxRetries:     cfg.AIMaxRetries,
				RetryBaseDelay: cfg.AIRetryBaseDelay,
				RequestTimeout: cfg.AIRequestTimeout,
			},
		}, logger)
	default:
		logger.Warn("Using mock AI provider")
		return aimock.New(logger), nil
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
