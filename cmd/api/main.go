package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/healme-core/cmd/mainconfig"
	"github.com/wolfman30/healme-core/internal/api/router"
	"github.com/wolfman30/healme-core/internal/app/bootstrap"
	"github.com/wolfman30/healme-core/internal/compliance"
	appconfig "github.com/wolfman30/healme-core/internal/config"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/healme-core/internal/http/middleware"
	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/observability/metrics"
	"github.com/wolfman30/healme-core/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting healme API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dynamoClient *dynamodb.Client
	if !cfg.UseMemoryStore {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		dynamoClient = dynamodb.NewFromConfig(awsCfg)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	var outbox *events.OutboxStore
	if pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger); pool != nil {
		defer pool.Close()
		outbox = events.NewOutboxStore(pool)
	}
	var audit *compliance.AuditService
	if db := bootstrap.OpenSQLDB(cfg.DatabaseURL, logger); db != nil {
		defer func() { _ = db.Close() }()
		audit = compliance.NewAuditService(db)
	}

	bus := bootstrap.BuildBus(cfg, logger)
	defer func() { _ = bus.Close() }()

	metricsHandler, schedulingMetrics := setupMetrics()

	core := bootstrap.BuildCore(bootstrap.CoreDeps{
		Config:  cfg,
		Store:   bootstrap.BuildDocStore(dynamoClient, cfg, logger),
		Cache:   bootstrap.BuildCompletenessCache(redisClient, cfg, logger),
		Bus:     bus,
		Outbox:  outbox,
		Audit:   audit,
		Metrics: schedulingMetrics,
		Logger:  logger,
	})

	verifier := identity.NewVerifier(identity.CognitoConfig{
		Region:     cfg.CognitoRegion,
		UserPoolID: cfg.CognitoUserPoolID,
		ClientID:   cfg.CognitoClientID,
	})
	if !verifier.Configured() {
		logger.Warn("cognito is not configured; every /v1 request will be rejected")
	}

	r := router.New(routerConfig(cfg, core, verifier, audit, schedulingMetrics, metricsHandler, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setupMetrics builds a private registry with the runtime collectors and the
// scheduling metrics.
func setupMetrics() (http.Handler, *metrics.SchedulingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewSchedulingMetrics(reg)
}

func routerConfig(
	cfg *appconfig.Config,
	core *bootstrap.Core,
	verifier httpmiddleware.TokenVerifier,
	audit *compliance.AuditService,
	m *metrics.SchedulingMetrics,
	metricsHandler http.Handler,
	logger *logging.Logger,
) *router.Config {
	requesters := handlers.RequesterConfig{
		Profiles:      core.Profiles,
		Completion:    core.Evaluator,
		Prescriptions: core.Prescriptions,
		Logger:        logger,
	}
	if audit != nil {
		requesters.Audit = audit
	}
	return &router.Config{
		Logger:             logger,
		Metrics:            m,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Verifier:           verifier,
		Roles:              core.Evaluator,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		Session:            handlers.NewSessionHandler(core.Evaluator, logger),
		Requesters:         handlers.NewRequesterHandler(requesters),
		Scheduling:         handlers.NewSchedulingHandler(core.Scheduling, logger),
		Providers:          handlers.NewProviderHandler(core.Profiles, logger),
		Handoffs:           handlers.NewHandoffHandler(core.Registry, core.Profiles, logger),
		Prescriptions:      handlers.NewPrescriptionHandler(core.Prescriptions, logger),
	}
}
