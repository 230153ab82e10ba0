package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/wolfman30/healme-core/cmd/mainconfig"
	"github.com/wolfman30/healme-core/internal/app/bootstrap"
	appconfig "github.com/wolfman30/healme-core/internal/config"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/notify"
	"github.com/wolfman30/healme-core/internal/session"
	"github.com/wolfman30/healme-core/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting healme session worker", "env", cfg.Env, "workers", cfg.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var awsCfg *aws.Config
	if !cfg.UseMemoryStore || !cfg.UseMemoryQueue || cfg.EmailProvider == "ses" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	queue, err := buildQueue(cfg, awsCfg)
	if err != nil {
		logger.Error("failed to build session-change queue", "error", err)
		os.Exit(1)
	}

	var dynamoClient *dynamodb.Client
	var sesClient *sesv2.Client
	if awsCfg != nil {
		dynamoClient = dynamodb.NewFromConfig(*awsCfg)
		sesClient = sesv2.NewFromConfig(*awsCfg)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	bus := bootstrap.BuildBus(cfg, logger)
	defer func() { _ = bus.Close() }()

	core := bootstrap.BuildCore(bootstrap.CoreDeps{
		Config: cfg,
		Store:  bootstrap.BuildDocStore(dynamoClient, cfg, logger),
		Cache:  bootstrap.BuildCompletenessCache(redisClient, cfg, logger),
		Bus:    bus,
		Logger: logger,
	})

	manager := session.NewManager(core.Evaluator, logger,
		session.WithSnapshotHook(bootstrap.SnapshotPublisher(bus, logger)),
	)
	consumer := session.NewConsumer(queue, manager, logger,
		session.WithWorkerCount(cfg.WorkerCount),
	)
	consumer.Start(ctx)

	var wg sync.WaitGroup
	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
		sender, provider := bootstrap.BuildEmailSender(cfg, sesClient, logger)
		logger.Info("outbox delivery enabled", "email_provider", provider)
		deliverer := buildDeliverer(pool, sender, bus, cfg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliverer.Start(ctx)
		}()
		janitor := events.NewJanitor(events.NewOutboxStore(pool), events.NewProcessedStore(pool), cfg.OutboxRetention, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			janitor.Start(ctx)
		}()
	} else {
		logger.Warn("DATABASE_URL not set; outbox delivery disabled")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("session worker shutting down")
	cancel()

	consumer.Wait()
	manager.Wait()
	wg.Wait()
	logger.Info("session worker stopped")
}

// buildQueue returns the SQS-backed session-change feed, or an in-process
// queue when USE_MEMORY_QUEUE is set.
func buildQueue(cfg *appconfig.Config, awsCfg *aws.Config) (identity.ChangeQueue, error) {
	if cfg.UseMemoryQueue {
		return identity.NewMemoryQueue(100), nil
	}
	if strings.TrimSpace(cfg.SessionEventsQueueURL) == "" {
		return nil, errors.New("SESSION_EVENTS_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	if awsCfg == nil {
		return nil, errors.New("AWS config required for the SQS queue")
	}
	return identity.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.SessionEventsQueueURL), nil
}

func buildDeliverer(pool *pgxpool.Pool, sender notify.EmailSender, bus events.Bus, cfg *appconfig.Config, logger *logging.Logger) *events.Deliverer {
	dispatcher := notify.NewDispatcher(
		notify.NewService(sender, logger),
		bus,
		events.NewProcessedStore(pool),
		logger,
	)
	return events.NewDeliverer(events.NewOutboxStore(pool), dispatcher, logger).
		WithInterval(cfg.OutboxPollInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts)
}
