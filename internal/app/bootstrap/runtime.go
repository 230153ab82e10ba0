package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/healme-core/internal/config"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/handoff"
	"github.com/wolfman30/healme-core/internal/prescriptions"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/internal/session"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildCompletenessCache uses Redis when available and an in-process cache
// otherwise.
func BuildCompletenessCache(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) session.CompletenessCache {
	if redisClient == nil {
		if logger != nil {
			logger.Warn("redis unavailable; completeness cache is per-process")
		}
		return session.NewMemoryCache()
	}
	return session.NewRedisCache(redisClient, cfg.SessionCacheTTL)
}

// ConnectPostgresPool opens the pgx pool backing the outbox. An empty URL or
// a failed ping returns nil.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// OpenSQLDB opens a database/sql handle over the pgx driver for the audit
// log. An empty URL returns nil.
func OpenSQLDB(databaseURL string, logger *logging.Logger) *sql.DB {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Error("failed to open sql db", "error", err)
		return nil
	}
	return db
}

// BuildDocStore returns the DynamoDB-backed store with the configured table
// names, or an in-memory store when USE_MEMORY_STORE is set or no client is
// given.
func BuildDocStore(client *dynamodb.Client, cfg *appconfig.Config, logger *logging.Logger) docstore.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || cfg.UseMemoryStore || client == nil {
		logger.Warn("using in-memory document store")
		return docstore.NewMemoryStore()
	}
	return docstore.NewDynamoStore(client, logger, docStoreOptions(cfg)...)
}

func docStoreOptions(cfg *appconfig.Config) []docstore.DynamoOption {
	opts := []docstore.DynamoOption{
		docstore.WithTable(profiles.ProvidersCollection, cfg.ProvidersTable),
		docstore.WithTable(profiles.RequestersCollection, cfg.RequestersTable),
		docstore.WithTable(handoff.Collection, cfg.HandoffsTable),
		docstore.WithTable(prescriptions.Collection, cfg.PrescriptionsTable),
		docstore.WithTable(prescriptions.NotificationsCollection, cfg.NotificationsTable),
	}
	if cfg.ProvidersSpecialtyIndex != "" {
		opts = append(opts, docstore.WithIndex(profiles.ProvidersCollection, "specialty", cfg.ProvidersSpecialtyIndex))
	}
	return opts
}

// BuildBus connects to NATS when NATS_URL is set and falls back to an
// in-process bus.
func BuildBus(cfg *appconfig.Config, logger *logging.Logger) events.Bus {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.NATSURL) == "" {
		return events.NewMemoryBus()
	}
	bus, err := events.NewNATSBus(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("nats unavailable; using in-process bus", "error", err)
		return events.NewMemoryBus()
	}
	return bus
}
