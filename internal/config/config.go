package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	UseMemoryQueue     bool
	UseMemoryStore     bool
	WorkerCount        int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Document store tables
	ProvidersTable          string
	RequestersTable         string
	HandoffsTable           string
	PrescriptionsTable      string
	NotificationsTable      string
	ProvidersSpecialtyIndex string

	SessionEventsQueueURL string

	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	SessionCacheTTL time.Duration

	NATSURL     string
	DatabaseURL string

	CognitoRegion     string
	CognitoUserPoolID string
	CognitoClientID   string

	ProviderEmailSuffix   string
	HandoffLookupAttempts int
	HandoffLookupInterval time.Duration

	BookingTokenSecret string
	BookingTokenTTL    time.Duration

	// Email
	EmailProvider       string
	SendGridAPIKey      string
	EmailFromAddress    string
	EmailFromName       string
	SESConfigurationSet string

	OutboxPollInterval time.Duration
	OutboxMaxAttempts  int
	OutboxRetention    time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		UseMemoryQueue:     getEnvAsBool("USE_MEMORY_QUEUE", false),
		UseMemoryStore:     getEnvAsBool("USE_MEMORY_STORE", false),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ProvidersTable:          getEnv("PROVIDERS_TABLE", "providers"),
		RequestersTable:         getEnv("REQUESTERS_TABLE", "requesters"),
		HandoffsTable:           getEnv("HANDOFFS_TABLE", "session_handoffs"),
		PrescriptionsTable:      getEnv("PRESCRIPTIONS_TABLE", "prescriptions"),
		NotificationsTable:      getEnv("NOTIFICATIONS_TABLE", "notifications"),
		ProvidersSpecialtyIndex: getEnv("PROVIDERS_SPECIALTY_INDEX", ""),

		SessionEventsQueueURL: getEnv("SESSION_EVENTS_QUEUE_URL", ""),

		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		SessionCacheTTL: getEnvAsDuration("SESSION_CACHE_TTL", 30*24*time.Hour),

		NATSURL:     getEnv("NATS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		CognitoRegion:     getEnv("COGNITO_REGION", getEnv("AWS_REGION", "us-east-1")),
		CognitoUserPoolID: getEnv("COGNITO_USER_POOL_ID", ""),
		CognitoClientID:   getEnv("COGNITO_CLIENT_ID", ""),

		ProviderEmailSuffix:   strings.ToLower(getEnv("PROVIDER_EMAIL_SUFFIX", "@healme.doc.co")),
		HandoffLookupAttempts: getEnvAsInt("HANDOFF_LOOKUP_ATTEMPTS", 10),
		HandoffLookupInterval: getEnvAsDuration("HANDOFF_LOOKUP_INTERVAL", time.Second),

		BookingTokenSecret: getEnv("BOOKING_TOKEN_SECRET", ""),
		BookingTokenTTL:    getEnvAsDuration("BOOKING_TOKEN_TTL", 15*time.Minute),

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:    getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:       getEnv("EMAIL_FROM_NAME", "HealMe"),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),

		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxMaxAttempts:  getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxRetention:    getEnvAsDuration("OUTBOX_RETENTION", 30*24*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
