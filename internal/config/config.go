package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"crewfleet.hub/internal/core/logger"
)

// Config is the manager's process configuration, read from the environment.
type Config struct {
	// Server
	HTTPPort string
	GRPCPort string

	// Agent catalog and fallback addressing
	CatalogPath  string
	FallbackHost string
	BasePort     int

	// Registry
	RegistryTTL             time.Duration
	RegistryCleanupInterval time.Duration

	// Forwarder
	ExecuteTimeout time.Duration
	ActionTimeout  time.Duration

	// Dashboard
	SeedDemoAgents bool

	// Optional backends, disabled when empty
	DatabaseURL string
	RedisURL    string
	MQTTBroker  string
	NATSURL     string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Tracing
	OTLPEndpoint string
	ServiceName  string

	// Features
	EnableMetrics bool
	EnableTracing bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:                getEnv("HTTP_PORT", "8000"),
		GRPCPort:                getEnv("GRPC_PORT", "9000"),
		CatalogPath:             getEnv("CATALOG_PATH", "config/agents.config.json"),
		FallbackHost:            getEnv("FALLBACK_HOST", "127.0.0.1"),
		BasePort:                getEnvInt("BASE_PORT", 8100),
		RegistryTTL:             getEnvDuration("REGISTRY_TTL", 30*time.Second),
		RegistryCleanupInterval: getEnvDuration("REGISTRY_CLEANUP_INTERVAL", 10*time.Second),
		ExecuteTimeout:          getEnvDuration("EXECUTE_TIMEOUT", 60*time.Second),
		ActionTimeout:           getEnvDuration("ACTION_TIMEOUT", 30*time.Second),
		SeedDemoAgents:          getEnvBool("SEED_DEMO_AGENTS", true),
		DatabaseURL:             getEnv("DB_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		MQTTBroker:              getEnv("MQTT_BROKER", ""),
		NATSURL:                 getEnv("NATS_URL", ""),
		LogLevel:                logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		LogFormat:               getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:            getEnv("OTLP_ENDPOINT", ""),
		ServiceName:             getEnv("SERVICE_NAME", "crewfleet-manager"),
		EnableMetrics:           getEnvBool("ENABLE_METRICS", true),
		EnableTracing:           getEnvBool("ENABLE_TRACING", false),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("45s") or bare seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
