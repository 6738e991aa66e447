// Package config loads Kestrel configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load reads an optional .env file, picks the tier defaults and applies
// KESTREL_* overrides.
func Load() (*domain.Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if getEnv("KESTREL_TIER", string(domain.TierCommunity)) == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)

	cfg.Repository.Driver = getEnv("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("KESTREL_PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("KESTREL_PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("KESTREL_PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("KESTREL_PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("KESTREL_PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("KESTREL_PG_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = getEnv("KESTREL_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RuleCatalogTTL = getEnvDuration("KESTREL_RULE_CACHE_TTL", cfg.Cache.RuleCatalogTTL)
	cfg.Cache.BlacklistTTL = getEnvDuration("KESTREL_BLACKLIST_CACHE_TTL", cfg.Cache.BlacklistTTL)

	cfg.EventBus.Type = getEnv("KESTREL_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	if brokers := os.Getenv("KESTREL_KAFKA_BROKERS"); brokers != "" {
		cfg.EventBus.KafkaBrokers = splitList(brokers)
	}
	cfg.EventBus.KafkaConsumerGroup = getEnv("KESTREL_KAFKA_GROUP", "kestrel")

	cfg.Engine.MaxWorkers = getEnvInt("KESTREL_MAX_WORKERS", cfg.Engine.MaxWorkers)
	cfg.Engine.ModelTimeout = getEnvDuration("KESTREL_MODEL_TIMEOUT", cfg.Engine.ModelTimeout)
	cfg.Engine.ReportingThreshold = getEnvFloat("KESTREL_REPORTING_THRESHOLD", cfg.Engine.ReportingThreshold)
	cfg.Engine.AsyncWorker = getEnvBool("KESTREL_ASYNC_WORKER", cfg.Engine.AsyncWorker)
	cfg.Engine.BlacklistSweepInterval = getEnvDuration("KESTREL_BLACKLIST_SWEEP", cfg.Engine.BlacklistSweepInterval)

	cfg.Ensemble.Strategy = domain.CombinationStrategy(getEnv("KESTREL_ENSEMBLE_STRATEGY", string(cfg.Ensemble.Strategy)))
	cfg.Ensemble.ClassifierWeight = getEnvFloat("KESTREL_CLASSIFIER_WEIGHT", cfg.Ensemble.ClassifierWeight)
	cfg.Ensemble.AnomalyWeight = getEnvFloat("KESTREL_ANOMALY_WEIGHT", cfg.Ensemble.AnomalyWeight)
	cfg.Ensemble.Threshold = getEnvFloat("KESTREL_ENSEMBLE_THRESHOLD", cfg.Ensemble.Threshold)

	cfg.Models.Transport = getEnv("KESTREL_MODEL_TRANSPORT", cfg.Models.Transport)
	cfg.Models.ClassifierURL = getEnv("KESTREL_CLASSIFIER_URL", cfg.Models.ClassifierURL)
	cfg.Models.AnomalyURL = getEnv("KESTREL_ANOMALY_URL", cfg.Models.AnomalyURL)

	cfg.Logging.Level = getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("KESTREL_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = getEnvBool("KESTREL_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if !cfg.Ensemble.Strategy.Valid() {
		return fmt.Errorf("unknown ensemble strategy %q", cfg.Ensemble.Strategy)
	}
	if cfg.Ensemble.ClassifierWeight < 0 || cfg.Ensemble.AnomalyWeight < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	if cfg.Ensemble.ClassifierWeight+cfg.Ensemble.AnomalyWeight == 0 {
		return fmt.Errorf("ensemble weights must not both be zero")
	}
	if cfg.Ensemble.Threshold <= 0 || cfg.Ensemble.Threshold >= 1 {
		return fmt.Errorf("ensemble threshold must be in (0,1), got %v", cfg.Ensemble.Threshold)
	}
	switch cfg.Models.Transport {
	case "none", "bus":
	case "http":
		if cfg.Models.ClassifierURL == "" && cfg.Models.AnomalyURL == "" {
			return fmt.Errorf("http model transport needs KESTREL_CLASSIFIER_URL or KESTREL_ANOMALY_URL")
		}
	default:
		return fmt.Errorf("unknown model transport %q", cfg.Models.Transport)
	}
	if cfg.EventBus.Type == "kafka" && len(cfg.EventBus.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka bus needs KESTREL_KAFKA_BROKERS")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
