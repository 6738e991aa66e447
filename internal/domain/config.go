package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which adapters are used by default
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Decision engine
	Engine   EngineConfig   `json:"engine"`
	Ensemble EnsembleConfig `json:"ensemble"`
	Models   ModelsConfig   `json:"models"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`

	// OTLPEndpoint is the gRPC collector address. Empty keeps the no-op provider.
	OTLPEndpoint string `json:"otlpEndpoint"`
}

// EngineConfig tunes rule evaluation and the pipeline.
type EngineConfig struct {
	// MaxWorkers bounds concurrent category groups per evaluation.
	MaxWorkers int `json:"maxWorkers"`

	// ModelTimeout bounds each model call.
	ModelTimeout time.Duration `json:"modelTimeout"`

	// ReportingThreshold is the model probability at which a model
	// risk factor is reported.
	ReportingThreshold float64 `json:"reportingThreshold"`

	// AsyncWorker enables the bus-driven evaluation worker.
	AsyncWorker bool `json:"asyncWorker"`

	// BlacklistSweepInterval is how often expired items are swept.
	BlacklistSweepInterval time.Duration `json:"blacklistSweepInterval"`
}

// EnsembleConfig configures the score combiner.
type EnsembleConfig struct {
	Strategy         CombinationStrategy `json:"strategy"`
	ClassifierWeight float64             `json:"classifierWeight"`
	AnomalyWeight    float64             `json:"anomalyWeight"`
	Threshold        float64             `json:"threshold"`
}

// DefaultEnsembleConfig returns the weighted-average defaults.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Strategy:         StrategyWeightedAverage,
		ClassifierWeight: 0.7,
		AnomalyWeight:    0.3,
		Threshold:        0.5,
	}
}

// ModelsConfig selects the model scoring transport.
type ModelsConfig struct {
	// Transport is "none", "http" or "bus"
	Transport     string `json:"transport"`
	ClassifierURL string `json:"classifierUrl"`
	AnomalyURL    string `json:"anomalyUrl"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:           "memory",
			LocalMaxSize:   10000,
			LocalTTL:       5 * time.Minute,
			RuleCatalogTTL: 10 * time.Minute,
			BlacklistTTL:   time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxWorkers:             8,
			ModelTimeout:           500 * time.Millisecond,
			ReportingThreshold:     0.5,
			BlacklistSweepInterval: 5 * time.Minute,
		},
		Ensemble: DefaultEnsembleConfig(),
		Models: ModelsConfig{
			Transport: "none",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache.Type = "redis"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.EnableTwoPhase = true
	cfg.Cache.LocalMaxSize = 1000
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Engine.AsyncWorker = true
	cfg.Models.Transport = "http"
	cfg.Tracing.Enabled = true
	return cfg
}
