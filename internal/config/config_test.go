package config

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KESTREL_TIER", "")
	t.Setenv("KESTREL_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, domain.StrategyWeightedAverage, cfg.Ensemble.Strategy)
	assert.InDelta(t, 0.7, cfg.Ensemble.ClassifierWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Ensemble.AnomalyWeight, 1e-9)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KESTREL_PORT", "9090")
	t.Setenv("KESTREL_ENSEMBLE_STRATEGY", "Voting")
	t.Setenv("KESTREL_MODEL_TIMEOUT", "2s")
	t.Setenv("KESTREL_DEBUG", "true")
	t.Setenv("KESTREL_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, domain.StrategyVoting, cfg.Ensemble.Strategy)
	assert.Equal(t, 2*time.Second, cfg.Engine.ModelTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventBus.KafkaBrokers)
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")
	t.Setenv("KESTREL_CLASSIFIER_URL", "http://models:5000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Engine.AsyncWorker)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }},
		{"unknown strategy", func(c *domain.Config) { c.Ensemble.Strategy = "Median" }},
		{"negative weight", func(c *domain.Config) { c.Ensemble.AnomalyWeight = -1 }},
		{"zero weights", func(c *domain.Config) { c.Ensemble.ClassifierWeight, c.Ensemble.AnomalyWeight = 0, 0 }},
		{"threshold out of range", func(c *domain.Config) { c.Ensemble.Threshold = 1 }},
		{"http without urls", func(c *domain.Config) { c.Models.Transport = "http" }},
		{"unknown transport", func(c *domain.Config) { c.Models.Transport = "grpc" }},
		{"kafka without brokers", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	assert.NoError(t, Validate(domain.DefaultConfig()))
}
