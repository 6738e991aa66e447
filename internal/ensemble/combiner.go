// Package ensemble merges the classifier and anomaly detector outputs into a
// single model prediction.
package ensemble

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Sigmoid maps a raw anomaly score onto probability space.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Combiner applies one combination strategy. It is safe for concurrent use.
type Combiner struct {
	cfg domain.EnsembleConfig
}

// NewCombiner validates cfg and returns a combiner. Zero-valued fields take
// the weighted-average defaults.
func NewCombiner(cfg domain.EnsembleConfig) (*Combiner, error) {
	def := domain.DefaultEnsembleConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.ClassifierWeight == 0 && cfg.AnomalyWeight == 0 {
		cfg.ClassifierWeight = def.ClassifierWeight
		cfg.AnomalyWeight = def.AnomalyWeight
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}

	if !cfg.Strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown combination strategy %q", domain.ErrInvalidInput, cfg.Strategy)
	}
	if cfg.ClassifierWeight < 0 || cfg.AnomalyWeight < 0 {
		return nil, fmt.Errorf("%w: ensemble weights must not be negative", domain.ErrInvalidInput)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("%w: ensemble threshold %v outside (0,1)", domain.ErrInvalidInput, cfg.Threshold)
	}
	return &Combiner{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (c *Combiner) Config() domain.EnsembleConfig {
	return c.cfg
}

// vote is one sub-model's opinion in probability space.
type vote struct {
	model       domain.ModelType
	probability float64
	label       bool
}

// Combine merges the available predictions. Either argument may be nil when
// that model did not answer; with a single answer that model's opinion is
// the ensemble output and FallbackUsed is set. With none it returns
// ErrModelUnavailable. The inputs are never modified.
func (c *Combiner) Combine(classifier, anomaly *domain.ModelPrediction) (*domain.ModelPrediction, domain.ModelHealth, error) {
	if classifier != nil && !validProbability(classifier.Probability) {
		slog.Warn("discarding classifier prediction", "probability", classifier.Probability)
		classifier = nil
	}
	if anomaly != nil && math.IsNaN(anomaly.AnomalyScore) {
		slog.Warn("discarding anomaly prediction", "anomaly_score", anomaly.AnomalyScore)
		anomaly = nil
	}

	health := domain.ModelHealth{
		ClassifierAvailable: classifier != nil,
		AnomalyAvailable:    anomaly != nil,
	}

	out := &domain.ModelPrediction{
		ModelType:      domain.ModelEnsemble,
		SubPredictions: make(map[string]*domain.ModelPrediction, 2),
	}

	var cv, av vote
	if classifier != nil {
		cv = vote{model: domain.ModelLightGBM, probability: classifier.Probability, label: classifier.PredictedLabel}
		out.SubPredictions[string(domain.ModelLightGBM)] = classifier
	}
	if anomaly != nil {
		p := Sigmoid(anomaly.AnomalyScore)
		av = vote{model: domain.ModelPCA, probability: p, label: p >= c.cfg.Threshold}
		out.SubPredictions[string(domain.ModelPCA)] = anomaly
		out.AnomalyScore = anomaly.AnomalyScore
	}

	var picked vote
	switch {
	case classifier == nil && anomaly == nil:
		return nil, health, fmt.Errorf("%w: no model answered", domain.ErrModelUnavailable)
	case anomaly == nil:
		health.FallbackUsed = true
		picked = cv
		out.ModelVersion = classifier.ModelVersion
	case classifier == nil:
		health.FallbackUsed = true
		picked = av
		out.ModelVersion = anomaly.ModelVersion
	default:
		picked = c.merge(cv, av)
	}

	out.Probability = picked.probability
	out.Score = picked.probability
	out.PredictedLabel = picked.label
	out.Confidence = math.Abs(picked.probability-0.5) * 2
	return out, health, nil
}

// merge applies the configured strategy to two opinions.
func (c *Combiner) merge(cv, av vote) vote {
	switch c.cfg.Strategy {
	case domain.StrategyVoting:
		mean := (cv.probability + av.probability) / 2
		if cv.label == av.label {
			return vote{model: domain.ModelEnsemble, probability: mean, label: cv.label}
		}
		// 1-1 tie
		return vote{model: domain.ModelEnsemble, probability: mean, label: mean >= c.cfg.Threshold}

	case domain.StrategyMaxConfidence:
		if math.Abs(av.probability-0.5) > math.Abs(cv.probability-0.5) {
			return av
		}
		return cv

	case domain.StrategyMinimumRisk:
		if av.probability < cv.probability {
			return av
		}
		return cv

	default:
		wc, wa := c.cfg.ClassifierWeight, c.cfg.AnomalyWeight
		p := (wc*cv.probability + wa*av.probability) / (wc + wa)
		return vote{model: domain.ModelEnsemble, probability: p, label: p >= c.cfg.Threshold}
	}
}

func validProbability(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}
