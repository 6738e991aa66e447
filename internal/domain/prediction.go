package domain

import "context"

// ModelType identifies a scoring model.
type ModelType string

const (
	ModelLightGBM ModelType = "LightGBM"
	ModelPCA      ModelType = "PCA"
	ModelEnsemble ModelType = "Ensemble"
)

// CombinationStrategy selects how the ensemble merges sub-models.
type CombinationStrategy string

const (
	StrategyWeightedAverage CombinationStrategy = "WeightedAverage"
	StrategyVoting          CombinationStrategy = "Voting"
	StrategyMaxConfidence   CombinationStrategy = "MaxConfidence"
	StrategyMinimumRisk     CombinationStrategy = "MinimumRisk"
)

// Valid reports whether s is a known strategy.
func (s CombinationStrategy) Valid() bool {
	switch s {
	case StrategyWeightedAverage, StrategyVoting, StrategyMaxConfidence, StrategyMinimumRisk:
		return true
	}
	return false
}

// FeatureVector is the named numeric input handed to the models.
type FeatureVector map[string]float64

// ModelPrediction is the unified output of a scoring model.
// For the anomaly detector Probability may be unset; AnomalyScore is the
// raw reconstruction score.
type ModelPrediction struct {
	ModelType      ModelType                   `json:"modelType"`
	PredictedLabel bool                        `json:"predictedLabel"`
	Probability    float64                     `json:"probability"`
	Score          float64                     `json:"score"`
	AnomalyScore   float64                     `json:"anomalyScore,omitempty"`
	Confidence     float64                     `json:"confidence"`
	ModelVersion   string                      `json:"modelVersion,omitempty"`
	SubPredictions map[string]*ModelPrediction `json:"subPredictions,omitempty"`
}

// ModelScorer is the port to one trained model. It returns an error wrapping
// ErrModelUnavailable when no trained model is active.
type ModelScorer interface {
	Score(ctx context.Context, features FeatureVector) (*ModelPrediction, error)
}

// ModelHealth records which models answered during an evaluation.
type ModelHealth struct {
	ClassifierAvailable bool `json:"classifierAvailable"`
	AnomalyAvailable    bool `json:"anomalyAvailable"`
	FallbackUsed        bool `json:"fallbackUsed"`
}

// MLAnalysis is the model section of an AnalysisResult.
type MLAnalysis struct {
	Prediction *ModelPrediction `json:"prediction,omitempty"`
	Health     ModelHealth      `json:"health"`
}
