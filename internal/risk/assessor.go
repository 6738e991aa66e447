// Package risk implements the risk assessor: it fuses the blacklist verdict,
// the rule engine outcome and the ensemble prediction into a risk score, its
// contributing factors and a decision.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
)

// Factor sources.
const (
	SourceRuleEngine = "RuleEngine"
	SourceBlacklist  = "BlacklistGate"
	SourceClassifier = "LightGBM"
	SourceAnomaly    = "PCA"
)

// Assessor turns evaluation signals into a risk score and a decision.
type Assessor struct {
	// ReportingThreshold is the model probability at or above which a
	// model risk factor is reported.
	ReportingThreshold float64
}

// NewAssessor creates an assessor. A non-positive threshold defaults to 0.5.
func NewAssessor(reportingThreshold float64) *Assessor {
	if reportingThreshold <= 0 {
		reportingThreshold = 0.5
	}
	return &Assessor{ReportingThreshold: reportingThreshold}
}

// Input contains everything needed for an assessment. Outcome and
// Prediction may be nil.
type Input struct {
	Blacklist  domain.BlacklistVerdict
	Outcome    *domain.RuleEngineOutcome
	Prediction *domain.ModelPrediction
	Now        time.Time
}

// Assessment is the assessor's output.
type Assessment struct {
	Score    domain.RiskScore
	Decision domain.DecisionType
}

// Assess computes the composite score, its factors and the decision.
// A blacklist hit or a hard stop forces 1.0/Critical/Deny. Otherwise the
// score is the higher of the ensemble probability and the best live rule
// score. An invalid composite is returned as ErrRiskScoringFailure.
func (a *Assessor) Assess(in *Input) (*Assessment, error) {
	factors := a.factors(in)

	hardStop := in.Outcome != nil && in.Outcome.HardStop
	if in.Blacklist.IsBlocked || hardStop {
		score, err := domain.NewRiskScore(1.0, factors, in.Now)
		if err != nil {
			return nil, err
		}
		return &Assessment{Score: score, Decision: domain.DecisionDeny}, nil
	}

	composite := liveRuleScore(in.Outcome)
	if in.Prediction != nil {
		// NaN never compares greater and must still be rejected.
		if p := in.Prediction.Probability; p > composite || math.IsNaN(p) {
			composite = p
		}
	}

	score, err := domain.NewRiskScore(composite, factors, in.Now)
	if err != nil {
		return nil, fmt.Errorf("failed to assess risk: %w", err)
	}

	var applied []domain.RuleAction
	if in.Outcome != nil {
		applied = in.Outcome.AppliedActions
	}
	return &Assessment{Score: score, Decision: Decide(score.Level(), applied)}, nil
}

// Decide maps a risk level and the applied rule actions to a decision.
func Decide(level domain.RiskLevel, applied []domain.RuleAction) domain.DecisionType {
	switch level {
	case domain.RiskCritical:
		return domain.DecisionDeny
	case domain.RiskHigh:
		for _, action := range applied {
			if action == domain.ActionRequireAdditionalVerification || action == domain.ActionPutUnderReview {
				return domain.DecisionReviewRequired
			}
		}
		return domain.DecisionEscalateToManager
	case domain.RiskMedium:
		return domain.DecisionRequireAdditionalVerification
	default:
		return domain.DecisionApprove
	}
}

// liveRuleScore returns the best score among triggered rules that are not
// in test mode.
func liveRuleScore(outcome *domain.RuleEngineOutcome) float64 {
	if outcome == nil {
		return 0
	}
	best := 0.0
	for _, t := range outcome.TriggeredRules {
		if !t.TestMode && t.Score > best {
			best = t.Score
		}
	}
	return best
}

func (a *Assessor) factors(in *Input) []domain.RiskFactor {
	factors := []domain.RiskFactor{}

	if in.Blacklist.IsBlocked {
		factors = append(factors, domain.RiskFactor{
			ID:          uuid.New().String(),
			Code:        "BLACKLIST_" + string(in.Blacklist.MatchedType),
			Type:        blacklistFactorType(in.Blacklist.MatchedType),
			Severity:    domain.RiskCritical,
			Confidence:  1,
			Description: fmt.Sprintf("%s %s is blacklisted", in.Blacklist.MatchedType, in.Blacklist.MatchedValue),
			Source:      SourceBlacklist,
			DetectedAt:  in.Now,
		})
	}

	if in.Outcome != nil {
		for _, t := range in.Outcome.TriggeredRules {
			description := t.Reason
			if description == "" {
				description = t.RuleName
			}
			if t.TestMode {
				description = "[test mode] " + description
			}
			factors = append(factors, domain.RiskFactor{
				ID:          uuid.New().String(),
				Code:        t.RuleCode,
				Type:        domain.FactorRuleViolation,
				Severity:    impactSeverity(t.ImpactLevel),
				Confidence:  t.Confidence,
				Description: description,
				Source:      SourceRuleEngine,
				RuleID:      t.RuleID,
				DetectedAt:  in.Now,
			})
		}
	}

	if in.Prediction != nil {
		if cls := in.Prediction.SubPredictions[string(domain.ModelLightGBM)]; cls != nil && cls.Probability >= a.ReportingThreshold {
			factors = append(factors, domain.RiskFactor{
				ID:          uuid.New().String(),
				Code:        "ML_CLASSIFIER",
				Type:        domain.FactorModelFeature,
				Severity:    domain.LevelForScore(cls.Probability),
				Confidence:  cls.Probability,
				Description: fmt.Sprintf("classifier fraud probability %.4f", cls.Probability),
				Source:      SourceClassifier,
				DetectedAt:  in.Now,
			})
		}
		if anom := in.Prediction.SubPredictions[string(domain.ModelPCA)]; anom != nil {
			if p := ensemble.Sigmoid(anom.AnomalyScore); p >= a.ReportingThreshold {
				factors = append(factors, domain.RiskFactor{
					ID:          uuid.New().String(),
					Code:        "ML_ANOMALY",
					Type:        domain.FactorAnomalyDetection,
					Severity:    domain.LevelForScore(p),
					Confidence:  p,
					Description: fmt.Sprintf("anomaly score %.4f", anom.AnomalyScore),
					Source:      SourceAnomaly,
					DetectedAt:  in.Now,
				})
			}
		}
	}

	return factors
}

func blacklistFactorType(t domain.BlacklistType) domain.RiskFactorType {
	switch t {
	case domain.BlacklistIPAddress:
		return domain.FactorIPAddress
	case domain.BlacklistDevice:
		return domain.FactorDevice
	case domain.BlacklistCountry:
		return domain.FactorLocation
	default:
		return domain.FactorUserBehavior
	}
}

func impactSeverity(impact domain.ImpactLevel) domain.RiskLevel {
	switch impact {
	case domain.ImpactCritical:
		return domain.RiskCritical
	case domain.ImpactHigh:
		return domain.RiskHigh
	case domain.ImpactLow:
		return domain.RiskLow
	default:
		return domain.RiskMedium
	}
}

// Reasons extracts human-readable reasons from the factors of an assessment.
func Reasons(factors []domain.RiskFactor) []string {
	var reasons []string
	for _, f := range factors {
		if f.Description != "" {
			reasons = append(reasons, f.Description)
		}
	}
	return reasons
}
