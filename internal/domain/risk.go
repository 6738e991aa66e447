package domain

import (
	"fmt"
	"math"
	"time"
)

// RiskLevel is an ordered category derived from a numeric score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Risk level lower bounds.
const (
	CriticalThreshold = 0.90
	HighThreshold     = 0.75
	MediumThreshold   = 0.50
)

// LevelForScore maps a score onto its risk level.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= CriticalThreshold:
		return RiskCritical
	case score >= HighThreshold:
		return RiskHigh
	case score >= MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DecisionType is the final outcome of an evaluation.
type DecisionType string

const (
	DecisionApprove                       DecisionType = "Approve"
	DecisionDeny                          DecisionType = "Deny"
	DecisionReviewRequired                DecisionType = "ReviewRequired"
	DecisionEscalateToManager             DecisionType = "EscalateToManager"
	DecisionRequireAdditionalVerification DecisionType = "RequireAdditionalVerification"
)

// RiskFactorType classifies a risk factor.
type RiskFactorType string

const (
	FactorModelFeature     RiskFactorType = "ModelFeature"
	FactorAnomalyDetection RiskFactorType = "AnomalyDetection"
	FactorRuleViolation    RiskFactorType = "RuleViolation"
	FactorHighValue        RiskFactorType = "HighValue"
	FactorLocation         RiskFactorType = "Location"
	FactorUserBehavior     RiskFactorType = "UserBehavior"
	FactorDevice           RiskFactorType = "Device"
	FactorIPAddress        RiskFactorType = "IPAddress"
	FactorVelocity         RiskFactorType = "Velocity"
)

// RiskFactor is one contributing reason for risk.
type RiskFactor struct {
	ID          string         `json:"id"`
	AnalysisID  string         `json:"analysisId,omitempty"`
	Code        string         `json:"code"`
	Type        RiskFactorType `json:"type"`
	Severity    RiskLevel      `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	RuleID      string         `json:"ruleId,omitempty"`
	DetectedAt  time.Time      `json:"detectedAt"`
}

// RiskScore is a composite score in [0,1] with its derived level.
type RiskScore struct {
	score        float64
	level        RiskLevel
	factors      []RiskFactor
	calculatedAt time.Time
}

// NewRiskScore validates score and derives its level. NaN, infinities and
// values outside [0,1] are rejected, never clamped.
func NewRiskScore(score float64, factors []RiskFactor, at time.Time) (RiskScore, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 1 {
		return RiskScore{}, fmt.Errorf("%w: composite score %v outside [0,1]", ErrRiskScoringFailure, score)
	}
	return RiskScore{
		score:        score,
		level:        LevelForScore(score),
		factors:      factors,
		calculatedAt: at,
	}, nil
}

// Score returns the composite score.
func (r RiskScore) Score() float64 { return r.score }

// Level returns the level derived from the score.
func (r RiskScore) Level() RiskLevel { return r.level }

// Factors returns the contributing factors.
func (r RiskScore) Factors() []RiskFactor { return r.factors }

// CalculatedAt returns when the score was built.
func (r RiskScore) CalculatedAt() time.Time { return r.calculatedAt }
