package domain

import (
	"fmt"
	"time"
)

// AnalysisStatus describes how complete an evaluation was.
type AnalysisStatus string

const (
	AnalysisCompleted         AnalysisStatus = "Completed"
	AnalysisPartialEvaluation AnalysisStatus = "PartialEvaluation"
)

// AnalysisResult is the persisted outcome of one evaluation.
type AnalysisResult struct {
	ID                 string              `json:"id"`
	TransactionID      string              `json:"transactionId,omitempty"`
	AccountID          string              `json:"accountId,omitempty"`
	FraudProbability   float64             `json:"fraudProbability"`
	AnomalyScore       float64             `json:"anomalyScore"`
	RiskScore          float64             `json:"riskScore"`
	RiskLevel          RiskLevel           `json:"riskLevel"`
	Decision           DecisionType        `json:"decision"`
	Status             AnalysisStatus      `json:"status"`
	Error              string              `json:"error,omitempty"`
	TotalRuleCount     int                 `json:"totalRuleCount"`
	TriggeredRuleCount int                 `json:"triggeredRuleCount"`
	TriggeredRules     []TriggeredRuleInfo `json:"triggeredRules"`
	AppliedActions     []RuleAction        `json:"appliedActions"`
	RiskFactors        []RiskFactor        `json:"riskFactors"`
	Blacklist          BlacklistVerdict    `json:"blacklist"`
	HardStop           bool                `json:"hardStop"`
	MLAnalysis         MLAnalysis          `json:"mlAnalysis"`
	AnalyzedAt         time.Time           `json:"analyzedAt"`
}

// Validate checks the structural invariants of the result.
func (a *AnalysisResult) Validate() error {
	if a.TriggeredRuleCount > a.TotalRuleCount {
		return fmt.Errorf("%w: %d triggered rules exceed %d selected", ErrInvalidInput, a.TriggeredRuleCount, a.TotalRuleCount)
	}
	if a.TriggeredRuleCount != len(a.TriggeredRules) {
		return fmt.Errorf("%w: triggered rule count %d does not match %d entries", ErrInvalidInput, a.TriggeredRuleCount, len(a.TriggeredRules))
	}
	return nil
}

// RequiresAction reports whether the decision is anything but Approve.
func (a *AnalysisResult) RequiresAction() bool {
	return a.Decision != DecisionApprove
}

// RaisesAlert reports whether the result warrants an analyst alert: an
// actionable decision at High or Critical risk.
func (a *AnalysisResult) RaisesAlert() bool {
	return a.RequiresAction() && (a.RiskLevel == RiskHigh || a.RiskLevel == RiskCritical)
}
