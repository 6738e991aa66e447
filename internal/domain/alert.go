package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertStatus is the case state of a fraud alert.
type AlertStatus string

const (
	AlertActive        AlertStatus = "Active"
	AlertInvestigating AlertStatus = "Investigating"
	AlertResolved      AlertStatus = "Resolved"
)

// FraudAlert is an analyst case opened for a high-risk decision.
type FraudAlert struct {
	ID            string       `json:"id"`
	AnalysisID    string       `json:"analysisId"`
	TransactionID string       `json:"transactionId,omitempty"`
	AccountID     string       `json:"accountId,omitempty"`
	Level         RiskLevel    `json:"level"`
	Status        AlertStatus  `json:"status"`
	RiskScore     float64      `json:"riskScore"`
	Decision      DecisionType `json:"decision"`
	Factors       []string     `json:"factors"`
	AssignedTo    string       `json:"assignedTo,omitempty"`
	AssignedAt    *time.Time   `json:"assignedAt,omitempty"`
	Resolution    string       `json:"resolution,omitempty"`
	ResolvedBy    string       `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time   `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// NewFraudAlert opens an alert for result. Factor codes are copied in
// order.
func NewFraudAlert(result *AnalysisResult, now time.Time) *FraudAlert {
	factors := make([]string, 0, len(result.RiskFactors))
	for _, f := range result.RiskFactors {
		factors = append(factors, f.Code)
	}
	return &FraudAlert{
		ID:            uuid.New().String(),
		AnalysisID:    result.ID,
		TransactionID: result.TransactionID,
		AccountID:     result.AccountID,
		Level:         result.RiskLevel,
		Status:        AlertActive,
		RiskScore:     result.RiskScore,
		Decision:      result.Decision,
		Factors:       factors,
		CreatedAt:     now,
	}
}

// Assign hands the alert to an analyst and moves it to Investigating.
// Reassigning an alert under investigation is allowed.
func (a *FraudAlert) Assign(to string, now time.Time) error {
	if to == "" {
		return fmt.Errorf("%w: assignee is required", ErrInvalidInput)
	}
	if a.Status == AlertResolved {
		return fmt.Errorf("%w: alert %s already resolved", ErrInvalidTransition, a.ID)
	}
	a.Status = AlertInvestigating
	a.AssignedTo = to
	a.AssignedAt = &now
	return nil
}

// Resolve closes the alert with a resolution note.
func (a *FraudAlert) Resolve(resolution, by string, now time.Time) error {
	if resolution == "" {
		return fmt.Errorf("%w: resolution is required", ErrInvalidInput)
	}
	if a.Status == AlertResolved {
		return fmt.Errorf("%w: alert %s already resolved", ErrInvalidTransition, a.ID)
	}
	a.Status = AlertResolved
	a.Resolution = resolution
	a.ResolvedBy = by
	a.ResolvedAt = &now
	return nil
}

// AlertSummary aggregates a set of alerts.
type AlertSummary struct {
	Total                  int               `json:"total"`
	Active                 int               `json:"active"`
	Investigating          int               `json:"investigating"`
	Resolved               int               `json:"resolved"`
	ByLevel                map[RiskLevel]int `json:"byLevel"`
	AverageResolutionHours float64           `json:"averageResolutionHours"`
	LastAlertAt            *time.Time        `json:"lastAlertAt,omitempty"`
}

// SummarizeAlerts counts alerts by status and level. The average resolution
// time covers resolved alerts only.
func SummarizeAlerts(alerts []*FraudAlert) AlertSummary {
	s := AlertSummary{Total: len(alerts), ByLevel: map[RiskLevel]int{}}
	var (
		resolvedHours float64
		resolvedCount int
	)
	for _, a := range alerts {
		switch a.Status {
		case AlertActive:
			s.Active++
		case AlertInvestigating:
			s.Investigating++
		case AlertResolved:
			s.Resolved++
			if a.ResolvedAt != nil {
				resolvedHours += a.ResolvedAt.Sub(a.CreatedAt).Hours()
				resolvedCount++
			}
		}
		s.ByLevel[a.Level]++
		if s.LastAlertAt == nil || a.CreatedAt.After(*s.LastAlertAt) {
			created := a.CreatedAt
			s.LastAlertAt = &created
		}
	}
	if resolvedCount > 0 {
		s.AverageResolutionHours = resolvedHours / float64(resolvedCount)
	}
	return s
}
