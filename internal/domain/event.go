package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FraudEventStatus is the investigation state of a rule event.
type FraudEventStatus string

const (
	EventNew                   FraudEventStatus = "New"
	EventUnderInvestigation    FraudEventStatus = "UnderInvestigation"
	EventResolvedFraud         FraudEventStatus = "ResolvedFraud"
	EventResolvedFalsePositive FraudEventStatus = "ResolvedFalsePositive"
	EventResolvedIndeterminate FraudEventStatus = "ResolvedIndeterminate"
	EventClosedNoAction        FraudEventStatus = "ClosedNoAction"
)

// IsTerminal reports whether no further transition is allowed.
func (s FraudEventStatus) IsTerminal() bool {
	switch s {
	case EventResolvedFraud, EventResolvedFalsePositive, EventResolvedIndeterminate, EventClosedNoAction:
		return true
	}
	return false
}

// FraudRuleEvent is the audit record of a rule firing with enforceable actions.
type FraudRuleEvent struct {
	ID              string           `json:"id"`
	RuleID          string           `json:"ruleId"`
	RuleCode        string           `json:"ruleCode"`
	RuleName        string           `json:"ruleName"`
	TransactionID   string           `json:"transactionId,omitempty"`
	AccountID       string           `json:"accountId,omitempty"`
	IPAddress       string           `json:"ipAddress,omitempty"`
	DeviceInfo      string           `json:"deviceInfo,omitempty"`
	Actions         []RuleAction     `json:"actions"`
	ActionDuration  time.Duration    `json:"actionDuration,omitempty"`
	ActionEndDate   *time.Time       `json:"actionEndDate,omitempty"`
	Status          FraudEventStatus `json:"status"`
	Details         string           `json:"details,omitempty"`
	InvestigatedBy  string           `json:"investigatedBy,omitempty"`
	InvestigatedAt  *time.Time       `json:"investigatedAt,omitempty"`
	ResolutionNotes string           `json:"resolutionNotes,omitempty"`
	ResolvedBy      string           `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time       `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// NewFraudRuleEvent records a firing of rule against ctx at firedAt.
func NewFraudRuleEvent(rule *FraudRule, ctx *RuleEvaluationContext, details string, firedAt time.Time) *FraudRuleEvent {
	actions := make([]RuleAction, len(rule.Actions))
	copy(actions, rule.Actions)

	ev := &FraudRuleEvent{
		ID:             uuid.New().String(),
		RuleID:         rule.ID,
		RuleCode:       rule.RuleCode,
		RuleName:       rule.Name,
		TransactionID:  ctx.TransactionID(),
		AccountID:      ctx.AccountID(),
		IPAddress:      ctx.IPAddress(),
		DeviceInfo:     ctx.DeviceID(),
		Actions:        actions,
		ActionDuration: rule.ActionDuration,
		Status:         EventNew,
		Details:        details,
		CreatedAt:      firedAt,
	}
	if rule.ActionDuration > 0 {
		end := firedAt.Add(rule.ActionDuration)
		ev.ActionEndDate = &end
	}
	return ev
}

// StartInvestigation moves a New event under investigation.
func (e *FraudRuleEvent) StartInvestigation(by string, now time.Time) error {
	if e.Status != EventNew {
		return fmt.Errorf("%w: event %s is %s", ErrInvalidTransition, e.ID, e.Status)
	}
	e.Status = EventUnderInvestigation
	e.InvestigatedBy = by
	e.InvestigatedAt = &now
	return nil
}

// Resolve closes the event with a terminal status.
func (e *FraudRuleEvent) Resolve(status FraudEventStatus, notes, by string, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a resolution status", ErrInvalidInput, status)
	}
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: event %s already %s", ErrInvalidTransition, e.ID, e.Status)
	}
	e.Status = status
	e.ResolutionNotes = notes
	e.ResolvedBy = by
	e.ResolvedAt = &now
	return nil
}

// IsActionActive reports whether the event's actions still apply at now.
func (e *FraudRuleEvent) IsActionActive(now time.Time) bool {
	if e.Status.IsTerminal() {
		return false
	}
	return e.ActionEndDate == nil || now.Before(*e.ActionEndDate)
}
