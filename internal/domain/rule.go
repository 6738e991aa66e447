package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// RuleCategory groups rules by the part of the context they inspect.
type RuleCategory string

const (
	CategoryNetwork     RuleCategory = "Network"
	CategoryIP          RuleCategory = "IP"
	CategoryAccount     RuleCategory = "Account"
	CategoryDevice      RuleCategory = "Device"
	CategorySession     RuleCategory = "Session"
	CategoryTransaction RuleCategory = "Transaction"
	CategoryBehavior    RuleCategory = "Behavior"
	CategoryTime        RuleCategory = "Time"
	CategoryLocation    RuleCategory = "Location"
	CategoryComplex     RuleCategory = "Complex"
	CategoryOther       RuleCategory = "Other"
)

// Valid reports whether c is a known category.
func (c RuleCategory) Valid() bool {
	switch c {
	case CategoryNetwork, CategoryIP, CategoryAccount, CategoryDevice, CategorySession,
		CategoryTransaction, CategoryBehavior, CategoryTime, CategoryLocation,
		CategoryComplex, CategoryOther:
		return true
	}
	return false
}

// RuleType selects the evaluator used for a rule.
type RuleType string

const (
	RuleTypeSimple     RuleType = "Simple"
	RuleTypeThreshold  RuleType = "Threshold"
	RuleTypeComplex    RuleType = "Complex"
	RuleTypeBlacklist  RuleType = "Blacklist"
	RuleTypeWhitelist  RuleType = "Whitelist"
	RuleTypeBehavioral RuleType = "Behavioral"
	RuleTypeAnomaly    RuleType = "Anomaly"
	RuleTypeSequential RuleType = "Sequential"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeSimple, RuleTypeThreshold, RuleTypeComplex, RuleTypeBlacklist,
		RuleTypeWhitelist, RuleTypeBehavioral, RuleTypeAnomaly, RuleTypeSequential:
		return true
	}
	return false
}

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "Draft"
	RuleStatusActive   RuleStatus = "Active"
	RuleStatusInactive RuleStatus = "Inactive"
	RuleStatusTestMode RuleStatus = "TestMode"
	RuleStatusArchived RuleStatus = "Archived"
)

// ImpactLevel classifies the consequence of a rule, independent of firing.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "Low"
	ImpactMedium   ImpactLevel = "Medium"
	ImpactHigh     ImpactLevel = "High"
	ImpactCritical ImpactLevel = "Critical"
)

// Valid reports whether l is a known impact level.
func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
		return true
	}
	return false
}

// Weight maps the impact level onto the rule score scale.
// Unknown levels weigh as Medium.
func (l ImpactLevel) Weight() float64 {
	switch l {
	case ImpactLow:
		return 0.30
	case ImpactHigh:
		return 0.80
	case ImpactCritical:
		return 0.95
	default:
		return 0.60
	}
}

// RuleAction is an enforcement action attached to a rule.
type RuleAction string

const (
	ActionLog                           RuleAction = "Log"
	ActionNotify                        RuleAction = "Notify"
	ActionRequireAdditionalVerification RuleAction = "RequireAdditionalVerification"
	ActionDelayProcessing               RuleAction = "DelayProcessing"
	ActionPutUnderReview                RuleAction = "PutUnderReview"
	ActionRejectTransaction             RuleAction = "RejectTransaction"
	ActionTerminateSession              RuleAction = "TerminateSession"
	ActionLockAccount                   RuleAction = "LockAccount"
	ActionSuspendAccount                RuleAction = "SuspendAccount"
	ActionRequireKYCVerification        RuleAction = "RequireKYCVerification"
	ActionBlockDevice                   RuleAction = "BlockDevice"
	ActionBlockIP                       RuleAction = "BlockIP"
	ActionBlacklistIP                   RuleAction = "BlacklistIP"
	ActionEscalateToManager             RuleAction = "EscalateToManager"
)

// Valid reports whether a is a known action.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionLog, ActionNotify, ActionRequireAdditionalVerification, ActionDelayProcessing,
		ActionPutUnderReview, ActionRejectTransaction, ActionTerminateSession, ActionLockAccount,
		ActionSuspendAccount, ActionRequireKYCVerification, ActionBlockDevice, ActionBlockIP,
		ActionBlacklistIP, ActionEscalateToManager:
		return true
	}
	return false
}

// IsHardStop reports whether the action forces a Deny decision when applied.
func (a RuleAction) IsHardStop() bool {
	switch a {
	case ActionRejectTransaction, ActionBlockIP, ActionLockAccount, ActionSuspendAccount, ActionBlacklistIP:
		return true
	}
	return false
}

// FraudRule is a reusable risk rule definition.
type FraudRule struct {
	ID             string          `json:"id"`
	RuleCode       string          `json:"ruleCode"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Category       RuleCategory    `json:"category"`
	Type           RuleType        `json:"type"`
	ImpactLevel    ImpactLevel     `json:"impactLevel"`
	Status         RuleStatus      `json:"status"`
	Actions        []RuleAction    `json:"actions"`
	ActionDuration time.Duration   `json:"actionDuration,omitempty"`
	Priority       int             `json:"priority"`
	Condition      string          `json:"condition,omitempty"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	ValidFrom      *time.Time      `json:"validFrom,omitempty"`
	ValidTo        *time.Time      `json:"validTo,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	ModifiedBy     string          `json:"modifiedBy,omitempty"`
}

// IsTestMode reports whether the rule evaluates without applying actions.
func (r *FraudRule) IsTestMode() bool {
	return r.Status == RuleStatusTestMode
}

// IsSelectable reports whether the rule may fire at the given instant.
func (r *FraudRule) IsSelectable(now time.Time) bool {
	if r.Status != RuleStatusActive && r.Status != RuleStatusTestMode {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return false
	}
	return true
}

// Activate moves the rule into the Active state.
func (r *FraudRule) Activate(by string, now time.Time) error {
	if r.Status == RuleStatusArchived {
		return fmt.Errorf("%w: cannot activate archived rule %s", ErrInvalidTransition, r.RuleCode)
	}
	r.touch(RuleStatusActive, by, now)
	return nil
}

// Deactivate moves the rule into the Inactive state.
func (r *FraudRule) Deactivate(by string, now time.Time) error {
	if r.Status == RuleStatusArchived || r.Status == RuleStatusDraft {
		return fmt.Errorf("%w: cannot deactivate %s rule %s", ErrInvalidTransition, r.Status, r.RuleCode)
	}
	r.touch(RuleStatusInactive, by, now)
	return nil
}

// SetTestMode switches between TestMode and Active.
func (r *FraudRule) SetTestMode(enabled bool, by string, now time.Time) error {
	if r.Status == RuleStatusArchived {
		return fmt.Errorf("%w: cannot change test mode of archived rule %s", ErrInvalidTransition, r.RuleCode)
	}
	if enabled {
		r.touch(RuleStatusTestMode, by, now)
		return nil
	}
	r.touch(RuleStatusActive, by, now)
	return nil
}

// Archive retires the rule permanently.
func (r *FraudRule) Archive(by string, now time.Time) {
	r.touch(RuleStatusArchived, by, now)
}

func (r *FraudRule) touch(status RuleStatus, by string, now time.Time) {
	r.Status = status
	r.ModifiedBy = by
	r.UpdatedAt = now
	r.Version++
}

// HasAction reports whether any of the given actions is attached to the rule.
func (r *FraudRule) HasAction(actions ...RuleAction) bool {
	for _, have := range r.Actions {
		for _, want := range actions {
			if have == want {
				return true
			}
		}
	}
	return false
}

// GenerateRuleCode builds a code such as TRA_HVT_250101120000 from the
// category, the initials of the name and the creation time.
func GenerateRuleCode(category RuleCategory, name string, at time.Time) string {
	prefix := strings.ToUpper(string(category))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}

	var abbrev strings.Builder
	for _, word := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if abbrev.Len() >= 5 {
			break
		}
		abbrev.WriteRune(unicode.ToUpper([]rune(word)[0]))
	}
	if abbrev.Len() == 0 {
		abbrev.WriteString("RULE")
	}

	return fmt.Sprintf("%s_%s_%s", prefix, abbrev.String(), at.UTC().Format("060102150405"))
}
