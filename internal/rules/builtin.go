package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type builtinRule struct {
	code       string
	name       string
	category   domain.RuleCategory
	typ        domain.RuleType
	impact     domain.ImpactLevel
	priority   int
	actions    []domain.RuleAction
	duration   time.Duration
	condition  string
	parameters string
}

var builtinRules = []builtinRule{
	{
		code: "NET_TOR", name: "Tor network connection",
		category: domain.CategoryNetwork, typ: domain.RuleTypeSimple, impact: domain.ImpactCritical, priority: 10,
		actions:    []domain.RuleAction{domain.ActionBlockIP},
		parameters: `{"checkTorNetwork": true}`,
	},
	{
		code: "IP_ACCOUNTS", name: "Many accounts from one IP",
		category: domain.CategoryIP, typ: domain.RuleTypeSimple, impact: domain.ImpactMedium, priority: 20,
		actions:    []domain.RuleAction{domain.ActionPutUnderReview},
		parameters: `{"maxDifferentAccounts": 3}`,
	},
	{
		code: "IP_FAILED_LOGINS", name: "Failed logins from one IP",
		category: domain.CategoryIP, typ: domain.RuleTypeSimple, impact: domain.ImpactHigh, priority: 20,
		actions:    []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		parameters: `{"maxFailedLogins": 20}`,
	},
	{
		code: "ACC_COUNTRIES", name: "Account used from many countries",
		category: domain.CategoryAccount, typ: domain.RuleTypeSimple, impact: domain.ImpactCritical, priority: 20,
		actions:    []domain.RuleAction{domain.ActionLockAccount},
		duration:   24 * time.Hour,
		parameters: `{"maxDifferentCountries": 4}`,
	},
	{
		code: "TRX_HIGH_AMOUNT", name: "High amount transaction",
		category: domain.CategoryTransaction, typ: domain.RuleTypeThreshold, impact: domain.ImpactMedium, priority: 30,
		actions:    []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		parameters: `{"valueField": "Amount", "operator": ">", "threshold": 10000, "currency": "TRY"}`,
	},
	{
		code: "TRX_ABOVE_AVERAGE", name: "Amount far above account average",
		category: domain.CategoryTransaction, typ: domain.RuleTypeComplex, impact: domain.ImpactMedium, priority: 30,
		actions:    []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		condition:  "UserAverageTransactionAmount > 0 AND Transaction.Amount > (UserAverageTransactionAmount * multiplier)",
		parameters: `{"variables": {"multiplier": 5}}`,
	},
	{
		code: "TRX_VELOCITY", name: "Many transactions in an hour",
		category: domain.CategoryTransaction, typ: domain.RuleTypeThreshold, impact: domain.ImpactMedium, priority: 30,
		actions:    []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		parameters: `{"event": "transaction", "key": "account", "windowMinutes": 60, "maxCount": 10}`,
	},
	{
		code: "TIM_NIGHT_AMOUNT", name: "High amount at night",
		category: domain.CategoryTime, typ: domain.RuleTypeComplex, impact: domain.ImpactHigh, priority: 40,
		actions:   []domain.RuleAction{domain.ActionPutUnderReview},
		condition: "has(Transaction.Amount) AND Transaction.Hour <= 6 AND Transaction.Amount > 5000 AND Transaction.Currency = 'TRY'",
	},
	{
		code: "DEV_JAILBREAK", name: "Jailbroken device",
		category: domain.CategoryDevice, typ: domain.RuleTypeSimple, impact: domain.ImpactMedium, priority: 40,
		actions:    []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		parameters: `{"checkJailbreak": true, "checkEmulator": true}`,
	},
	{
		code: "SES_LONG", name: "Unusually long session",
		category: domain.CategorySession, typ: domain.RuleTypeSimple, impact: domain.ImpactLow, priority: 50,
		actions:    []domain.RuleAction{domain.ActionLog},
		parameters: `{"maxSessionDurationMinutes": 30}`,
	},
}

// BuiltinRules returns the starter rule set, Active as of now.
func BuiltinRules(now time.Time) []*domain.FraudRule {
	out := make([]*domain.FraudRule, 0, len(builtinRules))
	for _, b := range builtinRules {
		rule := &domain.FraudRule{
			ID:             uuid.New().String(),
			RuleCode:       b.code,
			Name:           b.name,
			Category:       b.category,
			Type:           b.typ,
			ImpactLevel:    b.impact,
			Status:         domain.RuleStatusActive,
			Actions:        b.actions,
			ActionDuration: b.duration,
			Priority:       b.priority,
			Condition:      b.condition,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
			CreatedBy:      "system",
			ModifiedBy:     "system",
		}
		if b.parameters != "" {
			rule.Parameters = json.RawMessage(b.parameters)
		}
		out = append(out, rule)
	}
	return out
}

// SeedBuiltinRules stores the builtin rules when the repository holds none.
// It returns the number of rules written.
func SeedBuiltinRules(ctx context.Context, repo domain.RuleRepository, now time.Time) (int, error) {
	existing, err := repo.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	rules := BuiltinRules(now)
	for _, rule := range rules {
		if err := repo.SaveRule(ctx, rule); err != nil {
			return 0, fmt.Errorf("failed to seed rule %s: %w", rule.RuleCode, err)
		}
	}
	return len(rules), nil
}
