package rules

import (
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestNormalizeCondition(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Transaction.Amount > 10000", "Transaction.Amount > 10000.0"},
		{"IP.CountryCode = 'KP' AND IP.FailedLoginCount >= 3", "IP.CountryCode == 'KP' && IP.FailedLoginCount >= 3.0"},
		{"IP.CountryCode IN ('KP', 'IR') OR NOT Device.IsEmulator", "IP.CountryCode in ['KP', 'IR'] || ! Device.IsEmulator"},
		{"Transaction.Currency <> 'TRY'", "Transaction.Currency != 'TRY'"},
		{"(Transaction.Amount > 1.5) and (Session.DurationMinutes <= 30)", "(Transaction.Amount > 1.5) && (Session.DurationMinutes <= 30.0)"},
		{"Account.AccountId == 'a = b AND c'", "Account.AccountId == 'a = b AND c'"},
		{"Transaction.Hour IN (0, 1, 2)", "Transaction.Hour in [0.0, 1.0, 2.0]"},
		{"IP.CountryCode NOT IN ('KP', 'IR')", "!(IP.CountryCode in ['KP', 'IR'])"},
		{"Transaction.Amount > 5 and IP.CountryCode not in ('TR') OR Device.IsEmulator",
			"Transaction.Amount > 5.0 && !(IP.CountryCode in ['TR']) || Device.IsEmulator"},
		{"(Transaction.Hour NOT IN (1, 2))", "(!(Transaction.Hour in [1.0, 2.0]))"},
	}

	for _, tt := range tests {
		if got := normalizeCondition(tt.in); got != tt.want {
			t.Errorf("normalizeCondition(%q)\n got: %q\nwant: %q", tt.in, got, tt.want)
		}
	}
}

func TestCompileCondition(t *testing.T) {
	env, err := newConditionEnv()
	if err != nil {
		t.Fatalf("failed to create env: %v", err)
	}

	t.Run("NonBoolean", func(t *testing.T) {
		rule := &domain.FraudRule{RuleCode: "CPX", Condition: "UserAverageTransactionAmount * 2"}
		if _, err := compileCondition(env, rule, &ComplexParams{}); !errors.Is(err, domain.ErrRuleConditionMalformed) {
			t.Errorf("expected ErrRuleConditionMalformed, got %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		rule := &domain.FraudRule{RuleCode: "CPX", Condition: "  "}
		if _, err := compileCondition(env, rule, &ComplexParams{}); !errors.Is(err, domain.ErrRuleConditionMalformed) {
			t.Errorf("expected ErrRuleConditionMalformed, got %v", err)
		}
	})

	t.Run("MacrosDisabled", func(t *testing.T) {
		rule := &domain.FraudRule{RuleCode: "CPX", Condition: "[1, 2].exists(x, x > 1)"}
		if _, err := compileCondition(env, rule, &ComplexParams{}); err == nil {
			t.Error("expected comprehension macros to be unavailable")
		}
	})

	t.Run("Variables", func(t *testing.T) {
		rule := &domain.FraudRule{RuleCode: "CPX", Condition: "Behavior.velocity > limit"}
		program, err := compileCondition(env, rule, &ComplexParams{Variables: map[string]float64{"limit": 3}})
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}

		c := &domain.RuleEvaluationContext{Behavior: &domain.BehaviorContext{Features: map[string]float64{"velocity": 4}}}
		ok, err := evalCondition(program, conditionActivation(c, map[string]float64{"limit": 3}))
		if err != nil || !ok {
			t.Errorf("expected condition to hold, got %v, %v", ok, err)
		}
	})

	t.Run("NotInList", func(t *testing.T) {
		rule := &domain.FraudRule{RuleCode: "CPX", Condition: "IP.CountryCode NOT IN ('KP', 'IR')"}
		program, err := compileCondition(env, rule, &ComplexParams{})
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}

		for country, want := range map[string]bool{"TR": true, "KP": false} {
			c := &domain.RuleEvaluationContext{IP: &domain.IPContext{IPAddress: "10.0.0.1", CountryCode: country}}
			ok, err := evalCondition(program, conditionActivation(c, nil))
			if err != nil || ok != want {
				t.Errorf("country %s: expected %v, got %v, %v", country, want, ok, err)
			}
		}
	})

	t.Run("ShadowingVariable", func(t *testing.T) {
		p := &ComplexParams{Variables: map[string]float64{"Transaction": 1}}
		if err := p.validate(); err == nil {
			t.Error("expected error for variable shadowing a context map")
		}
	})
}
