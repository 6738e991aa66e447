package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRuleSelectable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		rule FraudRule
		want bool
	}{
		{"active", FraudRule{Status: RuleStatusActive}, true},
		{"test mode", FraudRule{Status: RuleStatusTestMode}, true},
		{"draft", FraudRule{Status: RuleStatusDraft}, false},
		{"inactive", FraudRule{Status: RuleStatusInactive}, false},
		{"not yet valid", FraudRule{Status: RuleStatusActive, ValidFrom: &future}, false},
		{"expired", FraudRule{Status: RuleStatusActive, ValidTo: &past}, false},
		{"inside window", FraudRule{Status: RuleStatusActive, ValidFrom: &past, ValidTo: &future}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.IsSelectable(now); got != tt.want {
				t.Errorf("IsSelectable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRuleLifecycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rule := &FraudRule{RuleCode: "TRA_HV", Status: RuleStatusDraft, Version: 1}

	if err := rule.Deactivate("ops", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition deactivating a draft, got %v", err)
	}

	if err := rule.Activate("ops", now); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if rule.Status != RuleStatusActive || rule.Version != 2 || rule.ModifiedBy != "ops" {
		t.Errorf("unexpected rule after activate: %+v", rule)
	}

	if err := rule.SetTestMode(true, "ops", now); err != nil {
		t.Fatalf("SetTestMode failed: %v", err)
	}
	if !rule.IsTestMode() {
		t.Error("expected rule in test mode")
	}

	rule.Archive("ops", now)
	if err := rule.Activate("ops", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition activating archived rule, got %v", err)
	}
}

func TestActionHardStop(t *testing.T) {
	for _, a := range []RuleAction{ActionRejectTransaction, ActionBlockIP, ActionLockAccount, ActionSuspendAccount, ActionBlacklistIP} {
		if !a.IsHardStop() {
			t.Errorf("expected %s to be a hard stop", a)
		}
	}
	for _, a := range []RuleAction{ActionLog, ActionNotify, ActionPutUnderReview, ActionRequireAdditionalVerification} {
		if a.IsHardStop() {
			t.Errorf("expected %s not to be a hard stop", a)
		}
	}
}

func TestGenerateRuleCode(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	code := GenerateRuleCode(CategoryTransaction, "High value transfer", at)
	if code != "TRA_HVT_250102030405" {
		t.Errorf("unexpected code %s", code)
	}

	code = GenerateRuleCode(CategoryIP, "--", at)
	if !strings.HasPrefix(code, "IP_RULE_") {
		t.Errorf("unexpected fallback code %s", code)
	}
}

func TestContextCategories(t *testing.T) {
	ctx := &RuleEvaluationContext{
		Transaction: &TransactionContext{TransactionID: "tx-1", Country: "TR"},
		IP:          &IPContext{IPAddress: "10.0.0.1"},
	}

	have := make(map[RuleCategory]bool)
	for _, c := range ctx.Categories() {
		have[c] = true
	}

	for _, want := range []RuleCategory{CategoryTransaction, CategoryIP, CategoryNetwork, CategoryLocation, CategoryTime, CategoryComplex} {
		if !have[want] {
			t.Errorf("expected category %s", want)
		}
	}
	for _, absent := range []RuleCategory{CategoryAccount, CategoryDevice, CategorySession, CategoryBehavior} {
		if have[absent] {
			t.Errorf("did not expect category %s", absent)
		}
	}
}
