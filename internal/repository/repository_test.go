package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRule(id, code string, status domain.RuleStatus, priority int) *domain.FraudRule {
	return &domain.FraudRule{
		ID:          id,
		RuleCode:    code,
		Name:        code,
		Category:    domain.CategoryTransaction,
		Type:        domain.RuleTypeThreshold,
		ImpactLevel: domain.ImpactMedium,
		Status:      status,
		Actions:     []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		Priority:    priority,
		Parameters:  json.RawMessage(`{"valueField":"Amount","threshold":10000}`),
		Version:     1,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
		CreatedBy:   "analyst",
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("UnsupportedDriver", func(t *testing.T) {
		if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}

func TestRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		rule := testRule("r-1", "TRA_HVT_1", domain.RuleStatusActive, 30)
		validTo := testNow.Add(24 * time.Hour)
		rule.ValidTo = &validTo
		rule.ActionDuration = time.Hour

		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		got, err := repo.GetRule(ctx, "r-1")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.RuleCode != "TRA_HVT_1" || got.Status != domain.RuleStatusActive {
			t.Errorf("unexpected rule %+v", got)
		}
		if len(got.Actions) != 1 || got.Actions[0] != domain.ActionRequireAdditionalVerification {
			t.Errorf("actions not round-tripped: %v", got.Actions)
		}
		if got.ValidTo == nil || !got.ValidTo.Equal(validTo) {
			t.Errorf("expected validTo %v, got %v", validTo, got.ValidTo)
		}
		if got.ValidFrom != nil {
			t.Errorf("expected nil validFrom, got %v", got.ValidFrom)
		}
		if got.ActionDuration != time.Hour {
			t.Errorf("expected 1h action duration, got %v", got.ActionDuration)
		}
		if string(got.Parameters) != string(rule.Parameters) {
			t.Errorf("parameters not round-tripped: %s", got.Parameters)
		}

		byCode, err := repo.GetRuleByCode(ctx, "TRA_HVT_1")
		if err != nil || byCode.ID != "r-1" {
			t.Errorf("GetRuleByCode failed: %v", err)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		rule := testRule("r-1", "TRA_HVT_1", domain.RuleStatusInactive, 30)
		rule.Version = 2
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		got, _ := repo.GetRule(ctx, "r-1")
		if got.Status != domain.RuleStatusInactive || got.Version != 2 {
			t.Errorf("expected updated rule, got status=%s version=%d", got.Status, got.Version)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetRule(ctx, "missing"); !errors.Is(err, domain.ErrRuleNotFound) {
			t.Errorf("expected ErrRuleNotFound, got %v", err)
		}
		if _, err := repo.GetRuleByCode(ctx, "missing"); !errors.Is(err, domain.ErrRuleNotFound) {
			t.Errorf("expected ErrRuleNotFound, got %v", err)
		}
		if err := repo.DeleteRule(ctx, "missing"); !errors.Is(err, domain.ErrRuleNotFound) {
			t.Errorf("expected ErrRuleNotFound, got %v", err)
		}
	})

	t.Run("ListSelectable", func(t *testing.T) {
		_ = repo.SaveRule(ctx, testRule("r-2", "TRA_B", domain.RuleStatusActive, 20))
		_ = repo.SaveRule(ctx, testRule("r-3", "TRA_A", domain.RuleStatusTestMode, 20))
		_ = repo.SaveRule(ctx, testRule("r-4", "TRA_DRAFT", domain.RuleStatusDraft, 1))
		network := testRule("r-5", "NET_TOR", domain.RuleStatusActive, 10)
		network.Category = domain.CategoryNetwork
		_ = repo.SaveRule(ctx, network)

		rules, err := repo.ListSelectableRules(ctx, "")
		if err != nil {
			t.Fatalf("ListSelectableRules failed: %v", err)
		}
		var codes []string
		for _, r := range rules {
			codes = append(codes, r.RuleCode)
		}
		want := []string{"NET_TOR", "TRA_A", "TRA_B"}
		if len(codes) != len(want) {
			t.Fatalf("expected %v, got %v", want, codes)
		}
		for i := range want {
			if codes[i] != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], codes[i])
			}
		}

		rules, _ = repo.ListSelectableRules(ctx, domain.CategoryNetwork)
		if len(rules) != 1 || rules[0].RuleCode != "NET_TOR" {
			t.Errorf("category filter failed: %d rules", len(rules))
		}

		all, _ := repo.ListRules(ctx)
		if len(all) != 5 {
			t.Errorf("expected 5 rules, got %d", len(all))
		}
	})

	t.Run("DeleteArchives", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, "r-2"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		got, err := repo.GetRule(ctx, "r-2")
		if err != nil {
			t.Fatalf("archived rule must still be readable: %v", err)
		}
		if got.Status != domain.RuleStatusArchived {
			t.Errorf("expected Archived, got %s", got.Status)
		}
	})
}

func TestBlacklist(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	permanent, _ := domain.NewBlacklistItem(domain.BlacklistIPAddress, "10.0.0.1", "fraud", 0, "analyst", testNow)
	temporary, _ := domain.NewBlacklistItem(domain.BlacklistAccount, "acc-1", "chargebacks", time.Hour, "analyst", testNow)
	for _, item := range []*domain.BlacklistItem{permanent, temporary} {
		if err := repo.AddBlacklistItem(ctx, item); err != nil {
			t.Fatalf("AddBlacklistItem failed: %v", err)
		}
	}

	t.Run("IsBlacklisted", func(t *testing.T) {
		listed, err := repo.IsBlacklisted(ctx, domain.BlacklistIPAddress, "10.0.0.1", testNow)
		if err != nil || !listed {
			t.Errorf("expected IP to be blacklisted, got %v (%v)", listed, err)
		}
		listed, _ = repo.IsBlacklisted(ctx, domain.BlacklistAccount, "acc-1", testNow.Add(2*time.Hour))
		if listed {
			t.Error("expired item must not match")
		}
	})

	t.Run("ListActive", func(t *testing.T) {
		items, err := repo.ListActiveBlacklist(ctx, testNow)
		if err != nil {
			t.Fatalf("ListActiveBlacklist failed: %v", err)
		}
		if len(items) != 2 {
			t.Errorf("expected 2 active items, got %d", len(items))
		}
		items, _ = repo.ListActiveBlacklist(ctx, testNow.Add(2*time.Hour))
		if len(items) != 1 {
			t.Errorf("expected 1 active item after expiry, got %d", len(items))
		}
	})

	t.Run("GetExpired", func(t *testing.T) {
		items, err := repo.GetExpiredBlacklist(ctx, testNow.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("GetExpiredBlacklist failed: %v", err)
		}
		if len(items) != 1 || items[0].ID != temporary.ID {
			t.Fatalf("expected the temporary item, got %d items", len(items))
		}
		if items[0].ExpiryDate == nil || !items[0].ExpiryDate.Equal(testNow.Add(time.Hour)) {
			t.Errorf("expiry not round-tripped: %v", items[0].ExpiryDate)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		item, err := repo.GetBlacklistItem(ctx, permanent.ID)
		if err != nil {
			t.Fatalf("GetBlacklistItem failed: %v", err)
		}
		if err := item.Invalidate("lead", testNow); err != nil {
			t.Fatal(err)
		}
		if err := repo.UpdateBlacklistStatus(ctx, item); err != nil {
			t.Fatalf("UpdateBlacklistStatus failed: %v", err)
		}

		got, _ := repo.GetBlacklistItem(ctx, permanent.ID)
		if got.Status != domain.BlacklistInvalidated || got.InvalidatedBy != "lead" || got.InvalidatedAt == nil {
			t.Errorf("unexpected item after invalidation: %+v", got)
		}
		if got.Value != "10.0.0.1" {
			t.Errorf("value must not change, got %s", got.Value)
		}

		listed, _ := repo.IsBlacklisted(ctx, domain.BlacklistIPAddress, "10.0.0.1", testNow)
		if listed {
			t.Error("invalidated item must not match")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetBlacklistItem(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAnalysisResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	result := &domain.AnalysisResult{
		ID:                 "a-1",
		TransactionID:      "tx-1",
		AccountID:          "acc-1",
		FraudProbability:   0.3,
		AnomalyScore:       -1.2,
		RiskScore:          0.6,
		RiskLevel:          domain.RiskMedium,
		Decision:           domain.DecisionRequireAdditionalVerification,
		Status:             domain.AnalysisCompleted,
		TotalRuleCount:     3,
		TriggeredRuleCount: 1,
		TriggeredRules: []domain.TriggeredRuleInfo{
			{RuleID: "r-1", RuleCode: "TRX_HIGH_AMOUNT", Confidence: 1, Score: 0.6},
		},
		AppliedActions: []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		RiskFactors: []domain.RiskFactor{
			{ID: "f-1", Code: "TRX_HIGH_AMOUNT", Type: domain.FactorRuleViolation, Severity: domain.RiskMedium, Confidence: 1, Source: "RuleEngine", RuleID: "r-1", DetectedAt: testNow},
		},
		MLAnalysis: domain.MLAnalysis{Health: domain.ModelHealth{ClassifierAvailable: true}},
		AnalyzedAt: testNow,
	}

	if err := repo.SaveAnalysisResult(ctx, result); err != nil {
		t.Fatalf("SaveAnalysisResult failed: %v", err)
	}

	got, err := repo.GetAnalysisResult(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAnalysisResult failed: %v", err)
	}
	if got.Decision != result.Decision || got.RiskLevel != result.RiskLevel || got.RiskScore != 0.6 {
		t.Errorf("unexpected result %+v", got)
	}
	if len(got.TriggeredRules) != 1 || got.TriggeredRules[0].RuleCode != "TRX_HIGH_AMOUNT" {
		t.Errorf("triggered rules not round-tripped: %+v", got.TriggeredRules)
	}
	if len(got.RiskFactors) != 1 || got.RiskFactors[0].AnalysisID != "a-1" {
		t.Errorf("risk factors not owned by the result: %+v", got.RiskFactors)
	}
	if !got.MLAnalysis.Health.ClassifierAvailable {
		t.Error("ml analysis not round-tripped")
	}
	if !got.AnalyzedAt.Equal(testNow) {
		t.Errorf("expected analyzedAt %v, got %v", testNow, got.AnalyzedAt)
	}

	t.Run("RejectsInvalidCounts", func(t *testing.T) {
		bad := *result
		bad.ID = "a-2"
		bad.TotalRuleCount = 0
		if err := repo.SaveAnalysisResult(ctx, &bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetAnalysisResult(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestFraudRuleEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := testRule("r-1", "ACC_COUNTRIES", domain.RuleStatusActive, 20)
	rule.Actions = []domain.RuleAction{domain.ActionLockAccount}
	rule.ActionDuration = 24 * time.Hour
	c := &domain.RuleEvaluationContext{Account: &domain.AccountContext{AccountID: "acc-1"}}

	first := domain.NewFraudRuleEvent(rule, c, "4 countries", testNow)
	second := domain.NewFraudRuleEvent(rule, c, "5 countries", testNow.Add(time.Minute))
	if err := repo.SaveFraudRuleEvents(ctx, []*domain.FraudRuleEvent{first, second}); err != nil {
		t.Fatalf("SaveFraudRuleEvents failed: %v", err)
	}

	got, err := repo.GetFraudRuleEvent(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetFraudRuleEvent failed: %v", err)
	}
	if got.AccountID != "acc-1" || got.Status != domain.EventNew {
		t.Errorf("unexpected event %+v", got)
	}
	if got.ActionEndDate == nil || !got.ActionEndDate.Equal(testNow.Add(24*time.Hour)) {
		t.Errorf("action end date not round-tripped: %v", got.ActionEndDate)
	}

	events, err := repo.ListFraudRuleEvents(ctx, domain.EventFilter{Status: domain.EventNew, Limit: 10})
	if err != nil {
		t.Fatalf("ListFraudRuleEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].ID != second.ID {
		t.Errorf("expected newest first, got %d events", len(events))
	}

	other := domain.NewFraudRuleEvent(rule, &domain.RuleEvaluationContext{
		Account: &domain.AccountContext{AccountID: "acc-2"},
		IP:      &domain.IPContext{IPAddress: "203.0.113.5"},
	}, "6 countries", testNow.Add(2*time.Minute))
	if err := repo.SaveFraudRuleEvents(ctx, []*domain.FraudRuleEvent{other}); err != nil {
		t.Fatalf("SaveFraudRuleEvents failed: %v", err)
	}

	byAccount, err := repo.ListFraudRuleEvents(ctx, domain.EventFilter{AccountID: "acc-1"})
	if err != nil {
		t.Fatalf("ListFraudRuleEvents by account failed: %v", err)
	}
	if len(byAccount) != 2 {
		t.Errorf("expected 2 events for acc-1, got %d", len(byAccount))
	}
	byIP, _ := repo.ListFraudRuleEvents(ctx, domain.EventFilter{IPAddress: "203.0.113.5"})
	if len(byIP) != 1 || byIP[0].ID != other.ID {
		t.Errorf("expected only the acc-2 event for the IP, got %d", len(byIP))
	}
	none, _ := repo.ListFraudRuleEvents(ctx, domain.EventFilter{AccountID: "acc-2", IPAddress: "10.0.0.1"})
	if len(none) != 0 {
		t.Errorf("filters must combine with AND, got %d", len(none))
	}

	if err := got.StartInvestigation("analyst", testNow.Add(30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateFraudRuleEvent(ctx, got); err != nil {
		t.Fatalf("UpdateFraudRuleEvent failed: %v", err)
	}
	investigated, _ := repo.GetFraudRuleEvent(ctx, first.ID)
	if investigated.InvestigatedBy != "analyst" || investigated.InvestigatedAt == nil || investigated.ResolvedBy != "" {
		t.Errorf("investigation not round-tripped: %+v", investigated)
	}

	if err := got.Resolve(domain.EventResolvedFraud, "confirmed", "lead", testNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateFraudRuleEvent(ctx, got); err != nil {
		t.Fatalf("UpdateFraudRuleEvent failed: %v", err)
	}

	events, _ = repo.ListFraudRuleEvents(ctx, domain.EventFilter{Status: domain.EventNew, Limit: 10})
	if len(events) != 2 {
		t.Errorf("expected 1 open event, got %d", len(events))
	}
	resolved, _ := repo.GetFraudRuleEvent(ctx, first.ID)
	if resolved.Status != domain.EventResolvedFraud || resolved.ResolvedAt == nil || resolved.InvestigatedBy != "analyst" {
		t.Errorf("unexpected resolved event %+v", resolved)
	}
}

func TestAccountHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	save := func(id, account string, at time.Time, codes ...string) {
		t.Helper()
		res := &domain.AnalysisResult{
			ID:             id,
			AccountID:      account,
			RiskScore:      0.6,
			RiskLevel:      domain.RiskMedium,
			Decision:       domain.DecisionRequireAdditionalVerification,
			Status:         domain.AnalysisCompleted,
			TriggeredRules: []domain.TriggeredRuleInfo{},
			AppliedActions: []domain.RuleAction{},
			AnalyzedAt:     at,
		}
		for _, code := range codes {
			res.RiskFactors = append(res.RiskFactors, domain.RiskFactor{
				ID: id + "-" + code, Code: code, Type: domain.FactorRuleViolation,
				Severity: domain.RiskMedium, Confidence: 1, DetectedAt: at,
			})
		}
		if err := repo.SaveAnalysisResult(ctx, res); err != nil {
			t.Fatalf("SaveAnalysisResult failed: %v", err)
		}
	}
	save("h-1", "acc-1", testNow.Add(-2*time.Hour), "TRX_HIGH_AMOUNT", "NET_TOR")
	save("h-2", "acc-1", testNow.Add(-time.Hour), "TRX_HIGH_AMOUNT")
	save("h-3", "acc-1", testNow.Add(-72*time.Hour), "NET_TOR")
	save("h-4", "acc-2", testNow.Add(-time.Hour), "NET_TOR")

	since := testNow.Add(-24 * time.Hour)

	results, err := repo.ListAccountAnalyses(ctx, "acc-1", since, 0)
	if err != nil {
		t.Fatalf("ListAccountAnalyses failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "h-2" || results[1].ID != "h-1" {
		t.Errorf("expected h-2 then h-1, got %d results", len(results))
	}

	factors, err := repo.ListAccountRiskFactors(ctx, "acc-1", since, 0)
	if err != nil {
		t.Fatalf("ListAccountRiskFactors failed: %v", err)
	}
	if len(factors) != 3 {
		t.Errorf("expected 3 factors in the window, got %d", len(factors))
	}
	for _, f := range factors {
		if f.DetectedAt.Before(since) {
			t.Errorf("factor %s detected before the window", f.ID)
		}
	}

	all, _ := repo.ListAccountRiskFactors(ctx, "acc-1", time.Time{}, 0)
	if len(all) != 4 {
		t.Errorf("expected 4 factors without a bound, got %d", len(all))
	}

	if _, err := repo.ListAccountAnalyses(ctx, "", since, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without account, got %v", err)
	}
}

func TestAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	newAlert := func(id, account string, level domain.RiskLevel, at time.Time) *domain.FraudAlert {
		return &domain.FraudAlert{
			ID:         id,
			AnalysisID: "a-" + id,
			AccountID:  account,
			Level:      level,
			Status:     domain.AlertActive,
			RiskScore:  0.95,
			Decision:   domain.DecisionDeny,
			Factors:    []string{"NET_TOR"},
			CreatedAt:  at,
		}
	}
	for _, a := range []*domain.FraudAlert{
		newAlert("al-1", "acc-1", domain.RiskCritical, testNow.Add(-time.Hour)),
		newAlert("al-2", "acc-1", domain.RiskHigh, testNow),
		newAlert("al-3", "acc-2", domain.RiskCritical, testNow),
	} {
		if err := repo.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
	}

	got, err := repo.GetAlert(ctx, "al-1")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if got.Level != domain.RiskCritical || len(got.Factors) != 1 || got.Factors[0] != "NET_TOR" {
		t.Errorf("alert not round-tripped: %+v", got)
	}

	byAccount, _ := repo.ListAlerts(ctx, domain.AlertFilter{AccountID: "acc-1"})
	if len(byAccount) != 2 || byAccount[0].ID != "al-2" {
		t.Errorf("expected 2 alerts for acc-1, newest first, got %d", len(byAccount))
	}

	if err := got.Assign("analyst", testNow); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if err := repo.UpdateAlert(ctx, got); err != nil {
		t.Fatalf("UpdateAlert failed: %v", err)
	}
	if err := got.Resolve("confirmed fraud", "lead", testNow.Add(time.Hour)); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if err := repo.UpdateAlert(ctx, got); err != nil {
		t.Fatalf("UpdateAlert failed: %v", err)
	}

	resolved, _ := repo.GetAlert(ctx, "al-1")
	if resolved.Status != domain.AlertResolved || resolved.AssignedTo != "analyst" || resolved.ResolvedBy != "lead" || resolved.ResolvedAt == nil {
		t.Errorf("unexpected resolved alert: %+v", resolved)
	}

	active, _ := repo.ListAlerts(ctx, domain.AlertFilter{Status: domain.AlertActive})
	if len(active) != 2 {
		t.Errorf("expected 2 active alerts, got %d", len(active))
	}

	if _, err := repo.GetAlert(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.UpdateAlert(ctx, newAlert("missing", "acc-1", domain.RiskHigh, testNow)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestActivity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, offset := range []time.Duration{-90 * time.Minute, -30 * time.Minute, -10 * time.Minute, 0} {
		ev := &domain.ActivityEvent{
			ID:         "act-" + string(rune('a'+i)),
			Kind:       domain.ActivityTransaction,
			AccountID:  "acc-1",
			IPAddress:  "10.0.0.1",
			Amount:     decimal.NewFromInt(100),
			OccurredAt: testNow.Add(offset),
		}
		if err := repo.SaveActivity(ctx, ev); err != nil {
			t.Fatalf("SaveActivity failed: %v", err)
		}
	}

	count, err := repo.CountActivity(ctx, domain.ActivityTransaction, domain.KeyAccount, "acc-1", testNow.Add(-time.Hour), testNow)
	if err != nil {
		t.Fatalf("CountActivity failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 events in the trailing hour, got %d", count)
	}

	count, _ = repo.CountActivity(ctx, domain.ActivityTransaction, domain.KeyIP, "10.0.0.1", testNow.Add(-2*time.Hour), testNow)
	if count != 4 {
		t.Errorf("expected 4 events by ip, got %d", count)
	}

	count, _ = repo.CountActivity(ctx, domain.ActivityLogin, domain.KeyAccount, "acc-1", testNow.Add(-2*time.Hour), testNow)
	if count != 0 {
		t.Errorf("expected no login events, got %d", count)
	}

	if _, err := repo.CountActivity(ctx, domain.ActivityTransaction, "email", "x", testNow, testNow); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown key, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query must be unchanged, got %s", got)
	}
}
