package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/blacklist"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// createTestServer wires a server over an in-memory sqlite repository and a
// channel bus, without models.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	c := cache.NewLRUCache(100)
	clock := domain.SystemClock{}
	gate := blacklist.NewGate(repo, c, eventBus, clock, time.Minute)
	activity := velocity.NewService(repo, clock)

	engine, err := rules.NewEngine(repo, c, rules.Options{Counter: activity, Lists: gate, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	p, err := pipeline.New(pipeline.Config{
		Gate:     gate,
		Rules:    engine,
		Assessor: risk.NewAssessor(0.5),
		Store:    repo,
		Alerts:   repo,
		Activity: activity,
		Bus:      eventBus,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	server := NewServer(cfg, Deps{
		Repo:     repo,
		Cache:    c,
		Bus:      eventBus,
		Pipeline: p,
		Engine:   engine,
		Rules:    rules.NewManager(repo, engine, eventBus, clock),
		Gate:     gate,
		Activity: activity,
		Clock:    clock,
		Version:  "test-v1",
	})
	return server, repo
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "analyst-1")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

// createActiveRule creates and activates the TRY high-amount threshold rule.
func createActiveRule(t *testing.T, s *Server) *domain.FraudRule {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/rules", rules.CreateRuleInput{
		Name:        "High amount transaction",
		Category:    domain.CategoryTransaction,
		Type:        domain.RuleTypeThreshold,
		ImpactLevel: domain.ImpactMedium,
		Actions:     []domain.RuleAction{domain.ActionRequireAdditionalVerification},
		Priority:    30,
		Parameters:  json.RawMessage(`{"valueField":"Amount","operator":">","threshold":10000,"currency":"TRY"}`),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var rule domain.FraudRule
	decode(t, rr, &rule)

	rr = do(t, s, http.MethodPost, "/rules/"+rule.ID+"/activate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 on activate, got %d: %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &rule)
	return &rule
}

// createTorRule creates and activates a hard-stop rule for Tor exit nodes.
func createTorRule(t *testing.T, s *Server) *domain.FraudRule {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/rules", rules.CreateRuleInput{
		Name:        "Tor network connection",
		Category:    domain.CategoryNetwork,
		Type:        domain.RuleTypeSimple,
		ImpactLevel: domain.ImpactCritical,
		Actions:     []domain.RuleAction{domain.ActionBlockIP},
		Priority:    10,
		Parameters:  json.RawMessage(`{"checkTorNetwork": true}`),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var rule domain.FraudRule
	decode(t, rr, &rule)

	rr = do(t, s, http.MethodPost, "/rules/"+rule.ID+"/activate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 on activate, got %d: %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &rule)
	return &rule
}

func torBody(txID string) map[string]any {
	body := evaluationBody(txID, 100, "198.51.100.7")
	body["ip"] = map[string]any{"ipAddress": "198.51.100.7", "isTorExitNode": true}
	return body
}

func evaluationBody(txID string, amount float64, ip string) map[string]any {
	return map[string]any{
		"transaction": map[string]any{
			"transactionId": txID,
			"amount":        amount,
			"currency":      "TRY",
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		},
		"account": map[string]any{"accountId": "acc-42"},
		"ip":      map[string]any{"ipAddress": ip},
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	server, repo := createTestServer(t)
	createActiveRule(t, server)

	t.Run("HighAmountRequiresVerification", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate", evaluationBody("tx-1001", 15000, "10.0.0.1"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		decode(t, rr, &resp)

		if resp.Result.Decision != domain.DecisionRequireAdditionalVerification {
			t.Errorf("expected RequireAdditionalVerification, got %s", resp.Result.Decision)
		}
		if resp.Result.RiskLevel != domain.RiskMedium {
			t.Errorf("expected Medium risk, got %s", resp.Result.RiskLevel)
		}
		if resp.EventCount != 1 {
			t.Errorf("expected 1 rule event, got %d", resp.EventCount)
		}
		if len(resp.Reasons) == 0 {
			t.Error("expected reasons")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected trace id")
		}

		// Stored result is retrievable
		rr = do(t, server, http.MethodGet, "/analyses/"+resp.Result.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 for stored analysis, got %d", rr.Code)
		}
		var stored domain.AnalysisResult
		decode(t, rr, &stored)
		if stored.Decision != resp.Result.Decision {
			t.Errorf("stored decision %s differs from %s", stored.Decision, resp.Result.Decision)
		}
		if len(stored.RiskFactors) != len(resp.Result.RiskFactors) {
			t.Errorf("expected %d stored factors, got %d", len(resp.Result.RiskFactors), len(stored.RiskFactors))
		}
	})

	t.Run("LowAmountApproved", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate", evaluationBody("tx-1002", 500, "10.0.0.1"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp EvaluateResponse
		decode(t, rr, &resp)
		if resp.Result.Decision != domain.DecisionApprove {
			t.Errorf("expected Approve, got %s", resp.Result.Decision)
		}
	})

	t.Run("BlacklistedIPDenied", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/blacklist", BlacklistRequest{
			Type:   domain.BlacklistIPAddress,
			Value:  "203.0.113.9",
			Reason: "card testing",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(t, server, http.MethodPost, "/evaluate", evaluationBody("tx-1003", 10, "203.0.113.9"))
		var resp EvaluateResponse
		decode(t, rr, &resp)
		if resp.Result.Decision != domain.DecisionDeny {
			t.Errorf("expected Deny, got %s", resp.Result.Decision)
		}
		if resp.Result.RiskLevel != domain.RiskCritical {
			t.Errorf("expected Critical, got %s", resp.Result.RiskLevel)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("invalid json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyContext", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate", map[string]any{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownAnalysis", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analyses/does-not-exist", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("RecordedActivity", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/activity", map[string]any{
			"kind":      domain.ActivityFailedLogin,
			"accountId": "acc-42",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		n, err := repo.CountActivity(context.Background(), domain.ActivityFailedLogin, domain.KeyAccount, "acc-42",
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("CountActivity failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 recorded activity, got %d", n)
		}

		rr = do(t, server, http.MethodPost, "/activity", map[string]any{"kind": domain.ActivityLogin})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without a key, got %d", rr.Code)
		}
	})
}

func TestRuleLifecycleEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	rule := createActiveRule(t, server)

	if rule.Status != domain.RuleStatusActive {
		t.Fatalf("expected Active rule, got %s", rule.Status)
	}
	if rule.RuleCode == "" {
		t.Error("expected generated rule code")
	}
	if rule.ModifiedBy != "analyst-1" {
		t.Errorf("expected modifiedBy 'analyst-1', got '%s'", rule.ModifiedBy)
	}

	t.Run("List", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/rules?status=Active", nil)
		var resp struct {
			Count  int `json:"count"`
			Loaded int `json:"loaded"`
		}
		decode(t, rr, &resp)
		if resp.Count != 1 || resp.Loaded != 1 {
			t.Errorf("expected 1 active and loaded rule, got count=%d loaded=%d", resp.Count, resp.Loaded)
		}
	})

	t.Run("ListByAction", func(t *testing.T) {
		var resp struct {
			Count int `json:"count"`
		}
		rr := do(t, server, http.MethodGet, "/rules?action=BlockIP&action=RequireAdditionalVerification", nil)
		decode(t, rr, &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 rule with a listed action, got %d", resp.Count)
		}

		rr = do(t, server, http.MethodGet, "/rules?action=LockAccount", nil)
		decode(t, rr, &resp)
		if resp.Count != 0 {
			t.Errorf("expected no rule locking accounts, got %d", resp.Count)
		}
	})

	t.Run("Loaded", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/rules/loaded", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Rules []domain.FraudRule `json:"rules"`
			Count int                `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 1 || resp.Rules[0].ID != rule.ID {
			t.Errorf("expected the active rule in the loaded catalog, got %+v", resp.Rules)
		}
	})

	t.Run("TestMode", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules/"+rule.ID+"/test-mode", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var got domain.FraudRule
		decode(t, rr, &got)
		if got.Status != domain.RuleStatusTestMode {
			t.Errorf("expected TestMode, got %s", got.Status)
		}

		rr = do(t, server, http.MethodPost, "/rules/"+rule.ID+"/test-mode", map[string]bool{"enabled": false})
		decode(t, rr, &got)
		if got.Status != domain.RuleStatusActive {
			t.Errorf("expected Active, got %s", got.Status)
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules/"+rule.ID+"/deactivate", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(t, server, http.MethodPost, "/rules/reload", nil)
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 0 {
			t.Errorf("expected no selectable rules after deactivation, got %d", resp.Count)
		}
	})

	t.Run("InvalidParameters", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", rules.CreateRuleInput{
			Name:       "Broken",
			Category:   domain.CategoryTransaction,
			Type:       domain.RuleTypeThreshold,
			Parameters: json.RawMessage(`{"operator":"~"}`),
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/rules/"+rule.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(t, server, http.MethodPost, "/rules/"+rule.ID+"/activate", nil)
		if rr.Code != http.StatusConflict && rr.Code != http.StatusNotFound {
			t.Errorf("expected archived rule to be rejected, got %d", rr.Code)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/rules/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestBlacklistEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	rr := do(t, server, http.MethodPost, "/blacklist", BlacklistRequest{
		Type:     domain.BlacklistDevice,
		Value:    "dev-9",
		Reason:   "emulator farm",
		Duration: "72h",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var item domain.BlacklistItem
	decode(t, rr, &item)
	if item.ExpiryDate == nil {
		t.Error("expected expiry date for a bounded entry")
	}

	t.Run("Duplicate", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/blacklist", BlacklistRequest{Type: domain.BlacklistDevice, Value: "dev-9"})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/blacklist", BlacklistRequest{Type: domain.BlacklistDevice, Value: "dev-10", Duration: "soon"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Check", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/blacklist/check?type=Device&value=dev-9", nil)
		var resp struct {
			IsBlacklisted bool `json:"isBlacklisted"`
		}
		decode(t, rr, &resp)
		if !resp.IsBlacklisted {
			t.Error("expected dev-9 to be blacklisted")
		}

		rr = do(t, server, http.MethodGet, "/blacklist/check?type=Shoe&value=x", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown type, got %d", rr.Code)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/blacklist/"+item.ID+"/invalidate", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(t, server, http.MethodGet, "/blacklist/check?type=Device&value=dev-9", nil)
		var resp struct {
			IsBlacklisted bool `json:"isBlacklisted"`
		}
		decode(t, rr, &resp)
		if resp.IsBlacklisted {
			t.Error("expected dev-9 to be cleared after invalidation")
		}
	})

	t.Run("Sweep", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/blacklist/sweep", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestEventEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	createActiveRule(t, server)

	rr := do(t, server, http.MethodPost, "/evaluate", evaluationBody("tx-2001", 20000, "10.0.0.2"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodGet, "/events?status=New", nil)
	var list struct {
		Events []domain.FraudRuleEvent `json:"events"`
		Count  int                     `json:"count"`
	}
	decode(t, rr, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 new event, got %d", list.Count)
	}
	id := list.Events[0].ID

	rr = do(t, server, http.MethodGet, "/events?status=New", nil)
	var views struct {
		Events []EventView `json:"events"`
	}
	decode(t, rr, &views)
	if len(views.Events) != 1 || !views.Events[0].ActionActive {
		t.Errorf("expected the new event's action to be active")
	}

	rr = do(t, server, http.MethodPost, "/events/"+id+"/investigate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var investigated domain.FraudRuleEvent
	decode(t, rr, &investigated)
	if investigated.InvestigatedBy != "analyst-1" || investigated.ResolvedBy != "" {
		t.Errorf("expected investigator recorded apart from resolver, got %+v", investigated)
	}

	rr = do(t, server, http.MethodPost, "/events/"+id+"/investigate", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409 on second investigation, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPost, "/events/"+id+"/resolve", ResolveRequest{Status: domain.EventNew})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for non-terminal status, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPost, "/events/"+id+"/resolve", ResolveRequest{
		Status: domain.EventResolvedFalsePositive,
		Notes:  "customer confirmed purchase",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ev domain.FraudRuleEvent
	decode(t, rr, &ev)
	if ev.Status != domain.EventResolvedFalsePositive || ev.ResolvedBy != "analyst-1" || ev.ResolvedAt == nil {
		t.Errorf("unexpected resolved event: %+v", ev)
	}

	t.Run("Filters", func(t *testing.T) {
		var filtered struct {
			Events []EventView `json:"events"`
			Count  int         `json:"count"`
		}
		rr := do(t, server, http.MethodGet, "/events?accountId=acc-42", nil)
		decode(t, rr, &filtered)
		if filtered.Count != 1 {
			t.Errorf("expected 1 event for acc-42, got %d", filtered.Count)
		}

		rr = do(t, server, http.MethodGet, "/events?ipAddress=10.0.0.2", nil)
		decode(t, rr, &filtered)
		if filtered.Count != 1 {
			t.Errorf("expected 1 event for 10.0.0.2, got %d", filtered.Count)
		}
		if filtered.Count == 1 && filtered.Events[0].ActionActive {
			t.Error("expected a resolved event to have no active action")
		}

		rr = do(t, server, http.MethodGet, "/events?accountId=acc-42&ipAddress=10.9.9.9", nil)
		decode(t, rr, &filtered)
		if filtered.Count != 0 {
			t.Errorf("expected no event for acc-42 from 10.9.9.9, got %d", filtered.Count)
		}
	})

	rr = do(t, server, http.MethodGet, "/events?limit=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad limit, got %d", rr.Code)
	}
}

func TestEvaluateIgnoresClientControlFields(t *testing.T) {
	t.Run("TestModeFlag", func(t *testing.T) {
		server, _ := createTestServer(t)
		createTorRule(t, server)

		body := torBody("tx-3001")
		body["isTestMode"] = true
		rr := do(t, server, http.MethodPost, "/evaluate", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		decode(t, rr, &resp)
		if resp.Result.Decision != domain.DecisionDeny || !resp.Result.HardStop {
			t.Errorf("expected an active hard-stop rule to deny, got %s (hardStop=%v)", resp.Result.Decision, resp.Result.HardStop)
		}
		if resp.DryRun {
			t.Error("expected a live evaluation")
		}
		if len(resp.Result.TriggeredRules) != 1 || resp.Result.TriggeredRules[0].TestMode {
			t.Errorf("expected one live triggered rule, got %+v", resp.Result.TriggeredRules)
		}

		rr = do(t, server, http.MethodGet, "/analyses/"+resp.Result.ID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected the live result to be stored, got %d", rr.Code)
		}
	})

	t.Run("EvaluationTime", func(t *testing.T) {
		server, _ := createTestServer(t)

		now := time.Now().UTC()
		from, to := now.Add(-3*time.Hour), now.Add(-time.Hour)
		rr := do(t, server, http.MethodPost, "/rules", rules.CreateRuleInput{
			Name:        "Expired high amount",
			Category:    domain.CategoryTransaction,
			Type:        domain.RuleTypeThreshold,
			ImpactLevel: domain.ImpactCritical,
			Actions:     []domain.RuleAction{domain.ActionRejectTransaction},
			Priority:    10,
			Parameters:  json.RawMessage(`{"valueField":"Amount","operator":">","threshold":10000,"currency":"TRY"}`),
			ValidFrom:   &from,
			ValidTo:     &to,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var rule domain.FraudRule
		decode(t, rr, &rule)
		rr = do(t, server, http.MethodPost, "/rules/"+rule.ID+"/activate", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 on activate, got %d: %s", rr.Code, rr.Body.String())
		}

		body := evaluationBody("tx-3002", 50000, "10.0.0.3")
		body["evaluationTime"] = now.Add(-2 * time.Hour).Format(time.RFC3339)
		rr = do(t, server, http.MethodPost, "/evaluate", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		decode(t, rr, &resp)
		if resp.Result.TotalRuleCount != 0 {
			t.Errorf("expected the expired rule to be unselected, got %d selected", resp.Result.TotalRuleCount)
		}
		if resp.Result.Decision != domain.DecisionApprove {
			t.Errorf("expected Approve, got %s", resp.Result.Decision)
		}
	})
}

func TestDryRunEndpoint(t *testing.T) {
	server, _ := createTestServer(t)
	createTorRule(t, server)

	rr := do(t, server, http.MethodPost, "/evaluate/dry-run", torBody("tx-4001"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp EvaluateResponse
	decode(t, rr, &resp)
	if !resp.DryRun {
		t.Error("expected a dry run")
	}
	if resp.Result.Decision != domain.DecisionDeny || !resp.Result.HardStop {
		t.Errorf("expected Deny with hard stop, got %s (hardStop=%v)", resp.Result.Decision, resp.Result.HardStop)
	}
	if resp.EventCount != 1 {
		t.Errorf("expected 1 rule event in the outcome, got %d", resp.EventCount)
	}
	if resp.AlertID != "" {
		t.Errorf("expected no alert from a dry run, got %s", resp.AlertID)
	}

	rr = do(t, server, http.MethodGet, "/analyses/"+resp.Result.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for a dry-run result, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/events", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rr, &list)
	if list.Count != 0 {
		t.Errorf("expected no stored events, got %d", list.Count)
	}
}

func TestAlertEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	createTorRule(t, server)

	rr := do(t, server, http.MethodPost, "/evaluate", torBody("tx-5001"))
	var resp EvaluateResponse
	decode(t, rr, &resp)
	if resp.AlertID == "" {
		t.Fatalf("expected an alert for a critical decision: %s", rr.Body.String())
	}

	rr = do(t, server, http.MethodPost, "/evaluate", evaluationBody("tx-5002", 100, "10.0.0.5"))
	decode(t, rr, &resp)
	if resp.AlertID != "" {
		t.Errorf("expected no alert for an approved transaction, got %s", resp.AlertID)
	}

	rr = do(t, server, http.MethodGet, "/alerts?status=Active&accountId=acc-42", nil)
	var list struct {
		Alerts []domain.FraudAlert `json:"alerts"`
		Count  int                 `json:"count"`
	}
	decode(t, rr, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 active alert, got %d", list.Count)
	}
	id := list.Alerts[0].ID
	if list.Alerts[0].Level != domain.RiskCritical {
		t.Errorf("expected Critical alert, got %s", list.Alerts[0].Level)
	}

	rr = do(t, server, http.MethodPost, "/alerts/"+id+"/assign", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var alert domain.FraudAlert
	decode(t, rr, &alert)
	if alert.Status != domain.AlertInvestigating || alert.AssignedTo != "analyst-1" {
		t.Errorf("unexpected assigned alert: %+v", alert)
	}

	rr = do(t, server, http.MethodPost, "/alerts/"+id+"/resolve", ResolveAlertRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without a resolution, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPost, "/alerts/"+id+"/resolve", ResolveAlertRequest{Resolution: "confirmed fraud"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &alert)
	if alert.Status != domain.AlertResolved || alert.ResolvedBy != "analyst-1" || alert.ResolvedAt == nil {
		t.Errorf("unexpected resolved alert: %+v", alert)
	}

	rr = do(t, server, http.MethodPost, "/alerts/"+id+"/resolve", ResolveAlertRequest{Resolution: "again"})
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409 on second resolution, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/alerts/summary", nil)
	var summary domain.AlertSummary
	decode(t, rr, &summary)
	if summary.Total != 1 || summary.Resolved != 1 || summary.ByLevel[domain.RiskCritical] != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	rr = do(t, server, http.MethodGet, "/alerts/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestAccountHistoryEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	createActiveRule(t, server)

	for i, amount := range []float64{15000, 20000, 500} {
		rr := do(t, server, http.MethodPost, "/evaluate", evaluationBody(fmt.Sprintf("tx-600%d", i), amount, "10.0.0.6"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	}

	rr := do(t, server, http.MethodGet, "/accounts/acc-42/risk-factors", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var factors struct {
		Factors []domain.RiskFactor `json:"factors"`
		Count   int                 `json:"count"`
	}
	decode(t, rr, &factors)
	if factors.Count != 2 {
		t.Errorf("expected 2 risk factors for acc-42, got %d", factors.Count)
	}

	rr = do(t, server, http.MethodGet, "/accounts/acc-42/risk-profile?days=7", nil)
	var profile risk.Profile
	decode(t, rr, &profile)
	if profile.TransactionCount != 3 {
		t.Errorf("expected 3 transactions, got %d", profile.TransactionCount)
	}
	if profile.Decisions[domain.DecisionRequireAdditionalVerification] != 2 {
		t.Errorf("expected 2 verification decisions, got %v", profile.Decisions)
	}
	if len(profile.CommonFactors) != 1 || profile.CommonFactors[0].Count != 2 {
		t.Errorf("expected one factor raised twice, got %+v", profile.CommonFactors)
	}

	rr = do(t, server, http.MethodGet, "/accounts/acc-99/risk-profile", nil)
	decode(t, rr, &profile)
	if profile.TransactionCount != 0 {
		t.Errorf("expected empty profile for unknown account, got %d", profile.TransactionCount)
	}

	rr = do(t, server, http.MethodGet, "/accounts/acc-42/risk-profile?days=soon", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad days, got %d", rr.Code)
	}
}

func TestModelAUCEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	rr := do(t, server, http.MethodPost, "/models/auc", AUCRequest{
		Labels: []bool{false, true, false, true},
		Scores: []float64{0.1, 0.35, 0.4, 0.8},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		AUC float64 `json:"auc"`
	}
	decode(t, rr, &resp)
	if resp.AUC != 0.75 {
		t.Errorf("expected AUC 0.75, got %v", resp.AUC)
	}

	rr = do(t, server, http.MethodPost, "/models/auc", AUCRequest{Labels: []bool{false}, Scores: []float64{0.2}})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422 without positives, got %d", rr.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	rr := do(t, server, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decode(t, rr, &health)
	if health.Status != "healthy" {
		t.Errorf("expected 'healthy', got '%s'", health.Status)
	}
	if health.Version != "test-v1" {
		t.Errorf("expected version 'test-v1', got '%s'", health.Version)
	}

	rr = do(t, server, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 for metrics, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrRuleNotFound, http.StatusNotFound},
		{domain.ErrInvalidRuleParameters, http.StatusBadRequest},
		{domain.ErrAlreadyBlacklisted, http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrRiskScoringFailure, http.StatusUnprocessableEntity},
		{domain.ErrBlacklistLookupFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
