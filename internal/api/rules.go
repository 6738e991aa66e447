package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ListRules returns the stored rules, optionally filtered with ?status=
// and with ?action=, which keeps rules carrying any of the listed actions.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rules.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	status, byStatus := ruleStatusParam(r)
	var actions []domain.RuleAction
	for _, a := range r.URL.Query()["action"] {
		actions = append(actions, domain.RuleAction(a))
	}
	if byStatus || len(actions) > 0 {
		filtered := make([]*domain.FraudRule, 0, len(list))
		for _, rule := range list {
			if byStatus && rule.Status != status {
				continue
			}
			if len(actions) > 0 && !rule.HasAction(actions...) {
				continue
			}
			filtered = append(filtered, rule)
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  list,
		"count":  len(list),
		"loaded": h.Engine.RulesCount(),
	})
}

// LoadedRules returns the rules of the catalog the engine is evaluating,
// which may lag the store until the next reload.
func (h *Handler) LoadedRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.Engine.LoadedRules()
	if loaded == nil {
		loaded = []*domain.FraudRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule stores a new Draft rule. It takes effect once activated or
// switched to test mode.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in rules.CreateRuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if in.CreatedBy == "" {
		in.CreatedBy = actor(r)
	}

	rule, err := h.Rules.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule created", "rule_id", rule.ID, "rule_code", rule.RuleCode)
	writeJSON(w, http.StatusCreated, rule)
}

// ActivateRule makes a rule Active.
func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Rules.Activate(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeactivateRule makes a rule Inactive.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Rules.Deactivate(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// TestModeRequest is the optional body of POST /rules/{id}/test-mode.
type TestModeRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetRuleTestMode switches a rule into test mode, or out of it with
// {"enabled": false}.
func (h *Handler) SetRuleTestMode(w http.ResponseWriter, r *http.Request) {
	var req TestModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	enabled := req.Enabled == nil || *req.Enabled

	rule, err := h.Rules.SetTestMode(r.Context(), chi.URLParam(r, "id"), enabled, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule archives a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Rules.Delete(r.Context(), id, actor(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
		"id":      id,
	})
}

// ReloadRules reloads the rule catalog from the repository.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.ReloadRules(r.Context()); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, err)
		return
	}

	count := h.Engine.RulesCount()
	slog.Info("rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// ruleStatusParam parses an optional status filter.
func ruleStatusParam(r *http.Request) (domain.RuleStatus, bool) {
	s := domain.RuleStatus(r.URL.Query().Get("status"))
	return s, s != ""
}
