package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/blacklist"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Deps are the components the handlers call into. Repo, Pipeline, Engine,
// Rules, Gate and Activity are required; Cache and Bus only feed /health.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Pipeline *pipeline.Pipeline
	Engine   *rules.Engine
	Rules    *rules.Manager
	Gate     *blacklist.Gate
	Activity *velocity.Service
	Clock    domain.Clock
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	return &Handler{Deps: deps}
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	Result     *domain.AnalysisResult `json:"result"`
	Reasons    []string               `json:"reasons,omitempty"`
	EventCount int                    `json:"eventCount"`
	AlertID    string                 `json:"alertId,omitempty"`
	DryRun     bool                   `json:"dryRun,omitempty"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /evaluate: the body is a RuleEvaluationContext, the
// result is persisted before it is returned.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, false)
}

// DryRun handles POST /evaluate/dry-run: the same evaluation as /evaluate
// without persisting, recording or publishing anything.
func (h *Handler) DryRun(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, true)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, dryRun bool) {
	start := time.Now()
	ctx := r.Context()

	var c domain.RuleEvaluationContext
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if c.Transaction == nil && c.Account == nil && c.IP == nil && c.Device == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one of transaction, account, ip or device is required",
		})
		return
	}
	// Rule validity windows are judged against server time only.
	c.EvaluationTime = h.Clock.Now()
	c.IsTestMode = dryRun

	outcome, err := h.Pipeline.Process(ctx, &c)
	if err != nil {
		slog.Error("evaluation failed", "tx_id", c.TransactionID(), "error", err)
		writeError(w, err)
		return
	}

	resp := EvaluateResponse{
		Result:     outcome.Result,
		Reasons:    risk.Reasons(outcome.Result.RiskFactors),
		EventCount: len(outcome.Events),
		DryRun:     outcome.DryRun,
	}
	if outcome.Alert != nil {
		resp.AlertID = outcome.Alert.ID
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.Version

	writeJSON(w, http.StatusOK, resp)
}

// GetAnalysis retrieves a stored AnalysisResult with its risk factors.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.Repo.GetAnalysisResult(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RecordActivity stores an activity event counted by Threshold rules with a
// time window.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var ev domain.ActivityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.Activity.Record(r.Context(), &ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := map[string]string{}
	status := "healthy"

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			return
		}
		components[name] = "ok"
	}
	if h.Repo != nil {
		check("repository", h.Repo.Ping)
	}
	if h.Cache != nil {
		check("cache", h.Cache.Ping)
	}
	if h.Bus != nil {
		check("bus", h.Bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.Version,
		"components": components,
	})
}

// Ready reports whether a rule catalog is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil || h.Pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
		"rules": h.Engine.RulesCount(),
	})
}

// AUCRequest is the body of POST /models/auc.
type AUCRequest struct {
	Labels []bool    `json:"labels"`
	Scores []float64 `json:"scores"`
}

// ModelAUC computes the ROC AUC of a labelled score sample.
func (h *Handler) ModelAUC(w http.ResponseWriter, r *http.Request) {
	var req AUCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	auc, err := model.AUC(req.Labels, req.Scores)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auc":     auc,
		"samples": len(req.Labels),
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidRuleParameters),
		errors.Is(err, domain.ErrRuleConditionMalformed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyBlacklisted), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRiskScoringFailure),
		errors.Is(err, domain.ErrInsufficientPositiveSamples),
		errors.Is(err, domain.ErrInsufficientNegativeSamples):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
