package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/risk"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
	maxHistoryRows   = 1000
)

// ListAlerts returns alerts, newest first. ?status= and ?accountId= filter
// the listing.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q, "limit", defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	alerts, err := h.Repo.ListAlerts(r.Context(), domain.AlertFilter{
		Status:    domain.AlertStatus(q.Get("status")),
		AccountID: q.Get("accountId"),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves one alert.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.Repo.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// AlertSummary aggregates the most recent alerts, optionally for one
// ?accountId=.
func (h *Handler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Repo.ListAlerts(r.Context(), domain.AlertFilter{
		AccountID: r.URL.Query().Get("accountId"),
		Limit:     maxHistoryRows,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SummarizeAlerts(alerts))
}

// AssignRequest is the body of POST /alerts/{id}/assign. An empty assignee
// assigns the alert to the caller.
type AssignRequest struct {
	Assignee string `json:"assignee,omitempty"`
}

// AssignAlert hands an alert to an analyst.
func (h *Handler) AssignAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AssignRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}
	if req.Assignee == "" {
		req.Assignee = actor(r)
	}

	alert, err := h.Repo.GetAlert(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := alert.Assign(req.Assignee, h.Clock.Now()); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Repo.UpdateAlert(ctx, alert); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("alert assigned", "alert_id", alert.ID, "assigned_to", alert.AssignedTo)
	writeJSON(w, http.StatusOK, alert)
}

// ResolveAlertRequest is the body of POST /alerts/{id}/resolve.
type ResolveAlertRequest struct {
	Resolution string `json:"resolution"`
}

// ResolveAlert closes an alert.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ResolveAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.Repo.GetAlert(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := alert.Resolve(req.Resolution, actor(r), h.Clock.Now()); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Repo.UpdateAlert(ctx, alert); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("alert resolved",
		"alert_id", alert.ID,
		"resolved_by", alert.ResolvedBy,
		"level", alert.Level,
	)
	writeJSON(w, http.StatusOK, alert)
}

// historySince reads ?days= and returns the start of the window.
func (h *Handler) historySince(r *http.Request) (time.Time, error) {
	days, err := queryInt(r.URL.Query(), "days", defaultHistoryDays, maxHistoryDays)
	if err != nil {
		return time.Time{}, err
	}
	return h.Clock.Now().AddDate(0, 0, -days), nil
}

// AccountRiskFactors returns the risk factors raised for an account over
// the last ?days=.
func (h *Handler) AccountRiskFactors(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	since, err := h.historySince(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r.URL.Query(), "limit", defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	factors, err := h.Repo.ListAccountRiskFactors(r.Context(), accountID, since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accountId": accountID,
		"since":     since,
		"factors":   factors,
		"count":     len(factors),
	})
}

// AccountRiskProfile aggregates an account's evaluations over the last
// ?days=.
func (h *Handler) AccountRiskProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "id")
	since, err := h.historySince(r)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := h.Repo.ListAccountAnalyses(ctx, accountID, since, maxHistoryRows)
	if err != nil {
		writeError(w, err)
		return
	}
	factors, err := h.Repo.ListAccountRiskFactors(ctx, accountID, since, maxHistoryRows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, risk.BuildProfile(accountID, since, results, factors))
}
