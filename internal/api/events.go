package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// queryInt reads a positive integer query parameter, capped at ceiling.
func queryInt(q url.Values, name string, def, ceiling int) (int, error) {
	s := q.Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrInvalidInput, name)
	}
	return min(n, ceiling), nil
}

// EventView is a rule event as listed by GET /events.
type EventView struct {
	*domain.FraudRuleEvent
	ActionActive bool `json:"actionActive"`
}

// ListEvents returns rule events, newest first. ?status=, ?accountId= and
// ?ipAddress= filter the listing and ?limit= caps the page.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q, "limit", defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := h.Repo.ListFraudRuleEvents(r.Context(), domain.EventFilter{
		Status:    domain.FraudEventStatus(q.Get("status")),
		AccountID: q.Get("accountId"),
		IPAddress: q.Get("ipAddress"),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.Clock.Now()
	views := make([]EventView, len(events))
	for i, ev := range events {
		views[i] = EventView{FraudRuleEvent: ev, ActionActive: ev.IsActionActive(now)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": views,
		"count":  len(views),
	})
}

// InvestigateEvent moves a New event under investigation.
func (h *Handler) InvestigateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event, err := h.Repo.GetFraudRuleEvent(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := event.StartInvestigation(actor(r), h.Clock.Now()); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Repo.UpdateFraudRuleEvent(ctx, event); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule event under investigation", "event_id", event.ID, "rule_code", event.RuleCode)
	writeJSON(w, http.StatusOK, event)
}

// ResolveRequest is the body of POST /events/{id}/resolve.
type ResolveRequest struct {
	Status domain.FraudEventStatus `json:"status"`
	Notes  string                  `json:"notes,omitempty"`
}

// ResolveEvent closes an event with a terminal status.
func (h *Handler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	event, err := h.Repo.GetFraudRuleEvent(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := event.Resolve(req.Status, req.Notes, actor(r), h.Clock.Now()); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Repo.UpdateFraudRuleEvent(ctx, event); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule event resolved",
		"event_id", event.ID,
		"rule_code", event.RuleCode,
		"status", event.Status,
	)
	writeJSON(w, http.StatusOK, event)
}
