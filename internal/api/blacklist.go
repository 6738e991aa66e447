package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/blacklist"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// BlacklistRequest is the body of POST /blacklist. Duration is a Go
// duration string such as "72h"; empty means the item never expires.
type BlacklistRequest struct {
	Type     domain.BlacklistType `json:"type"`
	Value    string               `json:"value"`
	Reason   string               `json:"reason"`
	Duration string               `json:"duration,omitempty"`
}

// AddBlacklist deny-lists a value.
func (h *Handler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = time.ParseDuration(req.Duration); err != nil || d < 0 {
			writeError(w, fmt.Errorf("%w: invalid duration %q", domain.ErrInvalidInput, req.Duration))
			return
		}
	}

	item, err := h.Gate.Add(r.Context(), blacklist.AddRequest{
		Type:     req.Type,
		Value:    req.Value,
		Reason:   req.Reason,
		Duration: d,
		AddedBy:  actor(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// CheckBlacklist answers GET /blacklist/check?type=IpAddress&value=...
func (h *Handler) CheckBlacklist(w http.ResponseWriter, r *http.Request) {
	typ := domain.BlacklistType(r.URL.Query().Get("type"))
	value := r.URL.Query().Get("value")

	blocked, err := h.Gate.IsBlacklisted(r.Context(), typ, value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":          typ,
		"value":         value,
		"isBlacklisted": blocked,
	})
}

// InvalidateBlacklist withdraws an active item.
func (h *Handler) InvalidateBlacklist(w http.ResponseWriter, r *http.Request) {
	item, err := h.Gate.Invalidate(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// SweepBlacklist expires every item past its expiry date.
func (h *Handler) SweepBlacklist(w http.ResponseWriter, r *http.Request) {
	n, err := h.Gate.SweepExpired(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"swept": n})
}
