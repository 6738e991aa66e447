// Package blacklist implements the blacklist gate: the first check of every
// evaluation and the management of deny-listed values.
package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// AddRequest describes a value to deny-list. A zero Duration never expires.
type AddRequest struct {
	Type     domain.BlacklistType `json:"type"`
	Value    string               `json:"value"`
	Reason   string               `json:"reason"`
	Duration time.Duration        `json:"duration,omitempty"`
	AddedBy  string               `json:"addedBy,omitempty"`
}

// Change is published on TopicBlacklistChanged after a write.
type Change struct {
	ItemID string                 `json:"itemId,omitempty"`
	Type   domain.BlacklistType   `json:"type,omitempty"`
	Value  string                 `json:"value,omitempty"`
	Status domain.BlacklistStatus `json:"status,omitempty"`
	Swept  int                    `json:"swept,omitempty"`
}

// Gate answers blacklist lookups from a cached snapshot of the active items.
type Gate struct {
	repo  domain.BlacklistRepository
	cache domain.Cache
	bus   domain.EventBus
	clock domain.Clock
	ttl   time.Duration
}

// NewGate creates a blacklist gate. cache and bus may be nil.
func NewGate(repo domain.BlacklistRepository, c domain.Cache, bus domain.EventBus, clock domain.Clock, ttl time.Duration) *Gate {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Gate{repo: repo, cache: c, bus: bus, clock: clock, ttl: ttl}
}

type candidate struct {
	typ   domain.BlacklistType
	value string
}

// Check reports whether the IP, account, device or country of c is
// blacklisted. Lookup failures are logged and treated as not blocked.
func (g *Gate) Check(ctx context.Context, c *domain.RuleEvaluationContext) domain.BlacklistVerdict {
	if c == nil {
		return domain.BlacklistVerdict{}
	}

	candidates := []candidate{
		{domain.BlacklistIPAddress, c.IPAddress()},
		{domain.BlacklistAccount, c.AccountID()},
		{domain.BlacklistDevice, c.DeviceID()},
		{domain.BlacklistCountry, c.Country()},
	}

	index, err := g.index(ctx)
	if err != nil {
		metrics.BlacklistLookupFailuresTotal.Inc()
		slog.Warn("blacklist lookup failed, continuing unblocked",
			"tx_id", c.TransactionID(),
			"error", err,
		)
		return domain.BlacklistVerdict{}
	}

	now := g.clock.Now()
	for _, cand := range candidates {
		value := cand.typ.Normalize(cand.value)
		if value == "" {
			continue
		}
		if item, ok := index[indexKey(cand.typ, value)]; ok && item.IsActive(now) {
			metrics.BlacklistHitsTotal.WithLabelValues(string(cand.typ)).Inc()
			slog.Info("blacklist hit",
				"tx_id", c.TransactionID(),
				"list_type", cand.typ,
				"item_id", item.ID,
			)
			return domain.BlacklistVerdict{
				IsBlocked:    true,
				MatchedType:  cand.typ,
				MatchedValue: value,
			}
		}
	}
	return domain.BlacklistVerdict{}
}

// IsBlacklisted reports whether value is actively blacklisted as typ.
func (g *Gate) IsBlacklisted(ctx context.Context, typ domain.BlacklistType, value string) (bool, error) {
	if !typ.Valid() {
		return false, fmt.Errorf("%w: unknown blacklist type %q", domain.ErrInvalidInput, typ)
	}
	value = typ.Normalize(value)
	if value == "" {
		return false, nil
	}
	index, err := g.index(ctx)
	if err != nil {
		return false, err
	}
	item, ok := index[indexKey(typ, value)]
	return ok && item.IsActive(g.clock.Now()), nil
}

// Add deny-lists a value. An active item with the same type and value is
// rejected with ErrAlreadyBlacklisted.
func (g *Gate) Add(ctx context.Context, req AddRequest) (*domain.BlacklistItem, error) {
	now := g.clock.Now()
	item, err := domain.NewBlacklistItem(req.Type, req.Value, req.Reason, req.Duration, req.AddedBy, now)
	if err != nil {
		return nil, err
	}

	exists, err := g.repo.IsBlacklisted(ctx, item.Type, item.Value, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBlacklistLookupFailure, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrAlreadyBlacklisted, item.Type, item.Value)
	}

	if err := g.repo.AddBlacklistItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to add blacklist item: %w", err)
	}

	g.changed(ctx, Change{ItemID: item.ID, Type: item.Type, Value: item.Value, Status: item.Status})
	return item, nil
}

// Invalidate withdraws an active item.
func (g *Gate) Invalidate(ctx context.Context, id, by string) (*domain.BlacklistItem, error) {
	item, err := g.repo.GetBlacklistItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := item.Invalidate(by, g.clock.Now()); err != nil {
		return nil, err
	}
	if err := g.repo.UpdateBlacklistStatus(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update blacklist item: %w", err)
	}

	g.changed(ctx, Change{ItemID: item.ID, Type: item.Type, Value: item.Value, Status: item.Status})
	return item, nil
}

// SweepExpired marks active items past their expiry date as Expired and
// returns how many were swept.
func (g *Gate) SweepExpired(ctx context.Context) (int, error) {
	now := g.clock.Now()
	items, err := g.repo.GetExpiredBlacklist(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired blacklist items: %w", err)
	}

	swept := 0
	for _, item := range items {
		if err := item.Expire(now); err != nil {
			slog.Warn("skipping blacklist item", "item_id", item.ID, "error", err)
			continue
		}
		if err := g.repo.UpdateBlacklistStatus(ctx, item); err != nil {
			return swept, fmt.Errorf("failed to expire blacklist item %s: %w", item.ID, err)
		}
		swept++
	}

	if swept > 0 {
		slog.Info("expired blacklist items swept", "count", swept)
		g.changed(ctx, Change{Status: domain.BlacklistExpired, Swept: swept})
	}
	return swept, nil
}

// InvalidateSnapshot drops the cached snapshot so the next lookup reads the
// repository. Called when another node announces a change.
func (g *Gate) InvalidateSnapshot(ctx context.Context) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Delete(ctx, domain.CacheKeyBlacklistSnapshot); err != nil {
		slog.Warn("failed to invalidate blacklist snapshot", "error", err)
	}
}

func (g *Gate) changed(ctx context.Context, change Change) {
	g.InvalidateSnapshot(ctx)

	if g.bus == nil {
		return
	}
	payload, _ := json.Marshal(change)
	if err := g.bus.Publish(ctx, domain.TopicBlacklistChanged, payload); err != nil {
		slog.Warn("failed to publish blacklist change", "error", err)
	}
}

// index returns the active items keyed by type and value, from the cached
// snapshot or, on a miss, from the repository.
func (g *Gate) index(ctx context.Context) (map[string]*domain.BlacklistItem, error) {
	var items []*domain.BlacklistItem

	found := false
	if g.cache != nil {
		var err error
		found, err = cache.GetJSON(ctx, g.cache, domain.CacheKeyBlacklistSnapshot, &items)
		if err != nil {
			slog.Warn("blacklist snapshot cache read failed", "error", err)
			found = false
		}
	}

	if !found {
		if g.repo == nil {
			return nil, errors.New("no blacklist repository configured")
		}
		var err error
		items, err = g.repo.ListActiveBlacklist(ctx, g.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBlacklistLookupFailure, err)
		}
		if g.cache != nil {
			if err := cache.SetJSON(ctx, g.cache, domain.CacheKeyBlacklistSnapshot, items, g.ttl); err != nil {
				slog.Warn("failed to cache blacklist snapshot", "error", err)
			}
		}
	}

	index := make(map[string]*domain.BlacklistItem, len(items))
	for _, item := range items {
		index[indexKey(item.Type, item.Value)] = item
	}
	return index, nil
}

func indexKey(typ domain.BlacklistType, value string) string {
	return string(typ) + ":" + value
}
