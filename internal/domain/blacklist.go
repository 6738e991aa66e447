package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BlacklistType is the kind of value a blacklist item holds.
type BlacklistType string

const (
	BlacklistIPAddress BlacklistType = "IpAddress"
	BlacklistAccount   BlacklistType = "Account"
	BlacklistDevice    BlacklistType = "Device"
	BlacklistCountry   BlacklistType = "Country"
)

// Valid reports whether t is a known blacklist type.
func (t BlacklistType) Valid() bool {
	switch t {
	case BlacklistIPAddress, BlacklistAccount, BlacklistDevice, BlacklistCountry:
		return true
	}
	return false
}

// Normalize returns the canonical form of a value of this type.
func (t BlacklistType) Normalize(value string) string {
	value = strings.TrimSpace(value)
	if t == BlacklistCountry {
		return strings.ToUpper(value)
	}
	return value
}

// BlacklistStatus is the lifecycle state of a blacklist item.
type BlacklistStatus string

const (
	BlacklistActive      BlacklistStatus = "Active"
	BlacklistInvalidated BlacklistStatus = "Invalidated"
	BlacklistExpired     BlacklistStatus = "Expired"
)

// BlacklistItem is a deny-listed value. Only its status changes after creation.
type BlacklistItem struct {
	ID            string          `json:"id"`
	Type          BlacklistType   `json:"type"`
	Value         string          `json:"value"`
	Reason        string          `json:"reason"`
	Status        BlacklistStatus `json:"status"`
	ExpiryDate    *time.Time      `json:"expiryDate,omitempty"`
	AddedBy       string          `json:"addedBy,omitempty"`
	InvalidatedBy string          `json:"invalidatedBy,omitempty"`
	InvalidatedAt *time.Time      `json:"invalidatedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// NewBlacklistItem creates an Active item. A zero duration never expires.
func NewBlacklistItem(typ BlacklistType, value, reason string, duration time.Duration, addedBy string, now time.Time) (*BlacklistItem, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown blacklist type %q", ErrInvalidInput, typ)
	}
	value = typ.Normalize(value)
	if value == "" {
		return nil, fmt.Errorf("%w: blacklist value is required", ErrInvalidInput)
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: negative blacklist duration", ErrInvalidInput)
	}

	item := &BlacklistItem{
		ID:        uuid.New().String(),
		Type:      typ,
		Value:     value,
		Reason:    reason,
		Status:    BlacklistActive,
		AddedBy:   addedBy,
		CreatedAt: now,
	}
	if duration > 0 {
		expiry := now.Add(duration)
		item.ExpiryDate = &expiry
	}
	return item, nil
}

// IsExpired reports whether the expiry date has passed.
func (b *BlacklistItem) IsExpired(now time.Time) bool {
	return b.Status == BlacklistExpired || (b.ExpiryDate != nil && !now.Before(*b.ExpiryDate))
}

// IsActive reports whether the item currently matches lookups.
func (b *BlacklistItem) IsActive(now time.Time) bool {
	return b.Status == BlacklistActive && !b.IsExpired(now)
}

// Invalidate withdraws the item.
func (b *BlacklistItem) Invalidate(by string, now time.Time) error {
	if b.Status != BlacklistActive {
		return fmt.Errorf("%w: blacklist item %s is %s", ErrInvalidTransition, b.ID, b.Status)
	}
	b.Status = BlacklistInvalidated
	b.InvalidatedBy = by
	b.InvalidatedAt = &now
	return nil
}

// Expire marks an active item whose expiry has passed.
func (b *BlacklistItem) Expire(now time.Time) error {
	if b.Status != BlacklistActive {
		return fmt.Errorf("%w: blacklist item %s is %s", ErrInvalidTransition, b.ID, b.Status)
	}
	if b.ExpiryDate == nil || now.Before(*b.ExpiryDate) {
		return fmt.Errorf("%w: blacklist item %s has not expired", ErrInvalidTransition, b.ID)
	}
	b.Status = BlacklistExpired
	return nil
}

// BlacklistVerdict is the output of the blacklist gate.
type BlacklistVerdict struct {
	IsBlocked    bool          `json:"isBlocked"`
	MatchedType  BlacklistType `json:"matchedType,omitempty"`
	MatchedValue string        `json:"matchedValue,omitempty"`
}
