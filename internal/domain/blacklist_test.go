package domain

import (
	"errors"
	"testing"
	"time"
)

func TestBlacklistItem(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Normalize", func(t *testing.T) {
		item, err := NewBlacklistItem(BlacklistCountry, " kp ", "sanctions", 0, "ops", now)
		if err != nil {
			t.Fatalf("NewBlacklistItem failed: %v", err)
		}
		if item.Value != "KP" {
			t.Errorf("expected KP, got %q", item.Value)
		}
		if item.ExpiryDate != nil {
			t.Error("expected no expiry for zero duration")
		}
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		if _, err := NewBlacklistItem("Email", "x", "", 0, "", now); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for unknown type, got %v", err)
		}
		if _, err := NewBlacklistItem(BlacklistAccount, "  ", "", 0, "", now); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty value, got %v", err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		item, _ := NewBlacklistItem(BlacklistIPAddress, "1.2.3.4", "abuse", time.Hour, "ops", now)

		if !item.IsActive(now) {
			t.Error("expected item active before expiry")
		}
		if !item.IsExpired(now.Add(time.Hour)) {
			t.Error("expected item expired exactly at expiry")
		}
		if err := item.Expire(now.Add(30 * time.Minute)); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition before expiry, got %v", err)
		}
		if err := item.Expire(now.Add(2 * time.Hour)); err != nil {
			t.Fatalf("Expire failed: %v", err)
		}
		if item.Status != BlacklistExpired {
			t.Errorf("expected Expired, got %s", item.Status)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		item, _ := NewBlacklistItem(BlacklistDevice, "dev-1", "", 0, "ops", now)
		if err := item.Invalidate("lead", now); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		if item.IsActive(now) {
			t.Error("expected invalidated item inactive")
		}
		if err := item.Invalidate("lead", now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition on second invalidate, got %v", err)
		}
	})
}
