package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivityKind names a countable occurrence.
type ActivityKind string

const (
	ActivityTransaction   ActivityKind = "transaction"
	ActivityLogin         ActivityKind = "login"
	ActivityFailedLogin   ActivityKind = "failed_login"
	ActivityPasswordReset ActivityKind = "password_reset"
)

// ActivityKey is the dimension an activity count is grouped by.
type ActivityKey string

const (
	KeyAccount ActivityKey = "account"
	KeyIP      ActivityKey = "ip"
	KeyDevice  ActivityKey = "device"
)

// Valid reports whether k is a known key.
func (k ActivityKey) Valid() bool {
	return k == KeyAccount || k == KeyIP || k == KeyDevice
}

// ActivityEvent is one recorded occurrence used by windowed threshold rules.
type ActivityEvent struct {
	ID         string          `json:"id"`
	Kind       ActivityKind    `json:"kind"`
	AccountID  string          `json:"accountId,omitempty"`
	IPAddress  string          `json:"ipAddress,omitempty"`
	DeviceID   string          `json:"deviceId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// KeyValue returns the event's value for the given key.
func (a *ActivityEvent) KeyValue(key ActivityKey) string {
	switch key {
	case KeyAccount:
		return a.AccountID
	case KeyIP:
		return a.IPAddress
	case KeyDevice:
		return a.DeviceID
	}
	return ""
}
