package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleEvaluationContext is the snapshot of facts a single evaluation runs
// against. Sub-contexts are optional; a nil sub-context means the caller has
// no data for it and rules of that category are not selected.
type RuleEvaluationContext struct {
	Transaction    *TransactionContext `json:"transaction,omitempty"`
	Account        *AccountContext     `json:"account,omitempty"`
	Device         *DeviceContext      `json:"device,omitempty"`
	IP             *IPContext          `json:"ip,omitempty"`
	Session        *SessionContext     `json:"session,omitempty"`
	Behavior       *BehaviorContext    `json:"behavior,omitempty"`
	ModelFeatures  FeatureVector       `json:"modelFeatures,omitempty"`
	EvaluationTime time.Time           `json:"evaluationTime"`

	// IsTestMode marks a dry run: rules and models behave exactly as in a
	// live evaluation but nothing is persisted, recorded or published. It is
	// set by the server and never decoded from a request.
	IsTestMode bool `json:"-"`
}

// TransactionContext describes the transaction being evaluated.
type TransactionContext struct {
	TransactionID      string          `json:"transactionId"`
	Type               string          `json:"type,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency,omitempty"`
	RecipientAccountID string          `json:"recipientAccountId,omitempty"`
	Country            string          `json:"country,omitempty"`
	IsInternational    bool            `json:"isInternational,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// AccountContext carries account history aggregates.
type AccountContext struct {
	AccountID                string          `json:"accountId"`
	AgeDays                  int             `json:"ageDays,omitempty"`
	AverageTransactionAmount decimal.Decimal `json:"averageTransactionAmount"`
	FailedLoginCount         int             `json:"failedLoginCount,omitempty"`
	DistinctIPCount          int             `json:"distinctIpCount,omitempty"`
	DistinctCountryCount     int             `json:"distinctCountryCount,omitempty"`
	DistinctRecipientCount   int             `json:"distinctRecipientCount,omitempty"`
	TypicalAccessHours       []int           `json:"typicalAccessHours,omitempty"`
	TypicalCountries         []string        `json:"typicalCountries,omitempty"`
}

// DeviceContext describes the device used.
type DeviceContext struct {
	DeviceID             string `json:"deviceId"`
	DeviceType           string `json:"deviceType,omitempty"`
	OperatingSystem      string `json:"operatingSystem,omitempty"`
	IsJailbroken         bool   `json:"isJailbroken,omitempty"`
	IsEmulator           bool   `json:"isEmulator,omitempty"`
	DistinctAccountCount int    `json:"distinctAccountCount,omitempty"`
}

// IPContext describes the network origin.
type IPContext struct {
	IPAddress            string `json:"ipAddress"`
	CountryCode          string `json:"countryCode,omitempty"`
	IsTorExitNode        bool   `json:"isTorExitNode,omitempty"`
	IsVPN                bool   `json:"isVpn,omitempty"`
	IsProxy              bool   `json:"isProxy,omitempty"`
	ReputationScore      int    `json:"reputationScore,omitempty"`
	DistinctAccountCount int    `json:"distinctAccountCount,omitempty"`
	FailedLoginCount     int    `json:"failedLoginCount,omitempty"`
}

// SessionContext describes the user session.
type SessionContext struct {
	SessionID         string `json:"sessionId"`
	DurationMinutes   int    `json:"durationMinutes,omitempty"`
	RapidNavigations  int    `json:"rapidNavigations,omitempty"`
	PageViewCount     int    `json:"pageViewCount,omitempty"`
	IsNewSessionLogin bool   `json:"isNewSessionLogin,omitempty"`
}

// BehaviorContext carries precomputed behavioral features such as z-scores
// and sequence counts. The engine only compares them.
type BehaviorContext struct {
	Features map[string]float64 `json:"features"`
}

// Categories returns the rule categories relevant to this context.
func (c *RuleEvaluationContext) Categories() []RuleCategory {
	cats := []RuleCategory{CategoryTime, CategoryComplex, CategoryOther}
	if c.Transaction != nil {
		cats = append(cats, CategoryTransaction)
	}
	if c.Account != nil {
		cats = append(cats, CategoryAccount)
	}
	if c.Device != nil {
		cats = append(cats, CategoryDevice)
	}
	if c.IP != nil {
		cats = append(cats, CategoryIP, CategoryNetwork)
	}
	if c.Session != nil {
		cats = append(cats, CategorySession)
	}
	if c.Behavior != nil {
		cats = append(cats, CategoryBehavior)
	}
	if c.Country() != "" {
		cats = append(cats, CategoryLocation)
	}
	return cats
}

// AccountID returns the account the context refers to, if any.
func (c *RuleEvaluationContext) AccountID() string {
	if c.Account != nil {
		return c.Account.AccountID
	}
	return ""
}

// IPAddress returns the originating IP address, if any.
func (c *RuleEvaluationContext) IPAddress() string {
	if c.IP != nil {
		return c.IP.IPAddress
	}
	return ""
}

// DeviceID returns the device identifier, if any.
func (c *RuleEvaluationContext) DeviceID() string {
	if c.Device != nil {
		return c.Device.DeviceID
	}
	return ""
}

// TransactionID returns the transaction identifier, if any.
func (c *RuleEvaluationContext) TransactionID() string {
	if c.Transaction != nil {
		return c.Transaction.TransactionID
	}
	return ""
}

// Country returns the transaction country, falling back to the IP country.
func (c *RuleEvaluationContext) Country() string {
	if c.Transaction != nil && c.Transaction.Country != "" {
		return c.Transaction.Country
	}
	if c.IP != nil {
		return c.IP.CountryCode
	}
	return ""
}
