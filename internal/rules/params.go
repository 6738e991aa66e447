package rules

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Comparison operators accepted by Threshold and Behavioral rules.
const (
	OpGreaterThan    = ">"
	OpGreaterOrEqual = ">="
	OpLessThan       = "<"
	OpLessOrEqual    = "<="
	OpEqual          = "=="
)

func validOperator(op string) bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual:
		return true
	}
	return false
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	}
	return false
}

func lessFamily(op string) bool {
	return op == OpLessThan || op == OpLessOrEqual
}

// SimpleParams configures a Simple rule. Only the checks that are set take
// part; the rule triggers when any of them fires.
type SimpleParams struct {
	CheckTorNetwork bool `json:"checkTorNetwork,omitempty"`
	CheckVPN        bool `json:"checkVpn,omitempty"`
	CheckProxy      bool `json:"checkProxy,omitempty"`
	MinIPReputation *int `json:"minIpReputation,omitempty"`

	MaxFailedLogins       *int `json:"maxFailedLogins,omitempty"`
	MaxDifferentAccounts  *int `json:"maxDifferentAccounts,omitempty"`
	MaxDifferentIPs       *int `json:"maxDifferentIps,omitempty"`
	MaxDifferentCountries *int `json:"maxDifferentCountries,omitempty"`

	CheckJailbreak bool `json:"checkJailbreak,omitempty"`
	CheckEmulator  bool `json:"checkEmulator,omitempty"`

	MaxSessionDurationMinutes *int `json:"maxSessionDurationMinutes,omitempty"`
	MaxRapidNavigations       *int `json:"maxRapidNavigations,omitempty"`

	MaxAmount              *float64 `json:"maxAmount,omitempty"`
	MaxMultipleOfAverage   *float64 `json:"maxMultipleOfAverage,omitempty"`
	MaxDifferentRecipients *int     `json:"maxDifferentRecipients,omitempty"`
	CheckInternational     bool     `json:"checkInternational,omitempty"`
	HomeCountry            string   `json:"homeCountry,omitempty"`

	NightHoursStart *int `json:"nightHoursStart,omitempty"`
	NightHoursEnd   *int `json:"nightHoursEnd,omitempty"`
}

func (p *SimpleParams) validate() error {
	configured := p.CheckTorNetwork || p.CheckVPN || p.CheckProxy || p.CheckJailbreak ||
		p.CheckEmulator || p.CheckInternational
	for _, v := range []*int{
		p.MinIPReputation, p.MaxFailedLogins, p.MaxDifferentAccounts, p.MaxDifferentIPs,
		p.MaxDifferentCountries, p.MaxSessionDurationMinutes, p.MaxRapidNavigations,
		p.MaxDifferentRecipients,
	} {
		if v == nil {
			continue
		}
		if *v < 0 {
			return fmt.Errorf("limits must not be negative")
		}
		configured = true
	}
	for _, v := range []*float64{p.MaxAmount, p.MaxMultipleOfAverage} {
		if v == nil {
			continue
		}
		if *v <= 0 {
			return fmt.Errorf("amount limits must be positive")
		}
		configured = true
	}
	if (p.NightHoursStart == nil) != (p.NightHoursEnd == nil) {
		return fmt.Errorf("nightHoursStart and nightHoursEnd must be set together")
	}
	if p.NightHoursStart != nil {
		if *p.NightHoursStart < 0 || *p.NightHoursStart > 23 || *p.NightHoursEnd < 0 || *p.NightHoursEnd > 23 {
			return fmt.Errorf("night hours must be between 0 and 23")
		}
		configured = true
	}
	if !configured {
		return fmt.Errorf("no check configured")
	}
	return nil
}

// Value fields a value threshold can read.
const (
	FieldAmount                 = "Amount"
	FieldAmountToAverage        = "AmountToAverage"
	FieldFailedLoginCount       = "FailedLoginCount"
	FieldDistinctIPCount        = "DistinctIpCount"
	FieldDistinctCountryCount   = "DistinctCountryCount"
	FieldDistinctRecipientCount = "DistinctRecipientCount"
	FieldDeviceAccountCount     = "DeviceAccountCount"
	FieldIPAccountCount         = "IpAccountCount"
	FieldSessionDuration        = "SessionDurationMinutes"
	FieldRapidNavigations       = "RapidNavigations"
	FieldIPReputation           = "IpReputation"
)

// ThresholdParams configures a Threshold rule. Exactly one of the two forms
// is used: a value comparison (ValueField) or an event count over a trailing
// window (Event).
type ThresholdParams struct {
	ValueField string  `json:"valueField,omitempty"`
	Operator   string  `json:"operator,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	Currency   string  `json:"currency,omitempty"`

	Event         domain.ActivityKind `json:"event,omitempty"`
	Key           domain.ActivityKey  `json:"key,omitempty"`
	WindowMinutes int                 `json:"windowMinutes,omitempty"`
	MaxCount      int64               `json:"maxCount,omitempty"`
}

// IsCount reports whether the params describe an event count.
func (p *ThresholdParams) IsCount() bool {
	return p.Event != ""
}

func (p *ThresholdParams) validate() error {
	if p.IsCount() {
		if p.ValueField != "" {
			return fmt.Errorf("valueField and event are mutually exclusive")
		}
		if !p.Key.Valid() {
			return fmt.Errorf("unknown count key %q", p.Key)
		}
		if p.WindowMinutes <= 0 {
			return fmt.Errorf("windowMinutes must be positive")
		}
		if p.MaxCount <= 0 {
			return fmt.Errorf("maxCount must be positive")
		}
		return nil
	}

	switch p.ValueField {
	case FieldAmount, FieldAmountToAverage, FieldFailedLoginCount, FieldDistinctIPCount,
		FieldDistinctCountryCount, FieldDistinctRecipientCount, FieldDeviceAccountCount,
		FieldIPAccountCount, FieldSessionDuration, FieldRapidNavigations, FieldIPReputation:
	case "":
		return fmt.Errorf("valueField or event is required")
	default:
		return fmt.Errorf("unknown valueField %q", p.ValueField)
	}
	if p.Operator == "" {
		p.Operator = OpGreaterThan
	}
	if !validOperator(p.Operator) {
		return fmt.Errorf("unknown operator %q", p.Operator)
	}
	if p.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	return nil
}

// ComplexParams declares numeric variables usable in a Complex condition.
type ComplexParams struct {
	Variables map[string]float64 `json:"variables,omitempty"`
}

func (p *ComplexParams) validate() error {
	for name := range p.Variables {
		if _, reserved := contextVariables[name]; reserved {
			return fmt.Errorf("variable %q shadows a context variable", name)
		}
		if !isIdentifier(name) {
			return fmt.Errorf("variable %q is not an identifier", name)
		}
	}
	return nil
}

// ListParams configures Blacklist and Whitelist rules.
type ListParams struct {
	ListType           domain.BlacklistType `json:"listType"`
	Values             []string             `json:"values,omitempty"`
	UseGlobalBlacklist bool                 `json:"useGlobalBlacklist,omitempty"`
}

func (p *ListParams) validate(typ domain.RuleType) error {
	if !p.ListType.Valid() {
		return fmt.Errorf("unknown listType %q", p.ListType)
	}
	for i, v := range p.Values {
		p.Values[i] = p.ListType.Normalize(v)
	}
	if typ == domain.RuleTypeWhitelist && len(p.Values) == 0 {
		return fmt.Errorf("whitelist needs at least one value")
	}
	if typ == domain.RuleTypeBlacklist && len(p.Values) == 0 && !p.UseGlobalBlacklist {
		return fmt.Errorf("blacklist needs values or useGlobalBlacklist")
	}
	return nil
}

func (p *ListParams) contains(value string) bool {
	for _, v := range p.Values {
		if v == value {
			return true
		}
	}
	return false
}

// BehavioralParams compares one precomputed behavioral feature.
type BehavioralParams struct {
	Feature   string  `json:"feature"`
	Operator  string  `json:"operator,omitempty"`
	Threshold float64 `json:"threshold"`
}

func (p *BehavioralParams) validate() error {
	if p.Feature == "" {
		return fmt.Errorf("feature is required")
	}
	if p.Operator == "" {
		p.Operator = OpGreaterOrEqual
	}
	if !validOperator(p.Operator) {
		return fmt.Errorf("unknown operator %q", p.Operator)
	}
	if p.Threshold == 0 {
		return fmt.Errorf("threshold must not be zero")
	}
	return nil
}

// decodeParams decodes raw parameters strictly into dst. Empty input leaves
// dst at its zero value.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
