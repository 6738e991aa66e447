package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EventCounter counts recorded activity inside a time window.
type EventCounter interface {
	Count(ctx context.Context, kind domain.ActivityKind, key domain.ActivityKey, value string, since, until time.Time) (int64, error)
}

// ListChecker answers membership in the global blacklist.
type ListChecker interface {
	IsBlacklisted(ctx context.Context, typ domain.BlacklistType, value string) (bool, error)
}

// compiledRule is a rule with its parameters decoded and its condition
// compiled, ready to evaluate.
type compiledRule struct {
	rule       *domain.FraudRule
	simple     *SimpleParams
	threshold  *ThresholdParams
	complex    *ComplexParams
	list       *ListParams
	behavioral *BehavioralParams
	program    cel.Program
}

// compile decodes and validates the parameters of rule for its type.
func compile(env *cel.Env, rule *domain.FraudRule) (*compiledRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if !rule.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidRuleParameters, rule.Type)
	}

	cr := &compiledRule{rule: rule}
	var err error

	switch rule.Type {
	case domain.RuleTypeSimple:
		cr.simple = &SimpleParams{}
		if err = decodeParams(rule.Parameters, cr.simple); err == nil {
			err = cr.simple.validate()
		}
	case domain.RuleTypeThreshold:
		cr.threshold = &ThresholdParams{}
		if err = decodeParams(rule.Parameters, cr.threshold); err == nil {
			err = cr.threshold.validate()
		}
	case domain.RuleTypeComplex:
		cr.complex = &ComplexParams{}
		if err = decodeParams(rule.Parameters, cr.complex); err == nil {
			err = cr.complex.validate()
		}
		if err == nil {
			cr.program, err = compileCondition(env, rule, cr.complex)
			if err != nil {
				return nil, err
			}
		}
	case domain.RuleTypeBlacklist, domain.RuleTypeWhitelist:
		cr.list = &ListParams{}
		if err = decodeParams(rule.Parameters, cr.list); err == nil {
			err = cr.list.validate(rule.Type)
		}
	case domain.RuleTypeBehavioral, domain.RuleTypeAnomaly, domain.RuleTypeSequential:
		cr.behavioral = &BehavioralParams{}
		if err = decodeParams(rule.Parameters, cr.behavioral); err == nil {
			err = cr.behavioral.validate()
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidRuleParameters, rule.RuleCode, err)
	}
	return cr, nil
}

// verdict is the raw outcome of one evaluator: whether it fired, with what
// confidence, and a short reason.
type verdict struct {
	triggered  bool
	confidence float64
	reason     string
}

func fired(confidence float64, format string, args ...any) verdict {
	return verdict{triggered: true, confidence: clamp01(confidence), reason: fmt.Sprintf(format, args...)}
}

func quiet(reason string) verdict {
	return verdict{reason: reason}
}

// evaluate runs the evaluator for the rule's type and scores the outcome.
// Errors local to the rule are logged and reported as not triggered.
func (e *Engine) evaluate(ctx context.Context, cr *compiledRule, c *domain.RuleEvaluationContext) domain.RuleEvaluationResult {
	rule := cr.rule
	result := domain.RuleEvaluationResult{
		RuleID:   rule.ID,
		RuleCode: rule.RuleCode,
		RuleName: rule.Name,
		Category: rule.Category,
		Priority: rule.Priority,
		TestMode: rule.IsTestMode(),
	}

	var v verdict
	var err error
	switch {
	case cr.simple != nil:
		v = evaluateSimple(cr.simple, c)
	case cr.threshold != nil:
		v, err = e.evaluateThreshold(ctx, cr.threshold, c)
	case cr.complex != nil:
		v, err = evaluateComplex(cr, c)
	case cr.list != nil:
		v, err = e.evaluateList(ctx, rule.Type, cr.list, c)
	case cr.behavioral != nil:
		v = evaluateBehavioral(cr.behavioral, c)
	}

	if err != nil {
		if errors.Is(err, domain.ErrRuleConditionMalformed) {
			slog.Warn("rule condition failed, treating as not triggered",
				"rule_code", rule.RuleCode,
				"error", err,
			)
		} else {
			slog.Warn("rule evaluation failed, treating as not triggered",
				"rule_code", rule.RuleCode,
				"error", err,
			)
		}
		result.Reason = err.Error()
		return result
	}

	result.Triggered = v.triggered
	result.Reason = v.reason
	if v.triggered {
		result.Confidence = v.confidence
		result.Score = v.confidence * rule.ImpactLevel.Weight()
		result.Actions = rule.Actions
	}
	return result
}

func evaluateSimple(p *SimpleParams, c *domain.RuleEvaluationContext) verdict {
	if ip := c.IP; ip != nil {
		if p.CheckTorNetwork && ip.IsTorExitNode {
			return fired(1, "tor exit node %s", ip.IPAddress)
		}
		if p.CheckVPN && ip.IsVPN {
			return fired(1, "vpn address %s", ip.IPAddress)
		}
		if p.CheckProxy && ip.IsProxy {
			return fired(1, "proxy address %s", ip.IPAddress)
		}
		if p.MinIPReputation != nil && ip.ReputationScore < *p.MinIPReputation {
			return fired(1, "ip reputation %d below %d", ip.ReputationScore, *p.MinIPReputation)
		}
		if p.MaxFailedLogins != nil && ip.FailedLoginCount > *p.MaxFailedLogins {
			return fired(1, "%d failed logins from ip", ip.FailedLoginCount)
		}
		if p.MaxDifferentAccounts != nil && ip.DistinctAccountCount > *p.MaxDifferentAccounts {
			return fired(1, "%d accounts on ip", ip.DistinctAccountCount)
		}
	}

	if a := c.Account; a != nil {
		if p.MaxFailedLogins != nil && a.FailedLoginCount > *p.MaxFailedLogins {
			return fired(1, "%d failed logins on account", a.FailedLoginCount)
		}
		if p.MaxDifferentIPs != nil && a.DistinctIPCount > *p.MaxDifferentIPs {
			return fired(1, "%d distinct ips on account", a.DistinctIPCount)
		}
		if p.MaxDifferentCountries != nil && a.DistinctCountryCount > *p.MaxDifferentCountries {
			return fired(1, "%d distinct countries on account", a.DistinctCountryCount)
		}
		if p.MaxDifferentRecipients != nil && a.DistinctRecipientCount > *p.MaxDifferentRecipients {
			return fired(1, "%d distinct recipients on account", a.DistinctRecipientCount)
		}
	}

	if d := c.Device; d != nil {
		if p.CheckJailbreak && d.IsJailbroken {
			return fired(1, "jailbroken device %s", d.DeviceID)
		}
		if p.CheckEmulator && d.IsEmulator {
			return fired(1, "emulator device %s", d.DeviceID)
		}
		if p.MaxDifferentAccounts != nil && d.DistinctAccountCount > *p.MaxDifferentAccounts {
			return fired(1, "%d accounts on device", d.DistinctAccountCount)
		}
	}

	if s := c.Session; s != nil {
		if p.MaxSessionDurationMinutes != nil && s.DurationMinutes > *p.MaxSessionDurationMinutes {
			return fired(1, "session of %d minutes", s.DurationMinutes)
		}
		if p.MaxRapidNavigations != nil && s.RapidNavigations > *p.MaxRapidNavigations {
			return fired(1, "%d rapid navigations", s.RapidNavigations)
		}
	}

	if t := c.Transaction; t != nil {
		amount := t.Amount.InexactFloat64()
		if p.MaxAmount != nil && amount > *p.MaxAmount {
			return fired(1, "amount %s above %v", t.Amount.String(), *p.MaxAmount)
		}
		if p.MaxMultipleOfAverage != nil && c.Account != nil && c.Account.AverageTransactionAmount.IsPositive() {
			avg := c.Account.AverageTransactionAmount.InexactFloat64()
			if limit := *p.MaxMultipleOfAverage; amount > avg*limit {
				return fired(1, "amount %.2fx the account average", amount/avg)
			}
		}
		if p.CheckInternational {
			foreign := p.HomeCountry != "" && t.Country != "" && t.Country != p.HomeCountry
			if t.IsInternational || foreign {
				return fired(1, "international transaction to %s", t.Country)
			}
		}
	}

	if p.NightHoursStart != nil && p.NightHoursEnd != nil {
		hour := c.EvaluationTime.Hour()
		start, end := *p.NightHoursStart, *p.NightHoursEnd
		var night bool
		if start > end {
			night = hour >= start || hour <= end
		} else {
			night = hour >= start && hour <= end
		}
		if night {
			return fired(1, "activity at hour %d", hour)
		}
	}

	return quiet("no check fired")
}

func (e *Engine) evaluateThreshold(ctx context.Context, p *ThresholdParams, c *domain.RuleEvaluationContext) (verdict, error) {
	if p.IsCount() {
		if e.counter == nil {
			return verdict{}, fmt.Errorf("no event counter configured")
		}
		value := thresholdKeyValue(p.Key, c)
		if value == "" {
			return quiet(fmt.Sprintf("no %s in context", p.Key)), nil
		}
		until := c.EvaluationTime
		since := until.Add(-time.Duration(p.WindowMinutes) * time.Minute)
		count, err := e.counter.Count(ctx, p.Event, p.Key, value, since, until)
		if err != nil {
			return verdict{}, fmt.Errorf("count %s events: %w", p.Event, err)
		}
		if count < p.MaxCount {
			return quiet(fmt.Sprintf("%d %s events in %dm", count, p.Event, p.WindowMinutes)), nil
		}
		return fired(float64(count)/float64(p.MaxCount), "%d %s events in %dm (max %d)",
			count, p.Event, p.WindowMinutes, p.MaxCount), nil
	}

	if p.Currency != "" && (c.Transaction == nil || c.Transaction.Currency != p.Currency) {
		return quiet("currency does not match"), nil
	}
	value, ok := thresholdValue(p.ValueField, c)
	if !ok {
		return quiet(p.ValueField + " not available"), nil
	}
	if !compare(value, p.Operator, p.Threshold) {
		return quiet(fmt.Sprintf("%s %v within threshold", p.ValueField, value)), nil
	}

	confidence := value / p.Threshold
	if lessFamily(p.Operator) {
		confidence = math.Max(0, 1-value/p.Threshold)
	}
	return fired(confidence, "%s %v %s %v", p.ValueField, value, p.Operator, p.Threshold), nil
}

func thresholdKeyValue(key domain.ActivityKey, c *domain.RuleEvaluationContext) string {
	switch key {
	case domain.KeyAccount:
		return c.AccountID()
	case domain.KeyIP:
		return c.IPAddress()
	case domain.KeyDevice:
		return c.DeviceID()
	}
	return ""
}

func thresholdValue(field string, c *domain.RuleEvaluationContext) (float64, bool) {
	switch field {
	case FieldAmount:
		if c.Transaction != nil {
			return c.Transaction.Amount.InexactFloat64(), true
		}
	case FieldAmountToAverage:
		if c.Transaction != nil && c.Account != nil && c.Account.AverageTransactionAmount.IsPositive() {
			return c.Transaction.Amount.Div(c.Account.AverageTransactionAmount).InexactFloat64(), true
		}
	case FieldFailedLoginCount:
		if c.Account != nil {
			return float64(c.Account.FailedLoginCount), true
		}
		if c.IP != nil {
			return float64(c.IP.FailedLoginCount), true
		}
	case FieldDistinctIPCount:
		if c.Account != nil {
			return float64(c.Account.DistinctIPCount), true
		}
	case FieldDistinctCountryCount:
		if c.Account != nil {
			return float64(c.Account.DistinctCountryCount), true
		}
	case FieldDistinctRecipientCount:
		if c.Account != nil {
			return float64(c.Account.DistinctRecipientCount), true
		}
	case FieldDeviceAccountCount:
		if c.Device != nil {
			return float64(c.Device.DistinctAccountCount), true
		}
	case FieldIPAccountCount:
		if c.IP != nil {
			return float64(c.IP.DistinctAccountCount), true
		}
	case FieldSessionDuration:
		if c.Session != nil {
			return float64(c.Session.DurationMinutes), true
		}
	case FieldRapidNavigations:
		if c.Session != nil {
			return float64(c.Session.RapidNavigations), true
		}
	case FieldIPReputation:
		if c.IP != nil {
			return float64(c.IP.ReputationScore), true
		}
	}
	return 0, false
}

func evaluateComplex(cr *compiledRule, c *domain.RuleEvaluationContext) (verdict, error) {
	ok, err := evalCondition(cr.program, conditionActivation(c, cr.complex.Variables))
	if err != nil {
		return verdict{}, err
	}
	if !ok {
		return quiet("condition false"), nil
	}
	return fired(1, "condition met: %s", cr.rule.Condition), nil
}

func (e *Engine) evaluateList(ctx context.Context, typ domain.RuleType, p *ListParams, c *domain.RuleEvaluationContext) (verdict, error) {
	var value string
	switch p.ListType {
	case domain.BlacklistIPAddress:
		value = c.IPAddress()
	case domain.BlacklistAccount:
		value = c.AccountID()
	case domain.BlacklistDevice:
		value = c.DeviceID()
	case domain.BlacklistCountry:
		value = c.Country()
	}
	value = p.ListType.Normalize(value)
	if value == "" {
		return quiet(fmt.Sprintf("no %s in context", p.ListType)), nil
	}

	if typ == domain.RuleTypeWhitelist {
		if p.contains(value) {
			return quiet(fmt.Sprintf("%s %s whitelisted", p.ListType, value)), nil
		}
		return fired(1, "%s %s not whitelisted", p.ListType, value), nil
	}

	if p.contains(value) {
		return fired(1, "%s %s on rule list", p.ListType, value), nil
	}
	if p.UseGlobalBlacklist && e.lists != nil {
		listed, err := e.lists.IsBlacklisted(ctx, p.ListType, value)
		if err != nil {
			return verdict{}, fmt.Errorf("%w: %v", domain.ErrBlacklistLookupFailure, err)
		}
		if listed {
			return fired(1, "%s %s on global blacklist", p.ListType, value), nil
		}
	}
	return quiet(fmt.Sprintf("%s %s not listed", p.ListType, value)), nil
}

func evaluateBehavioral(p *BehavioralParams, c *domain.RuleEvaluationContext) verdict {
	if c.Behavior == nil {
		return quiet("no behavior features")
	}
	value, ok := c.Behavior.Features[p.Feature]
	if !ok {
		return quiet("feature " + p.Feature + " not supplied")
	}
	if !compare(value, p.Operator, p.Threshold) {
		return quiet(fmt.Sprintf("%s %v within threshold", p.Feature, value))
	}
	return fired(math.Abs(value)/math.Abs(p.Threshold), "%s %v %s %v", p.Feature, value, p.Operator, p.Threshold)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
