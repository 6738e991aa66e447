package rules

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// conditionCostLimit bounds the work a single condition may perform.
const conditionCostLimit = 10000

// contextVariables are the names every Complex condition can reference.
var contextVariables = map[string]*cel.Type{
	"Transaction":                  cel.MapType(cel.StringType, cel.DynType),
	"Account":                      cel.MapType(cel.StringType, cel.DynType),
	"Device":                       cel.MapType(cel.StringType, cel.DynType),
	"IP":                           cel.MapType(cel.StringType, cel.DynType),
	"Session":                      cel.MapType(cel.StringType, cel.DynType),
	"Behavior":                     cel.MapType(cel.StringType, cel.DynType),
	"UserAverageTransactionAmount": cel.DoubleType,
}

// newConditionEnv builds the CEL environment shared by all Complex rules.
// Comprehension macros are removed so conditions stay plain predicates.
func newConditionEnv() (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.ClearMacros(),
		cel.Macros(cel.HasMacro),
		cel.CrossTypeNumericComparisons(true),
	}
	for name, typ := range contextVariables {
		opts = append(opts, cel.Variable(name, typ))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileCondition type-checks a condition against the base environment
// extended with the rule's own variables.
func compileCondition(base *cel.Env, rule *domain.FraudRule, params *ComplexParams) (cel.Program, error) {
	if strings.TrimSpace(rule.Condition) == "" {
		return nil, fmt.Errorf("%w: rule %s has no condition", domain.ErrRuleConditionMalformed, rule.RuleCode)
	}

	env := base
	if len(params.Variables) > 0 {
		vars := make([]cel.EnvOption, 0, len(params.Variables))
		for name := range params.Variables {
			vars = append(vars, cel.Variable(name, cel.DoubleType))
		}
		extended, err := base.Extend(vars...)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrRuleConditionMalformed, rule.RuleCode, err)
		}
		env = extended
	}

	ast, issues := env.Compile(normalizeCondition(rule.Condition))
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrRuleConditionMalformed, rule.RuleCode, issues.Err())
	}

	out := ast.OutputType()
	if out != cel.BoolType && out != cel.DynType {
		return nil, fmt.Errorf("%w: rule %s: condition must be boolean, got %s", domain.ErrRuleConditionMalformed, rule.RuleCode, out)
	}

	program, err := env.Program(ast, cel.CostLimit(conditionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrRuleConditionMalformed, rule.RuleCode, err)
	}
	return program, nil
}

// evalCondition runs a compiled condition. Anything but a boolean result is
// reported as malformed.
func evalCondition(program cel.Program, activation map[string]any) (bool, error) {
	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrRuleConditionMalformed, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: condition returned %s", domain.ErrRuleConditionMalformed, out.Type().TypeName())
	}
	return bool(b), nil
}

// conditionActivation exposes the evaluation context to CEL. Numbers are
// always doubles; absent sub-contexts are empty maps.
func conditionActivation(c *domain.RuleEvaluationContext, vars map[string]float64) map[string]any {
	tx := map[string]any{}
	avg := 0.0
	if t := c.Transaction; t != nil {
		tx = map[string]any{
			"TransactionId":      t.TransactionID,
			"Type":               t.Type,
			"Amount":             t.Amount.InexactFloat64(),
			"Currency":           t.Currency,
			"RecipientAccountId": t.RecipientAccountID,
			"Country":            t.Country,
			"IsInternational":    t.IsInternational,
			"Hour":               float64(c.EvaluationTime.Hour()),
		}
	}

	account := map[string]any{}
	if a := c.Account; a != nil {
		avg = a.AverageTransactionAmount.InexactFloat64()
		account = map[string]any{
			"AccountId":                a.AccountID,
			"AgeDays":                  float64(a.AgeDays),
			"AverageTransactionAmount": avg,
			"FailedLoginCount":         float64(a.FailedLoginCount),
			"DistinctIpCount":          float64(a.DistinctIPCount),
			"DistinctCountryCount":     float64(a.DistinctCountryCount),
			"DistinctRecipientCount":   float64(a.DistinctRecipientCount),
		}
	}

	device := map[string]any{}
	if d := c.Device; d != nil {
		device = map[string]any{
			"DeviceId":             d.DeviceID,
			"DeviceType":           d.DeviceType,
			"OperatingSystem":      d.OperatingSystem,
			"IsJailbroken":         d.IsJailbroken,
			"IsEmulator":           d.IsEmulator,
			"DistinctAccountCount": float64(d.DistinctAccountCount),
		}
	}

	ip := map[string]any{}
	if i := c.IP; i != nil {
		ip = map[string]any{
			"IpAddress":            i.IPAddress,
			"CountryCode":          i.CountryCode,
			"IsTorExitNode":        i.IsTorExitNode,
			"IsVpn":                i.IsVPN,
			"IsProxy":              i.IsProxy,
			"ReputationScore":      float64(i.ReputationScore),
			"DistinctAccountCount": float64(i.DistinctAccountCount),
			"FailedLoginCount":     float64(i.FailedLoginCount),
		}
	}

	session := map[string]any{}
	if s := c.Session; s != nil {
		session = map[string]any{
			"SessionId":         s.SessionID,
			"DurationMinutes":   float64(s.DurationMinutes),
			"RapidNavigations":  float64(s.RapidNavigations),
			"PageViewCount":     float64(s.PageViewCount),
			"IsNewSessionLogin": s.IsNewSessionLogin,
		}
	}

	behavior := map[string]any{}
	if b := c.Behavior; b != nil {
		for k, v := range b.Features {
			behavior[k] = v
		}
	}

	activation := map[string]any{
		"Transaction":                  tx,
		"Account":                      account,
		"Device":                       device,
		"IP":                           ip,
		"Session":                      session,
		"Behavior":                     behavior,
		"UserAverageTransactionAmount": avg,
	}
	for k, v := range vars {
		activation[k] = v
	}
	return activation
}

// normalizeCondition rewrites the SQL-like rule dialect into CEL:
// AND/OR/NOT become &&/||/!, IN (...) becomes in [...], x NOT IN (...)
// becomes !(x in [...]), a single = becomes == and <> becomes !=. Integer literals become doubles so they mix with
// context numbers in arithmetic. Quoted strings are copied untouched.
func normalizeCondition(src string) string {
	var out strings.Builder
	runes := []rune(src)
	var closers []string // one entry per open paren, the text that closes it

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != r {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(runes) {
				j++
			}
			if j > len(runes) {
				j = len(runes)
			}
			out.WriteString(string(runes[i:j]))
			i = j

		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			switch strings.ToUpper(word) {
			case "AND":
				out.WriteString("&&")
			case "OR":
				out.WriteString("||")
			case "NOT":
				if k, ok := notInList(runes, j); ok {
					prefix, operand := splitOperand(out.String())
					out.Reset()
					out.WriteString(prefix + "!(" + operand + " in [")
					closers = append(closers, "])")
					j = k
				} else {
					out.WriteString("!")
				}
			case "TRUE", "FALSE", "NULL":
				out.WriteString(strings.ToLower(word))
			case "IN":
				if k, ok := listOpen(runes, j); ok {
					out.WriteString("in [")
					closers = append(closers, "]")
					j = k
				} else {
					out.WriteString("in")
				}
			default:
				out.WriteString(word)
			}
			i = j

		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			num := string(runes[i:j])
			out.WriteString(num)
			if !strings.Contains(num, ".") {
				out.WriteString(".0")
			}
			i = j

		case r == '(':
			closers = append(closers, ")")
			out.WriteRune(r)
			i++

		case r == ')':
			if n := len(closers); n > 0 {
				out.WriteString(closers[n-1])
				closers = closers[:n-1]
			} else {
				out.WriteRune(')')
			}
			i++

		case r == '<' && i+1 < len(runes) && runes[i+1] == '>':
			out.WriteString("!=")
			i += 2

		case r == '=':
			switch {
			case i+1 < len(runes) && runes[i+1] == '=':
				out.WriteString("==")
				i += 2
			case i > 0 && strings.ContainsRune("!<>", runes[i-1]):
				out.WriteRune('=')
				i++
			default:
				out.WriteString("==")
				i++
			}

		default:
			out.WriteRune(r)
			i++
		}
	}
	return out.String()
}

// listOpen reports whether runes[i:] starts with optional space and an
// opening paren, returning the index just past it.
func listOpen(runes []rune, i int) (int, bool) {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '(' {
		return i + 1, true
	}
	return 0, false
}

// notInList reports whether runes[i:] continues a NOT with IN (, returning
// the index just past the paren.
func notInList(runes []rune, i int) (int, bool) {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	j := i
	for j < len(runes) && isIdentRune(runes[j]) {
		j++
	}
	if !strings.EqualFold(string(runes[i:j]), "IN") {
		return 0, false
	}
	return listOpen(runes, j)
}

// splitOperand splits already written output into everything before the
// trailing field path and the path itself.
func splitOperand(s string) (prefix, operand string) {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	runes := []rune(s)
	start := len(runes)
	for start > 0 && (isIdentRune(runes[start-1]) || runes[start-1] == '.') {
		start--
	}
	return string(runes[:start]), string(runes[start:])
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !(unicode.IsLetter(r) || r == '_') {
			return false
		}
		if !isIdentRune(r) {
			return false
		}
	}
	return true
}
