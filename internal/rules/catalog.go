package rules

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// catalog is an immutable compiled rule set. Evaluations hold on to the
// catalog they started with, so a reload never changes a running evaluation.
type catalog struct {
	rules      []*compiledRule
	byCategory map[domain.RuleCategory][]*compiledRule
	loadedAt   time.Time
}

// buildCatalog compiles rules into a catalog. Rules that fail to compile are
// logged and left out.
func buildCatalog(env *cel.Env, rules []*domain.FraudRule, now time.Time) *catalog {
	cat := &catalog{
		byCategory: make(map[domain.RuleCategory][]*compiledRule),
		loadedAt:   now,
	}

	for _, rule := range rules {
		if rule.Status != domain.RuleStatusActive && rule.Status != domain.RuleStatusTestMode {
			continue
		}
		cr, err := compile(env, rule)
		if err != nil {
			slog.Error("skipping malformed rule",
				"rule_id", rule.ID,
				"rule_code", rule.RuleCode,
				"error", err,
			)
			continue
		}
		cat.rules = append(cat.rules, cr)
	}

	sort.SliceStable(cat.rules, func(i, j int) bool {
		return ruleLess(cat.rules[i].rule, cat.rules[j].rule)
	})
	for _, cr := range cat.rules {
		cat.byCategory[cr.rule.Category] = append(cat.byCategory[cr.rule.Category], cr)
	}
	return cat
}

// selectFor returns the rules applicable to c at its evaluation time,
// grouped by category, each group in priority order.
func (cat *catalog) selectFor(c *domain.RuleEvaluationContext) map[domain.RuleCategory][]*compiledRule {
	groups := make(map[domain.RuleCategory][]*compiledRule)
	for _, category := range c.Categories() {
		for _, cr := range cat.byCategory[category] {
			if cr.rule.IsSelectable(c.EvaluationTime) {
				groups[category] = append(groups[category], cr)
			}
		}
	}
	return groups
}

func (cat *catalog) definitions() []*domain.FraudRule {
	out := make([]*domain.FraudRule, len(cat.rules))
	for i, cr := range cat.rules {
		out[i] = cr.rule
	}
	return out
}

// ruleLess orders by ascending priority, then rule code.
func ruleLess(a, b *domain.FraudRule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.RuleCode < b.RuleCode
}
