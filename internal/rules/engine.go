// Package rules provides the rule engine: catalog loading, per-type rule
// evaluation and the rule lifecycle.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Options tunes an Engine.
type Options struct {
	// MaxWorkers bounds the category groups evaluated concurrently.
	MaxWorkers int

	// CatalogTTL is how long a loaded catalog is used before it is refreshed
	// from the cache. Zero keeps it until the next explicit reload.
	CatalogTTL time.Duration

	Counter EventCounter
	Lists   ListChecker
	Clock   domain.Clock
}

// Engine evaluates the rule catalog against evaluation contexts.
type Engine struct {
	env        *cel.Env
	repo       domain.RuleRepository
	cache      domain.Cache
	counter    EventCounter
	lists      ListChecker
	clock      domain.Clock
	maxWorkers int
	catalogTTL time.Duration

	snapshot atomic.Pointer[catalog]
	reloadMu sync.Mutex
}

// NewEngine creates a new rule engine. The catalog is loaded lazily on the
// first evaluation, or eagerly with ReloadRules.
func NewEngine(repo domain.RuleRepository, c domain.Cache, opts Options) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("rule repository is required")
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 10
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}

	env, err := newConditionEnv()
	if err != nil {
		return nil, err
	}

	return &Engine{
		env:        env,
		repo:       repo,
		cache:      c,
		counter:    opts.Counter,
		lists:      opts.Lists,
		clock:      opts.Clock,
		maxWorkers: opts.MaxWorkers,
		catalogTTL: opts.CatalogTTL,
	}, nil
}

// ValidateRule decodes and compiles a rule without touching the catalog.
func (e *Engine) ValidateRule(rule *domain.FraudRule) error {
	_, err := compile(e.env, rule)
	return err
}

// ReloadRules drops the cached catalog, reads the selectable rules from the
// repository, caches them and swaps in the new compiled catalog.
// Evaluations already running keep the catalog they started with.
func (e *Engine) ReloadRules(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.cache != nil {
		if err := e.cache.Delete(ctx, domain.CacheKeyRuleCatalog); err != nil {
			slog.Warn("failed to invalidate rule catalog cache", "error", err)
		}
	}

	cat, err := e.loadFromRepository(ctx)
	if err != nil {
		return err
	}
	e.snapshot.Store(cat)
	metrics.RuleCatalogSize.Set(float64(len(cat.rules)))

	slog.Info("rule catalog reloaded", "rules_count", len(cat.rules))
	return nil
}

// current returns the catalog to evaluate with, refreshing it when its TTL
// has elapsed. A failed refresh keeps serving the previous catalog.
func (e *Engine) current(ctx context.Context) (*catalog, error) {
	cat := e.snapshot.Load()
	if cat != nil && !e.stale(cat) {
		return cat, nil
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	// Another caller may have refreshed while we waited.
	if latest := e.snapshot.Load(); latest != nil && !e.stale(latest) {
		return latest, nil
	}

	fresh, err := e.loadFromCache(ctx)
	if err == nil && fresh == nil {
		fresh, err = e.loadFromRepository(ctx)
	}
	if err != nil {
		if cat != nil {
			slog.Warn("rule catalog refresh failed, keeping previous catalog", "error", err)
			return cat, nil
		}
		return nil, err
	}

	e.snapshot.Store(fresh)
	metrics.RuleCatalogSize.Set(float64(len(fresh.rules)))
	return fresh, nil
}

func (e *Engine) stale(cat *catalog) bool {
	return e.catalogTTL > 0 && !e.clock.Now().Before(cat.loadedAt.Add(e.catalogTTL))
}

func (e *Engine) loadFromCache(ctx context.Context) (*catalog, error) {
	if e.cache == nil {
		return nil, nil
	}
	var defs []*domain.FraudRule
	found, err := cache.GetJSON(ctx, e.cache, domain.CacheKeyRuleCatalog, &defs)
	if err != nil {
		slog.Warn("rule catalog cache read failed", "error", err)
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	return buildCatalog(e.env, defs, e.clock.Now()), nil
}

func (e *Engine) loadFromRepository(ctx context.Context) (*catalog, error) {
	defs, err := e.repo.ListSelectableRules(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	if e.cache != nil {
		ttl := e.catalogTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		if err := cache.SetJSON(ctx, e.cache, domain.CacheKeyRuleCatalog, defs, ttl); err != nil {
			slog.Warn("failed to cache rule catalog", "error", err)
		}
	}

	return buildCatalog(e.env, defs, e.clock.Now()), nil
}

// Select returns the rules that apply to c, in priority order.
func (e *Engine) Select(ctx context.Context, c *domain.RuleEvaluationContext) ([]*domain.FraudRule, error) {
	cat, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	c = e.withTime(c)

	var selected []*domain.FraudRule
	for _, group := range cat.selectFor(c) {
		for _, cr := range group {
			selected = append(selected, cr.rule)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool { return ruleLess(selected[i], selected[j]) })
	return selected, nil
}

type evaluated struct {
	rule   *compiledRule
	result domain.RuleEvaluationResult
}

// Evaluate runs every applicable rule against c. Category groups run in
// parallel on a bounded worker pool; the merged results are ordered by
// priority and rule code.
func (e *Engine) Evaluate(ctx context.Context, c *domain.RuleEvaluationContext) (*domain.RuleEngineOutcome, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: evaluation context is required", domain.ErrInvalidInput)
	}
	cat, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	c = e.withTime(c)

	groups := cat.selectFor(c)
	results := make([][]evaluated, len(groups))

	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	idx := 0
	for _, group := range groups {
		wg.Add(1)
		go func(slot int, rules []*compiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			out := make([]evaluated, 0, len(rules))
			for _, cr := range rules {
				if ctx.Err() != nil {
					return
				}
				out = append(out, evaluated{rule: cr, result: e.evaluate(ctx, cr, c)})
			}
			results[slot] = out
		}(idx, group)
		idx++
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []evaluated
	for _, group := range results {
		all = append(all, group...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return ruleLess(all[i].rule.rule, all[j].rule.rule)
	})

	return e.aggregate(all, c), nil
}

// aggregate builds the engine outcome. Actions of triggered rules are
// unioned in first-seen order; test-mode rules are reported but apply
// nothing and raise no events.
func (e *Engine) aggregate(all []evaluated, c *domain.RuleEvaluationContext) *domain.RuleEngineOutcome {
	outcome := &domain.RuleEngineOutcome{
		TotalRuleCount: len(all),
		Results:        make([]domain.RuleEvaluationResult, 0, len(all)),
		TriggeredRules: []domain.TriggeredRuleInfo{},
		AppliedActions: []domain.RuleAction{},
	}
	seen := make(map[domain.RuleAction]bool)

	for _, ev := range all {
		res := ev.result
		outcome.Results = append(outcome.Results, res)
		if !res.Triggered {
			continue
		}

		rule := ev.rule.rule
		outcome.TriggeredRules = append(outcome.TriggeredRules, domain.TriggeredRuleInfo{
			RuleID:      rule.ID,
			RuleCode:    rule.RuleCode,
			RuleName:    rule.Name,
			Category:    rule.Category,
			ImpactLevel: rule.ImpactLevel,
			Confidence:  res.Confidence,
			Score:       res.Score,
			Actions:     rule.Actions,
			TestMode:    res.TestMode,
			Reason:      res.Reason,
		})

		if res.TestMode {
			continue
		}

		for _, action := range rule.Actions {
			if action.IsHardStop() {
				outcome.HardStop = true
			}
			if !seen[action] {
				seen[action] = true
				outcome.AppliedActions = append(outcome.AppliedActions, action)
			}
		}

		if len(rule.Actions) > 0 {
			outcome.Events = append(outcome.Events, domain.NewFraudRuleEvent(rule, c, res.Reason, c.EvaluationTime))
		}
	}

	return outcome
}

// withTime returns c with its evaluation time set, copying it when needed.
func (e *Engine) withTime(c *domain.RuleEvaluationContext) *domain.RuleEvaluationContext {
	if !c.EvaluationTime.IsZero() {
		return c
	}
	cp := *c
	cp.EvaluationTime = e.clock.Now()
	return &cp
}

// RulesCount returns the number of rules in the loaded catalog.
func (e *Engine) RulesCount() int {
	if cat := e.snapshot.Load(); cat != nil {
		return len(cat.rules)
	}
	return 0
}

// LoadedRules returns the rule definitions of the loaded catalog.
func (e *Engine) LoadedRules() []*domain.FraudRule {
	if cat := e.snapshot.Load(); cat != nil {
		return cat.definitions()
	}
	return nil
}
