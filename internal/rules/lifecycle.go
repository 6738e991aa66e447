package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleChange is published on TopicRulesChanged after a lifecycle operation.
type RuleChange struct {
	RuleID   string            `json:"ruleId"`
	RuleCode string            `json:"ruleCode"`
	Status   domain.RuleStatus `json:"status"`
	Version  int               `json:"version"`
}

// CreateRuleInput holds the caller-supplied fields of a new rule.
type CreateRuleInput struct {
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Category       domain.RuleCategory `json:"category"`
	Type           domain.RuleType     `json:"type"`
	ImpactLevel    domain.ImpactLevel  `json:"impactLevel,omitempty"`
	Actions        []domain.RuleAction `json:"actions"`
	ActionDuration time.Duration       `json:"actionDuration,omitempty"`
	Priority       int                 `json:"priority"`
	Condition      string              `json:"condition,omitempty"`
	Parameters     json.RawMessage     `json:"parameters,omitempty"`
	ValidFrom      *time.Time          `json:"validFrom,omitempty"`
	ValidTo        *time.Time          `json:"validTo,omitempty"`
	CreatedBy      string              `json:"createdBy,omitempty"`
}

// Manager applies lifecycle operations to rules. Every write goes through
// the repository, then reloads the engine catalog and announces the change
// so other nodes reload too.
type Manager struct {
	repo   domain.RuleRepository
	engine *Engine
	bus    domain.EventBus
	clock  domain.Clock
}

// NewManager creates a rule manager. bus may be nil.
func NewManager(repo domain.RuleRepository, engine *Engine, bus domain.EventBus, clock domain.Clock) *Manager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Manager{repo: repo, engine: engine, bus: bus, clock: clock}
}

// Create stores a new Draft rule with a generated code.
func (m *Manager) Create(ctx context.Context, in CreateRuleInput) (*domain.FraudRule, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: rule name is required", domain.ErrInvalidInput)
	}
	if !in.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, in.Category)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidInput, in.Type)
	}
	if in.ImpactLevel == "" {
		in.ImpactLevel = domain.ImpactMedium
	}
	if !in.ImpactLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown impact level %q", domain.ErrInvalidInput, in.ImpactLevel)
	}
	for _, a := range in.Actions {
		if !a.Valid() {
			return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, a)
		}
	}
	if in.ActionDuration < 0 {
		return nil, fmt.Errorf("%w: negative action duration", domain.ErrInvalidInput)
	}
	if in.ValidFrom != nil && in.ValidTo != nil && in.ValidTo.Before(*in.ValidFrom) {
		return nil, fmt.Errorf("%w: validTo before validFrom", domain.ErrInvalidInput)
	}

	now := m.clock.Now()
	code, err := m.uniqueCode(ctx, in.Category, in.Name, now)
	if err != nil {
		return nil, err
	}

	rule := &domain.FraudRule{
		ID:             uuid.New().String(),
		RuleCode:       code,
		Name:           in.Name,
		Description:    in.Description,
		Category:       in.Category,
		Type:           in.Type,
		ImpactLevel:    in.ImpactLevel,
		Status:         domain.RuleStatusDraft,
		Actions:        in.Actions,
		ActionDuration: in.ActionDuration,
		Priority:       in.Priority,
		Condition:      in.Condition,
		Parameters:     in.Parameters,
		ValidFrom:      in.ValidFrom,
		ValidTo:        in.ValidTo,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      in.CreatedBy,
		ModifiedBy:     in.CreatedBy,
	}
	if rule.Actions == nil {
		rule.Actions = []domain.RuleAction{}
	}

	if err := m.engine.ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := m.repo.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	m.changed(ctx, rule)
	return rule, nil
}

func (m *Manager) uniqueCode(ctx context.Context, category domain.RuleCategory, name string, now time.Time) (string, error) {
	base := domain.GenerateRuleCode(category, name, now)
	code := base
	for i := 2; i < 100; i++ {
		_, err := m.repo.GetRuleByCode(ctx, code)
		if errors.Is(err, domain.ErrRuleNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check rule code: %w", err)
		}
		code = fmt.Sprintf("%s_%d", base, i)
	}
	return "", fmt.Errorf("%w: could not allocate a rule code for %q", domain.ErrInvalidInput, name)
}

// Activate validates the rule parameters and makes the rule Active.
func (m *Manager) Activate(ctx context.Context, id, by string) (*domain.FraudRule, error) {
	return m.transition(ctx, id, func(rule *domain.FraudRule, now time.Time) error {
		if err := m.engine.ValidateRule(rule); err != nil {
			return err
		}
		return rule.Activate(by, now)
	})
}

// Deactivate makes the rule Inactive.
func (m *Manager) Deactivate(ctx context.Context, id, by string) (*domain.FraudRule, error) {
	return m.transition(ctx, id, func(rule *domain.FraudRule, now time.Time) error {
		return rule.Deactivate(by, now)
	})
}

// SetTestMode switches the rule in or out of test mode.
func (m *Manager) SetTestMode(ctx context.Context, id string, enabled bool, by string) (*domain.FraudRule, error) {
	return m.transition(ctx, id, func(rule *domain.FraudRule, now time.Time) error {
		if enabled {
			if err := m.engine.ValidateRule(rule); err != nil {
				return err
			}
		}
		return rule.SetTestMode(enabled, by, now)
	})
}

// Delete archives the rule.
func (m *Manager) Delete(ctx context.Context, id, by string) error {
	rule, err := m.repo.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := m.repo.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	rule.Archive(by, m.clock.Now())
	m.changed(ctx, rule)
	return nil
}

// Get returns a rule by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.FraudRule, error) {
	return m.repo.GetRule(ctx, id)
}

// List returns every stored rule.
func (m *Manager) List(ctx context.Context) ([]*domain.FraudRule, error) {
	return m.repo.ListRules(ctx)
}

func (m *Manager) transition(ctx context.Context, id string, apply func(*domain.FraudRule, time.Time) error) (*domain.FraudRule, error) {
	rule, err := m.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(rule, m.clock.Now()); err != nil {
		return nil, err
	}
	if err := m.repo.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}
	m.changed(ctx, rule)
	return rule, nil
}

// changed reloads the local catalog and announces the change. Both are
// best effort: the write has already been committed.
func (m *Manager) changed(ctx context.Context, rule *domain.FraudRule) {
	if err := m.engine.ReloadRules(ctx); err != nil {
		slog.Error("failed to reload rules after change",
			"rule_code", rule.RuleCode,
			"error", err,
		)
	}

	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(RuleChange{
		RuleID:   rule.ID,
		RuleCode: rule.RuleCode,
		Status:   rule.Status,
		Version:  rule.Version,
	})
	if err := m.bus.Publish(ctx, domain.TopicRulesChanged, payload); err != nil {
		slog.Warn("failed to publish rule change",
			"rule_code", rule.RuleCode,
			"error", err,
		)
	}
}
