// Package velocity records countable activity and answers the windowed
// counts used by threshold rules.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service records activity and counts it over time windows.
type Service struct {
	repo  domain.ActivityRepository
	clock domain.Clock
}

// NewService creates a new velocity service.
func NewService(repo domain.ActivityRepository, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		repo:  repo,
		clock: clock,
	}
}

// Count returns the number of kind events whose key equals value inside
// [since, until]. It satisfies the rule engine's EventCounter port.
func (s *Service) Count(ctx context.Context, kind domain.ActivityKind, key domain.ActivityKey, value string, since, until time.Time) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: %s value is required", domain.ErrInvalidInput, key)
	}
	if !key.Valid() {
		return 0, fmt.Errorf("%w: unknown activity key %q", domain.ErrInvalidInput, key)
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	return s.repo.CountActivity(ctx, kind, key, value, since, until)
}

// Record stores an activity event. Missing ids and timestamps are filled in.
func (s *Service) Record(ctx context.Context, ev *domain.ActivityEvent) error {
	if ev == nil || ev.Kind == "" {
		return fmt.Errorf("%w: activity kind is required", domain.ErrInvalidInput)
	}
	if ev.AccountID == "" && ev.IPAddress == "" && ev.DeviceID == "" {
		return fmt.Errorf("%w: activity needs an account, ip or device", domain.ErrInvalidInput)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.clock.Now()
	}
	if err := s.repo.SaveActivity(ctx, ev); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// RecordTransaction records the transaction of an evaluated context so later
// evaluations can count it. Contexts without a transaction are ignored.
func (s *Service) RecordTransaction(ctx context.Context, c *domain.RuleEvaluationContext) error {
	if c == nil || c.Transaction == nil {
		return nil
	}
	if c.AccountID() == "" && c.IPAddress() == "" && c.DeviceID() == "" {
		return nil
	}

	at := c.Transaction.Timestamp
	if at.IsZero() {
		at = c.EvaluationTime
	}
	return s.Record(ctx, &domain.ActivityEvent{
		Kind:       domain.ActivityTransaction,
		AccountID:  c.AccountID(),
		IPAddress:  c.IPAddress(),
		DeviceID:   c.DeviceID(),
		Amount:     c.Transaction.Amount,
		OccurredAt: at,
	})
}
