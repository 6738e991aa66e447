// Package domain defines the core types and ports of the Kestrel decision engine.
package domain

import (
	"context"
	"time"
)

// RuleRepository persists rule definitions.
type RuleRepository interface {
	SaveRule(ctx context.Context, rule *FraudRule) error
	GetRule(ctx context.Context, id string) (*FraudRule, error)
	GetRuleByCode(ctx context.Context, code string) (*FraudRule, error)
	ListRules(ctx context.Context) ([]*FraudRule, error)

	// ListSelectableRules returns Active and TestMode rules, optionally
	// restricted to one category (empty means all), ordered by priority.
	ListSelectableRules(ctx context.Context, category RuleCategory) ([]*FraudRule, error)

	// DeleteRule archives the rule. Events keep referring to it by id.
	DeleteRule(ctx context.Context, id string) error
}

// BlacklistRepository persists deny-listed values.
type BlacklistRepository interface {
	IsBlacklisted(ctx context.Context, typ BlacklistType, value string, now time.Time) (bool, error)
	AddBlacklistItem(ctx context.Context, item *BlacklistItem) error
	GetBlacklistItem(ctx context.Context, id string) (*BlacklistItem, error)
	ListActiveBlacklist(ctx context.Context, now time.Time) ([]*BlacklistItem, error)
	GetExpiredBlacklist(ctx context.Context, now time.Time) ([]*BlacklistItem, error)
	UpdateBlacklistStatus(ctx context.Context, item *BlacklistItem) error
}

// RiskFactorRepository persists risk factors of an analysis.
type RiskFactorRepository interface {
	SaveRiskFactors(ctx context.Context, analysisID string, factors []RiskFactor) error
	ListRiskFactors(ctx context.Context, analysisID string) ([]RiskFactor, error)
}

// AnalysisResultRepository persists evaluation outcomes.
type AnalysisResultRepository interface {
	SaveAnalysisResult(ctx context.Context, result *AnalysisResult) error
	GetAnalysisResult(ctx context.Context, id string) (*AnalysisResult, error)
}

// EventFilter narrows a rule event listing. Empty fields match everything.
type EventFilter struct {
	Status    FraudEventStatus
	AccountID string
	IPAddress string
	Limit     int
}

// FraudRuleEventRepository persists rule firing events.
type FraudRuleEventRepository interface {
	SaveFraudRuleEvents(ctx context.Context, events []*FraudRuleEvent) error
	GetFraudRuleEvent(ctx context.Context, id string) (*FraudRuleEvent, error)
	ListFraudRuleEvents(ctx context.Context, filter EventFilter) ([]*FraudRuleEvent, error)
	UpdateFraudRuleEvent(ctx context.Context, event *FraudRuleEvent) error
}

// AlertFilter narrows an alert listing. Empty fields match everything.
type AlertFilter struct {
	Status    AlertStatus
	AccountID string
	Limit     int
}

// AlertRepository persists fraud alerts.
type AlertRepository interface {
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	GetAlert(ctx context.Context, id string) (*FraudAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*FraudAlert, error)
	UpdateAlert(ctx context.Context, alert *FraudAlert) error
}

// AccountHistoryRepository reads past evaluations of one account.
type AccountHistoryRepository interface {
	// ListAccountAnalyses returns results newest first, without factors.
	ListAccountAnalyses(ctx context.Context, accountID string, since time.Time, limit int) ([]*AnalysisResult, error)

	// ListAccountRiskFactors returns factors of the account's analyses
	// detected since the given time, newest first.
	ListAccountRiskFactors(ctx context.Context, accountID string, since time.Time, limit int) ([]RiskFactor, error)
}

// ActivityRepository records countable activity for windowed rules.
type ActivityRepository interface {
	SaveActivity(ctx context.Context, event *ActivityEvent) error
	CountActivity(ctx context.Context, kind ActivityKind, key ActivityKey, value string, since, until time.Time) (int64, error)
}

// Repository is the full persistence port.
type Repository interface {
	RuleRepository
	BlacklistRepository
	RiskFactorRepository
	AnalysisResultRepository
	FraudRuleEventRepository
	AlertRepository
	AccountHistoryRepository
	ActivityRepository

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
