// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != memoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the connection pool for stats collection.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// --- Rules ---

const ruleColumns = `id, rule_code, name, description, category, rule_type, impact_level,
	status, actions, action_duration, priority, rule_condition, parameters,
	valid_from, valid_to, version, created_at, updated_at, created_by, modified_by`

// SaveRule inserts or updates a rule definition.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.FraudRule) error {
	if rule == nil || rule.ID == "" || rule.RuleCode == "" {
		return fmt.Errorf("%w: rule id and code are required", domain.ErrInvalidInput)
	}

	actions, err := marshalJSON(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	query := `
		INSERT INTO fraud_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			rule_code = excluded.rule_code,
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			rule_type = excluded.rule_type,
			impact_level = excluded.impact_level,
			status = excluded.status,
			actions = excluded.actions,
			action_duration = excluded.action_duration,
			priority = excluded.priority,
			rule_condition = excluded.rule_condition,
			parameters = excluded.parameters,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			version = excluded.version,
			updated_at = excluded.updated_at,
			modified_by = excluded.modified_by
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.RuleCode, rule.Name, rule.Description,
		string(rule.Category), string(rule.Type), string(rule.ImpactLevel),
		string(rule.Status), actions, int64(rule.ActionDuration), rule.Priority,
		rule.Condition, string(rule.Parameters),
		nullTime(rule.ValidFrom), nullTime(rule.ValidTo), rule.Version,
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(), rule.CreatedBy, rule.ModifiedBy,
	)
	return err
}

func scanRule(s scanner) (*domain.FraudRule, error) {
	var rule domain.FraudRule
	var category, typ, impact, status, actions, params string
	var duration int64
	var validFrom, validTo sql.NullTime

	err := s.Scan(
		&rule.ID, &rule.RuleCode, &rule.Name, &rule.Description,
		&category, &typ, &impact, &status, &actions, &duration, &rule.Priority,
		&rule.Condition, &params, &validFrom, &validTo, &rule.Version,
		&rule.CreatedAt, &rule.UpdatedAt, &rule.CreatedBy, &rule.ModifiedBy,
	)
	if err != nil {
		return nil, err
	}

	rule.Category = domain.RuleCategory(category)
	rule.Type = domain.RuleType(typ)
	rule.ImpactLevel = domain.ImpactLevel(impact)
	rule.Status = domain.RuleStatus(status)
	rule.ActionDuration = time.Duration(duration)
	rule.ValidFrom = timePtr(validFrom)
	rule.ValidTo = timePtr(validTo)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	if params != "" {
		rule.Parameters = json.RawMessage(params)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of rule %s: %w", rule.RuleCode, err)
	}
	return &rule, nil
}

func (r *SQLRepository) getRuleWhere(ctx context.Context, column, value string) (*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE ` + column + ` = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, value)
	}
	return rule, err
}

// GetRule retrieves a rule by id.
func (r *SQLRepository) GetRule(ctx context.Context, id string) (*domain.FraudRule, error) {
	return r.getRuleWhere(ctx, "id", id)
}

// GetRuleByCode retrieves a rule by its unique code.
func (r *SQLRepository) GetRuleByCode(ctx context.Context, code string) (*domain.FraudRule, error) {
	return r.getRuleWhere(ctx, "rule_code", code)
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.FraudRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListRules returns every rule, archived ones included.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.FraudRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM fraud_rules ORDER BY priority, rule_code`)
}

// ListSelectableRules returns Active and TestMode rules ordered by priority.
// An empty category returns all categories.
func (r *SQLRepository) ListSelectableRules(ctx context.Context, category domain.RuleCategory) ([]*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE status IN (?, ?)`
	args := []any{string(domain.RuleStatusActive), string(domain.RuleStatusTestMode)}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY priority, rule_code`
	return r.queryRules(ctx, query, args...)
}

// DeleteRule archives a rule. The row is kept so events can still refer to it.
func (r *SQLRepository) DeleteRule(ctx context.Context, id string) error {
	query := `
		UPDATE fraud_rules
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(domain.RuleStatusArchived), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}

	return nil
}

// --- Blacklist ---

const blacklistColumns = `id, list_type, value, reason, status, expiry_date,
	added_by, invalidated_by, invalidated_at, created_at`

func scanBlacklistItem(s scanner) (*domain.BlacklistItem, error) {
	var item domain.BlacklistItem
	var typ, status string
	var expiry, invalidatedAt sql.NullTime

	err := s.Scan(
		&item.ID, &typ, &item.Value, &item.Reason, &status, &expiry,
		&item.AddedBy, &item.InvalidatedBy, &invalidatedAt, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Type = domain.BlacklistType(typ)
	item.Status = domain.BlacklistStatus(status)
	item.ExpiryDate = timePtr(expiry)
	item.InvalidatedAt = timePtr(invalidatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (r *SQLRepository) queryBlacklist(ctx context.Context, query string, args ...any) ([]*domain.BlacklistItem, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.BlacklistItem
	for rows.Next() {
		item, err := scanBlacklistItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// IsBlacklisted reports whether an active, unexpired item matches.
func (r *SQLRepository) IsBlacklisted(ctx context.Context, typ domain.BlacklistType, value string, now time.Time) (bool, error) {
	items, err := r.queryBlacklist(ctx,
		`SELECT `+blacklistColumns+` FROM blacklist_items WHERE list_type = ? AND value = ? AND status = ?`,
		string(typ), typ.Normalize(value), string(domain.BlacklistActive),
	)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

// AddBlacklistItem stores a new item.
func (r *SQLRepository) AddBlacklistItem(ctx context.Context, item *domain.BlacklistItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: blacklist item id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO blacklist_items (` + blacklistColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		item.ID, string(item.Type), item.Value, item.Reason, string(item.Status),
		nullTime(item.ExpiryDate), item.AddedBy, item.InvalidatedBy,
		nullTime(item.InvalidatedAt), item.CreatedAt.UTC(),
	)
	return err
}

// GetBlacklistItem retrieves an item by id.
func (r *SQLRepository) GetBlacklistItem(ctx context.Context, id string) (*domain.BlacklistItem, error) {
	query := `SELECT ` + blacklistColumns + ` FROM blacklist_items WHERE id = ?`

	item, err := scanBlacklistItem(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

// ListActiveBlacklist returns the items that currently match lookups.
func (r *SQLRepository) ListActiveBlacklist(ctx context.Context, now time.Time) ([]*domain.BlacklistItem, error) {
	items, err := r.queryBlacklist(ctx,
		`SELECT `+blacklistColumns+` FROM blacklist_items WHERE status = ? ORDER BY created_at`,
		string(domain.BlacklistActive),
	)
	if err != nil {
		return nil, err
	}
	active := items[:0]
	for _, item := range items {
		if item.IsActive(now) {
			active = append(active, item)
		}
	}
	return active, nil
}

// GetExpiredBlacklist returns Active items whose expiry date has passed.
func (r *SQLRepository) GetExpiredBlacklist(ctx context.Context, now time.Time) ([]*domain.BlacklistItem, error) {
	items, err := r.queryBlacklist(ctx,
		`SELECT `+blacklistColumns+` FROM blacklist_items WHERE status = ? AND expiry_date IS NOT NULL`,
		string(domain.BlacklistActive),
	)
	if err != nil {
		return nil, err
	}
	expired := items[:0]
	for _, item := range items {
		if item.IsExpired(now) {
			expired = append(expired, item)
		}
	}
	return expired, nil
}

// UpdateBlacklistStatus writes the status fields of an item. The value is
// never changed after creation.
func (r *SQLRepository) UpdateBlacklistStatus(ctx context.Context, item *domain.BlacklistItem) error {
	query := `
		UPDATE blacklist_items
		SET status = ?, invalidated_by = ?, invalidated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(item.Status), item.InvalidatedBy, nullTime(item.InvalidatedAt), item.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// --- Analysis results and risk factors ---

const riskFactorColumns = `id, analysis_id, code, factor_type, severity, confidence,
	description, source, rule_id, detected_at`

func (r *SQLRepository) insertRiskFactors(ctx context.Context, ex execer, analysisID string, factors []domain.RiskFactor) error {
	query := r.rebind(`
		INSERT INTO risk_factors (` + riskFactorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, f := range factors {
		_, err := ex.ExecContext(ctx, query,
			f.ID, analysisID, f.Code, string(f.Type), string(f.Severity), f.Confidence,
			f.Description, f.Source, f.RuleID, f.DetectedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save risk factor %s: %w", f.Code, err)
		}
	}
	return nil
}

// SaveRiskFactors stores factors for an analysis.
func (r *SQLRepository) SaveRiskFactors(ctx context.Context, analysisID string, factors []domain.RiskFactor) error {
	if analysisID == "" {
		return fmt.Errorf("%w: analysis id is required", domain.ErrInvalidInput)
	}
	return r.insertRiskFactors(ctx, r.db, analysisID, factors)
}

// ListRiskFactors returns the factors of an analysis.
func (r *SQLRepository) ListRiskFactors(ctx context.Context, analysisID string) ([]domain.RiskFactor, error) {
	query := `SELECT ` + riskFactorColumns + ` FROM risk_factors WHERE analysis_id = ? ORDER BY detected_at, code`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRiskFactors(rows)
}

func scanRiskFactors(rows *sql.Rows) ([]domain.RiskFactor, error) {
	factors := []domain.RiskFactor{}
	for rows.Next() {
		var f domain.RiskFactor
		var typ, severity string
		if err := rows.Scan(
			&f.ID, &f.AnalysisID, &f.Code, &typ, &severity, &f.Confidence,
			&f.Description, &f.Source, &f.RuleID, &f.DetectedAt,
		); err != nil {
			return nil, err
		}
		f.Type = domain.RiskFactorType(typ)
		f.Severity = domain.RiskLevel(severity)
		f.DetectedAt = f.DetectedAt.UTC()
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

// SaveAnalysisResult stores a result together with the risk factors it owns.
func (r *SQLRepository) SaveAnalysisResult(ctx context.Context, result *domain.AnalysisResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: analysis id is required", domain.ErrInvalidInput)
	}
	if err := result.Validate(); err != nil {
		return err
	}

	triggered, err := marshalJSON(result.TriggeredRules)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(result.AppliedActions)
	if err != nil {
		return err
	}
	blacklist, err := marshalJSON(result.Blacklist)
	if err != nil {
		return err
	}
	ml, err := marshalJSON(result.MLAnalysis)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO analysis_results (` + analysisColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, r.rebind(query),
		result.ID, result.TransactionID, result.AccountID,
		result.FraudProbability, result.AnomalyScore, result.RiskScore,
		string(result.RiskLevel), string(result.Decision), string(result.Status), result.Error,
		result.TotalRuleCount, result.TriggeredRuleCount, triggered,
		actions, blacklist, result.HardStop, ml, result.AnalyzedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}

	if err := r.insertRiskFactors(ctx, tx, result.ID, result.RiskFactors); err != nil {
		return err
	}

	return tx.Commit()
}

const analysisColumns = `id, transaction_id, account_id, fraud_probability, anomaly_score,
	risk_score, risk_level, decision, status, error,
	total_rule_count, triggered_rule_count, triggered_rules,
	applied_actions, blacklist, hard_stop, ml_analysis, analyzed_at`

func scanAnalysis(s scanner) (*domain.AnalysisResult, error) {
	var res domain.AnalysisResult
	var level, decision, status, triggered, actions, blacklist, ml string

	err := s.Scan(
		&res.ID, &res.TransactionID, &res.AccountID,
		&res.FraudProbability, &res.AnomalyScore, &res.RiskScore,
		&level, &decision, &status, &res.Error,
		&res.TotalRuleCount, &res.TriggeredRuleCount, &triggered,
		&actions, &blacklist, &res.HardStop, &ml, &res.AnalyzedAt,
	)
	if err != nil {
		return nil, err
	}

	res.RiskLevel = domain.RiskLevel(level)
	res.Decision = domain.DecisionType(decision)
	res.Status = domain.AnalysisStatus(status)
	res.AnalyzedAt = res.AnalyzedAt.UTC()
	res.RiskFactors = []domain.RiskFactor{}

	for _, field := range []struct {
		raw string
		dst any
	}{
		{triggered, &res.TriggeredRules},
		{actions, &res.AppliedActions},
		{blacklist, &res.Blacklist},
		{ml, &res.MLAnalysis},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode analysis result %s: %w", res.ID, err)
		}
	}
	return &res, nil
}

// GetAnalysisResult retrieves a result with its risk factors.
func (r *SQLRepository) GetAnalysisResult(ctx context.Context, id string) (*domain.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_results WHERE id = ?`

	res, err := scanAnalysis(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res.RiskFactors, err = r.ListRiskFactors(ctx, id)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// --- Account history ---

func historyLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

// ListAccountAnalyses returns the account's results analysed at or after
// since, newest first. Risk factors are not loaded. Timestamps are stored
// as text on sqlite, so the lower bound is applied after ordering.
func (r *SQLRepository) ListAccountAnalyses(ctx context.Context, accountID string, since time.Time, limit int) ([]*domain.AnalysisResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	query := `SELECT ` + analysisColumns + ` FROM analysis_results
		WHERE account_id = ?
		ORDER BY analyzed_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, historyLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*domain.AnalysisResult{}
	for rows.Next() {
		res, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		if res.AnalyzedAt.Before(since) {
			break
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ListAccountRiskFactors returns factors raised for the account at or
// after since, newest first.
func (r *SQLRepository) ListAccountRiskFactors(ctx context.Context, accountID string, since time.Time, limit int) ([]domain.RiskFactor, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	query := `SELECT f.id, f.analysis_id, f.code, f.factor_type, f.severity, f.confidence,
			f.description, f.source, f.rule_id, f.detected_at
		FROM risk_factors f
		JOIN analysis_results a ON a.id = f.analysis_id
		WHERE a.account_id = ?
		ORDER BY f.detected_at DESC, f.id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, historyLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	factors, err := scanRiskFactors(rows)
	if err != nil {
		return nil, err
	}
	for i, f := range factors {
		if f.DetectedAt.Before(since) {
			return factors[:i], nil
		}
	}
	return factors, nil
}

// --- Fraud rule events ---

const eventColumns = `id, rule_id, rule_code, rule_name, transaction_id, account_id,
	ip_address, device_info, actions, action_duration, action_end_date, status,
	details, investigated_by, investigated_at, resolution_notes, resolved_by,
	resolved_at, created_at`

// SaveFraudRuleEvents stores events in one transaction.
func (r *SQLRepository) SaveFraudRuleEvents(ctx context.Context, events []*domain.FraudRuleEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO fraud_rule_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, ev := range events {
		actions, err := marshalJSON(ev.Actions)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query,
			ev.ID, ev.RuleID, ev.RuleCode, ev.RuleName, ev.TransactionID, ev.AccountID,
			ev.IPAddress, ev.DeviceInfo, actions, int64(ev.ActionDuration),
			nullTime(ev.ActionEndDate), string(ev.Status), ev.Details,
			ev.InvestigatedBy, nullTime(ev.InvestigatedAt),
			ev.ResolutionNotes, ev.ResolvedBy, nullTime(ev.ResolvedAt), ev.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save fraud rule event %s: %w", ev.RuleCode, err)
		}
	}

	return tx.Commit()
}

func scanEvent(s scanner) (*domain.FraudRuleEvent, error) {
	var ev domain.FraudRuleEvent
	var actions, status string
	var duration int64
	var endDate, investigatedAt, resolvedAt sql.NullTime

	err := s.Scan(
		&ev.ID, &ev.RuleID, &ev.RuleCode, &ev.RuleName, &ev.TransactionID, &ev.AccountID,
		&ev.IPAddress, &ev.DeviceInfo, &actions, &duration, &endDate, &status,
		&ev.Details, &ev.InvestigatedBy, &investigatedAt, &ev.ResolutionNotes,
		&ev.ResolvedBy, &resolvedAt, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.ActionDuration = time.Duration(duration)
	ev.ActionEndDate = timePtr(endDate)
	ev.InvestigatedAt = timePtr(investigatedAt)
	ev.ResolvedAt = timePtr(resolvedAt)
	ev.Status = domain.FraudEventStatus(status)
	ev.CreatedAt = ev.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(actions), &ev.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of event %s: %w", ev.ID, err)
	}
	return &ev, nil
}

// GetFraudRuleEvent retrieves an event by id.
func (r *SQLRepository) GetFraudRuleEvent(ctx context.Context, id string) (*domain.FraudRuleEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM fraud_rule_events WHERE id = ?`

	ev, err := scanEvent(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return ev, err
}

// ListFraudRuleEvents returns the newest events matching filter.
func (r *SQLRepository) ListFraudRuleEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.FraudRuleEvent, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.IPAddress != "" {
		where = append(where, "ip_address = ?")
		args = append(args, filter.IPAddress)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + eventColumns + ` FROM fraud_rule_events`)
	if len(where) > 0 {
		sb.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	sb.WriteString(` ORDER BY created_at DESC, id LIMIT ?`)
	args = append(args, historyLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, r.rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*domain.FraudRuleEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpdateFraudRuleEvent writes the investigation fields of an event.
func (r *SQLRepository) UpdateFraudRuleEvent(ctx context.Context, ev *domain.FraudRuleEvent) error {
	query := `
		UPDATE fraud_rule_events
		SET status = ?, investigated_by = ?, investigated_at = ?,
			resolution_notes = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(ev.Status), ev.InvestigatedBy, nullTime(ev.InvestigatedAt),
		ev.ResolutionNotes, ev.ResolvedBy, nullTime(ev.ResolvedAt), ev.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// --- Fraud alerts ---

const alertColumns = `id, analysis_id, transaction_id, account_id, level, status,
	risk_score, decision, factors, assigned_to, assigned_at, resolution,
	resolved_by, resolved_at, created_at`

// SaveAlert stores a new alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.FraudAlert) error {
	if a == nil || a.ID == "" || a.AnalysisID == "" {
		return fmt.Errorf("%w: alert and analysis ids are required", domain.ErrInvalidInput)
	}
	factors, err := marshalJSON(a.Factors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.AnalysisID, a.TransactionID, a.AccountID, string(a.Level), string(a.Status),
		a.RiskScore, string(a.Decision), factors, a.AssignedTo, nullTime(a.AssignedAt),
		a.Resolution, a.ResolvedBy, nullTime(a.ResolvedAt), a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

func scanAlert(s scanner) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var level, status, decision, factors string
	var assignedAt, resolvedAt sql.NullTime

	err := s.Scan(
		&a.ID, &a.AnalysisID, &a.TransactionID, &a.AccountID, &level, &status,
		&a.RiskScore, &decision, &factors, &a.AssignedTo, &assignedAt, &a.Resolution,
		&a.ResolvedBy, &resolvedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Level = domain.RiskLevel(level)
	a.Status = domain.AlertStatus(status)
	a.Decision = domain.DecisionType(decision)
	a.AssignedAt = timePtr(assignedAt)
	a.ResolvedAt = timePtr(resolvedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(factors), &a.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode factors of alert %s: %w", a.ID, err)
	}
	return &a, nil
}

// GetAlert retrieves an alert by id.
func (r *SQLRepository) GetAlert(ctx context.Context, id string) (*domain.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = ?`

	a, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// ListAlerts returns the newest alerts matching filter.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + alertColumns + ` FROM fraud_alerts`)
	if len(where) > 0 {
		sb.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	sb.WriteString(` ORDER BY created_at DESC, id LIMIT ?`)
	args = append(args, historyLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, r.rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []*domain.FraudAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpdateAlert writes the case fields of an alert.
func (r *SQLRepository) UpdateAlert(ctx context.Context, a *domain.FraudAlert) error {
	query := `
		UPDATE fraud_alerts
		SET status = ?, assigned_to = ?, assigned_at = ?,
			resolution = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(a.Status), a.AssignedTo, nullTime(a.AssignedAt),
		a.Resolution, a.ResolvedBy, nullTime(a.ResolvedAt), a.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- Activity ---

// SaveActivity records an activity event.
func (r *SQLRepository) SaveActivity(ctx context.Context, ev *domain.ActivityEvent) error {
	if ev == nil || ev.ID == "" || ev.Kind == "" {
		return fmt.Errorf("%w: activity id and kind are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO activity_events (id, kind, account_id, ip_address, device_id, amount, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, string(ev.Kind), ev.AccountID, ev.IPAddress, ev.DeviceID,
		ev.Amount.String(), ev.OccurredAt.UnixNano(),
	)
	return err
}

// CountActivity counts events of kind whose key equals value inside
// [since, until].
func (r *SQLRepository) CountActivity(ctx context.Context, kind domain.ActivityKind, key domain.ActivityKey, value string, since, until time.Time) (int64, error) {
	var column string
	switch key {
	case domain.KeyAccount:
		column = "account_id"
	case domain.KeyIP:
		column = "ip_address"
	case domain.KeyDevice:
		column = "device_id"
	default:
		return 0, fmt.Errorf("%w: unknown activity key %q", domain.ErrInvalidInput, key)
	}

	query := `
		SELECT COUNT(*) FROM activity_events
		WHERE kind = ? AND ` + column + ` = ?
		AND occurred_at >= ? AND occurred_at <= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		string(kind), value, since.UnixNano(), until.UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}

	return count, nil
}

var _ domain.Repository = (*SQLRepository)(nil)
