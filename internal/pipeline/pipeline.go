// Package pipeline coordinates one risk decision: blacklist gate, rule
// engine and model scoring in parallel, ensemble combination and the risk
// assessor, followed on Process by persistence and publication.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/risk"
)

var tracer = otel.Tracer("kestrel-pipeline")

// DefaultModelTimeout bounds a single model call.
const DefaultModelTimeout = 2 * time.Second

// BlacklistChecker is the gate consulted before anything else.
type BlacklistChecker interface {
	Check(ctx context.Context, c *domain.RuleEvaluationContext) domain.BlacklistVerdict
}

// RuleEvaluator runs the active rule catalog.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, c *domain.RuleEvaluationContext) (*domain.RuleEngineOutcome, error)
}

// ActivityRecorder records evaluated transactions for velocity rules.
type ActivityRecorder interface {
	RecordTransaction(ctx context.Context, c *domain.RuleEvaluationContext) error
}

// Store persists evaluation outputs.
type Store interface {
	domain.AnalysisResultRepository
	domain.FraudRuleEventRepository
}

// Config wires the pipeline. Rules is required; Classifier, Anomaly,
// Gate, Store, Alerts, Activity and Bus may be nil.
type Config struct {
	Gate       BlacklistChecker
	Rules      RuleEvaluator
	Classifier domain.ModelScorer
	Anomaly    domain.ModelScorer
	Combiner   *ensemble.Combiner
	Assessor   *risk.Assessor

	Store    Store
	Alerts   domain.AlertRepository
	Activity ActivityRecorder
	Bus      domain.EventBus

	Clock        domain.Clock
	ModelTimeout time.Duration
}

// Pipeline is safe for concurrent use; every call is independent.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline, defaulting the combiner, assessor and clock.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Rules == nil {
		return nil, fmt.Errorf("%w: a rule evaluator is required", domain.ErrInvalidInput)
	}
	if cfg.Combiner == nil {
		c, err := ensemble.NewCombiner(domain.DefaultEnsembleConfig())
		if err != nil {
			return nil, err
		}
		cfg.Combiner = c
	}
	if cfg.Assessor == nil {
		cfg.Assessor = risk.NewAssessor(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	return &Pipeline{cfg: cfg}, nil
}

// scores holds what the model fan-out returned.
type scores struct {
	classifier *domain.ModelPrediction
	anomaly    *domain.ModelPrediction
}

// Evaluate produces the AnalysisResult for c without persisting anything.
// A blacklist hit short-circuits rules and models. Model failures degrade
// to a PartialEvaluation; a rule catalog failure, an invalid composite score
// or cancellation is returned as an error.
func (p *Pipeline) Evaluate(ctx context.Context, c *domain.RuleEvaluationContext) (*domain.AnalysisResult, error) {
	result, _, err := p.run(ctx, c)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, c *domain.RuleEvaluationContext) (*domain.AnalysisResult, *domain.RuleEngineOutcome, error) {
	if c == nil {
		return nil, nil, fmt.Errorf("%w: evaluation context is required", domain.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "pipeline.Evaluate",
		trace.WithAttributes(attribute.String("kestrel.tx_id", c.TransactionID())),
	)
	defer span.End()

	start := time.Now()
	result, outcome, err := p.evaluate(ctx, c)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.EvaluationFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, nil, err
	}

	span.SetAttributes(
		attribute.String("kestrel.decision", string(result.Decision)),
		attribute.String("kestrel.risk_level", string(result.RiskLevel)),
		attribute.Float64("kestrel.risk_score", result.RiskScore),
		attribute.String("kestrel.status", string(result.Status)),
		attribute.Int("kestrel.triggered_rules", result.TriggeredRuleCount),
	)
	metrics.EvaluationsTotal.WithLabelValues(string(result.Decision), string(result.Status)).Inc()
	return result, outcome, nil
}

func (p *Pipeline) evaluate(ctx context.Context, c *domain.RuleEvaluationContext) (*domain.AnalysisResult, *domain.RuleEngineOutcome, error) {
	if c.EvaluationTime.IsZero() {
		cp := *c
		cp.EvaluationTime = p.cfg.Clock.Now()
		c = &cp
	}

	var verdict domain.BlacklistVerdict
	if p.cfg.Gate != nil {
		verdict = p.cfg.Gate.Check(ctx, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if verdict.IsBlocked {
		result, err := p.assemble(c, verdict, nil, nil, domain.ModelHealth{}, true)
		return result, nil, err
	}

	var (
		outcome *domain.RuleEngineOutcome
		got     scores
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		outcome, err = p.cfg.Rules.Evaluate(gctx, c)
		return err
	})

	features := Features(c)
	if p.cfg.Classifier != nil {
		g.Go(func() error {
			got.classifier = p.score(gctx, domain.ModelLightGBM, p.cfg.Classifier, features)
			return nil
		})
	}
	if p.cfg.Anomaly != nil {
		g.Go(func() error {
			got.anomaly = p.score(gctx, domain.ModelPCA, p.cfg.Anomaly, features)
			return nil
		})
	}

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}
	if err != nil {
		return nil, nil, fmt.Errorf("rule evaluation failed: %w", err)
	}

	prediction, health, err := p.cfg.Combiner.Combine(got.classifier, got.anomaly)
	if err != nil && !errors.Is(err, domain.ErrModelUnavailable) {
		return nil, nil, err
	}
	complete := health.ClassifierAvailable && health.AnomalyAvailable
	result, err := p.assemble(c, verdict, outcome, prediction, health, complete)
	if err != nil {
		return nil, nil, err
	}
	return result, outcome, nil
}

// score calls one model under its own timeout. Any failure is a missing
// model; cancellation of the evaluation itself is left to the caller.
func (p *Pipeline) score(ctx context.Context, model domain.ModelType, scorer domain.ModelScorer, features domain.FeatureVector) *domain.ModelPrediction {
	mctx, cancel := context.WithTimeout(ctx, p.cfg.ModelTimeout)
	defer cancel()

	pred, err := scorer.Score(mctx, features)
	if err != nil {
		if ctx.Err() == nil {
			metrics.ModelFailuresTotal.WithLabelValues(string(model)).Inc()
			slog.Warn("model unavailable, continuing without it",
				"model", model,
				"error", err,
			)
		}
		return nil
	}
	return pred
}

func (p *Pipeline) assemble(
	c *domain.RuleEvaluationContext,
	verdict domain.BlacklistVerdict,
	outcome *domain.RuleEngineOutcome,
	prediction *domain.ModelPrediction,
	health domain.ModelHealth,
	complete bool,
) (*domain.AnalysisResult, error) {
	assessment, err := p.cfg.Assessor.Assess(&risk.Input{
		Blacklist:  verdict,
		Outcome:    outcome,
		Prediction: prediction,
		Now:        c.EvaluationTime,
	})
	if err != nil {
		return nil, err
	}

	result := &domain.AnalysisResult{
		ID:             uuid.New().String(),
		TransactionID:  c.TransactionID(),
		AccountID:      c.AccountID(),
		RiskScore:      assessment.Score.Score(),
		RiskLevel:      assessment.Score.Level(),
		Decision:       assessment.Decision,
		Status:         domain.AnalysisCompleted,
		TriggeredRules: []domain.TriggeredRuleInfo{},
		AppliedActions: []domain.RuleAction{},
		RiskFactors:    assessment.Score.Factors(),
		Blacklist:      verdict,
		MLAnalysis:     domain.MLAnalysis{Prediction: prediction, Health: health},
		AnalyzedAt:     p.cfg.Clock.Now(),
	}
	if !complete {
		result.Status = domain.AnalysisPartialEvaluation
		result.Error = missingModels(health)
	}
	if prediction != nil {
		result.FraudProbability = prediction.Probability
		result.AnomalyScore = prediction.AnomalyScore
	}
	if outcome != nil {
		result.TotalRuleCount = outcome.TotalRuleCount
		result.TriggeredRuleCount = len(outcome.TriggeredRules)
		result.TriggeredRules = outcome.TriggeredRules
		result.AppliedActions = outcome.AppliedActions
		result.HardStop = outcome.HardStop
	}
	for i := range result.RiskFactors {
		result.RiskFactors[i].AnalysisID = result.ID
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRiskScoringFailure, err)
	}
	return result, nil
}

func missingModels(health domain.ModelHealth) string {
	switch {
	case !health.ClassifierAvailable && !health.AnomalyAvailable:
		return "no model prediction available"
	case !health.ClassifierAvailable:
		return "classifier prediction unavailable"
	default:
		return "anomaly prediction unavailable"
	}
}

// Outcome is the result of Process: the analysis plus the rule events and
// alert it raised.
type Outcome struct {
	Result *domain.AnalysisResult   `json:"result"`
	Events []*domain.FraudRuleEvent `json:"events,omitempty"`
	Alert  *domain.FraudAlert       `json:"alert,omitempty"`
	DryRun bool                     `json:"dryRun,omitempty"`
}

// Process evaluates c, persists the result and its events, opens an alert
// for high-risk decisions, records the transaction for velocity counting
// and publishes the decision, every rule event and the alert. Persistence
// failures are returned; alert, activity and publication failures are
// logged.
//
// A context with IsTestMode set is a dry run: the outcome is computed the
// same way but nothing is stored, recorded or published.
func (p *Pipeline) Process(ctx context.Context, c *domain.RuleEvaluationContext) (*Outcome, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: evaluation context is required", domain.ErrInvalidInput)
	}
	if c.EvaluationTime.IsZero() {
		cp := *c
		cp.EvaluationTime = p.cfg.Clock.Now()
		c = &cp
	}

	result, outcome, err := p.run(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []*domain.FraudRuleEvent
	if outcome != nil {
		events = outcome.Events
	}

	if c.IsTestMode {
		slog.Info("dry run evaluated",
			"tx_id", result.TransactionID,
			"decision", result.Decision,
			"risk_level", result.RiskLevel,
			"triggered_rules", result.TriggeredRuleCount,
		)
		return &Outcome{Result: result, Events: events, DryRun: true}, nil
	}

	if p.cfg.Store != nil {
		if err := p.cfg.Store.SaveAnalysisResult(ctx, result); err != nil {
			metrics.EvaluationFailuresTotal.WithLabelValues("persist").Inc()
			return nil, fmt.Errorf("failed to save analysis result: %w", err)
		}
		if len(events) > 0 {
			if err := p.cfg.Store.SaveFraudRuleEvents(ctx, events); err != nil {
				metrics.EvaluationFailuresTotal.WithLabelValues("persist").Inc()
				return nil, fmt.Errorf("failed to save rule events: %w", err)
			}
		}
	}

	for _, t := range result.TriggeredRules {
		mode := "live"
		if t.TestMode {
			mode = "test"
		}
		metrics.RulesTriggeredTotal.WithLabelValues(string(t.Category), mode).Inc()
	}
	metrics.RuleEventsTotal.Add(float64(len(events)))

	if p.cfg.Activity != nil {
		if err := p.cfg.Activity.RecordTransaction(ctx, c); err != nil {
			slog.Warn("failed to record transaction activity",
				"tx_id", result.TransactionID,
				"error", err,
			)
		}
	}

	alert := p.raiseAlert(ctx, result)

	p.publish(ctx, domain.TopicDecision, result.TransactionID, result)
	for _, ev := range events {
		p.publish(ctx, domain.TopicRuleEvent, result.TransactionID, ev)
	}
	if alert != nil {
		p.publish(ctx, domain.TopicAlert, result.TransactionID, alert)
	}

	slog.Info("transaction evaluated",
		"tx_id", result.TransactionID,
		"analysis_id", result.ID,
		"decision", result.Decision,
		"risk_level", result.RiskLevel,
		"risk_score", result.RiskScore,
		"status", result.Status,
		"triggered_rules", result.TriggeredRuleCount,
	)

	return &Outcome{Result: result, Events: events, Alert: alert}, nil
}

// raiseAlert opens an alert when the result warrants one. Without an alert
// store no alert is raised.
func (p *Pipeline) raiseAlert(ctx context.Context, result *domain.AnalysisResult) *domain.FraudAlert {
	if p.cfg.Alerts == nil || !result.RaisesAlert() {
		return nil
	}
	alert := domain.NewFraudAlert(result, p.cfg.Clock.Now())
	if err := p.cfg.Alerts.SaveAlert(ctx, alert); err != nil {
		slog.Error("failed to save alert",
			"tx_id", result.TransactionID,
			"analysis_id", result.ID,
			"error", err,
		)
		return nil
	}
	metrics.AlertsRaisedTotal.WithLabelValues(string(alert.Level)).Inc()
	slog.Warn("fraud alert raised",
		"alert_id", alert.ID,
		"tx_id", result.TransactionID,
		"risk_level", alert.Level,
		"decision", alert.Decision,
	)
	return alert
}

func (p *Pipeline) publish(ctx context.Context, topic, txID string, v any) {
	if p.cfg.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal bus payload", "topic", topic, "error", err)
		return
	}
	if err := p.cfg.Bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish",
			"topic", topic,
			"tx_id", txID,
			"error", err,
		)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, domain.ErrRiskScoringFailure):
		return "risk_scoring"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "rules"
	}
}
