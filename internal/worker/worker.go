// Package worker provides async message processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Processor evaluates and persists one context.
type Processor interface {
	Process(ctx context.Context, c *domain.RuleEvaluationContext) (*pipeline.Outcome, error)
}

// RuleReloader swaps in the current rule catalog.
type RuleReloader interface {
	ReloadRules(ctx context.Context) error
}

// BlacklistMaintainer owns the blacklist snapshot and expiry.
type BlacklistMaintainer interface {
	InvalidateSnapshot(ctx context.Context)
	SweepExpired(ctx context.Context) (int, error)
}

// Worker consumes evaluation requests and cluster notifications from the
// EventBus and runs the periodic blacklist expiry sweep.
type Worker struct {
	bus       domain.EventBus
	processor Processor
	rules     RuleReloader
	blacklist BlacklistMaintainer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// SweepInterval is how often expired blacklist items are swept.
	// Zero disables the sweep.
	SweepInterval time.Duration
}

// NewWorker creates a new async worker. rules and blacklist may be nil.
func NewWorker(eventBus domain.EventBus, processor Processor, rules RuleReloader, blacklist BlacklistMaintainer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		processor: processor,
		rules:     rules,
		blacklist: blacklist,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the worker topics and starts the sweep loop.
func (w *Worker) Start(cfg Config) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicEvaluateRequest: w.handleEvaluate,
	}
	if w.rules != nil {
		handlers[domain.TopicRulesChanged] = w.handleRulesChanged
	}
	if w.blacklist != nil {
		handlers[domain.TopicBlacklistChanged] = w.handleBlacklistChanged
	}

	for topic, handler := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, topic, handler)
		if err != nil {
			w.Stop()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	if w.blacklist != nil && cfg.SweepInterval > 0 {
		w.wg.Add(1)
		go w.sweepLoop(cfg.SweepInterval)
	}

	slog.Info("worker started",
		"topics", len(handlers),
		"sweep_interval", cfg.SweepInterval.String(),
	)
	return nil
}

// EvaluateReply answers an evaluation request sent with request-reply.
type EvaluateReply struct {
	Result *domain.AnalysisResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// handleEvaluate processes a RuleEvaluationContext published on
// TopicEvaluateRequest. Requests carrying a reply address get the result.
func (w *Worker) handleEvaluate(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var c domain.RuleEvaluationContext
	if err := json.Unmarshal(msg.Payload, &c); err != nil {
		slog.Error("failed to parse evaluation request",
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, EvaluateReply{Error: "invalid evaluation context"})
		return err
	}
	// The pipeline stamps its own clock.
	c.EvaluationTime = time.Time{}

	outcome, err := w.processor.Process(ctx, &c)
	if err != nil {
		slog.Error("evaluation failed",
			"tx_id", c.TransactionID(),
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, EvaluateReply{Error: err.Error()})
		return err
	}

	w.reply(ctx, msg, EvaluateReply{Result: outcome.Result})

	slog.Debug("evaluation request processed",
		"tx_id", outcome.Result.TransactionID,
		"decision", outcome.Result.Decision,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, reply EvaluateReply) {
	if msg.ReplyTo == "" {
		return
	}
	payload, _ := json.Marshal(reply)
	if err := bus.Respond(ctx, w.bus, msg, payload); err != nil {
		slog.Warn("failed to reply to evaluation request",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

func (w *Worker) handleRulesChanged(ctx context.Context, msg *domain.Message) error {
	if err := w.rules.ReloadRules(ctx); err != nil {
		slog.Error("failed to reload rules on change notification",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	slog.Debug("rules reloaded on change notification", "message_id", msg.ID)
	return nil
}

func (w *Worker) handleBlacklistChanged(ctx context.Context, msg *domain.Message) error {
	w.blacklist.InvalidateSnapshot(ctx)
	return nil
}

func (w *Worker) sweepLoop(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			n, err := w.blacklist.SweepExpired(w.ctx)
			if err != nil {
				if w.ctx.Err() == nil {
					slog.Error("blacklist sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				slog.Info("expired blacklist items swept", "count", n)
			}
		}
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
