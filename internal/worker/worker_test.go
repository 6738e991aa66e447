package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

type stubProcessor struct {
	calls atomic.Int32
	last  atomic.Pointer[domain.RuleEvaluationContext]
	err   error
}

func (p *stubProcessor) Process(ctx context.Context, c *domain.RuleEvaluationContext) (*pipeline.Outcome, error) {
	p.calls.Add(1)
	p.last.Store(c)
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.Outcome{Result: &domain.AnalysisResult{
		ID:            "analysis-1",
		TransactionID: c.TransactionID(),
		Decision:      domain.DecisionApprove,
		RiskLevel:     domain.RiskLow,
		Status:        domain.AnalysisCompleted,
	}}, nil
}

type stubReloader struct {
	reloads atomic.Int32
}

func (r *stubReloader) ReloadRules(ctx context.Context) error {
	r.reloads.Add(1)
	return nil
}

type stubBlacklist struct {
	invalidations atomic.Int32
	sweeps        atomic.Int32
}

func (b *stubBlacklist) InvalidateSnapshot(ctx context.Context) {
	b.invalidations.Add(1)
}

func (b *stubBlacklist) SweepExpired(ctx context.Context) (int, error) {
	b.sweeps.Add(1)
	return 0, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func evaluationPayload(t *testing.T, txID string) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.RuleEvaluationContext{
		Transaction: &domain.TransactionContext{TransactionID: txID, Currency: "TRY"},
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return payload
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &stubProcessor{}, &stubReloader{}, &stubBlacklist{})

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 3 {
			t.Errorf("expected 3 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if got := w.GetStats().SubscriptionCount; got != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", got)
		}
	})

	t.Run("OptionalHandlers", func(t *testing.T) {
		w := NewWorker(eventBus, &stubProcessor{}, nil, nil)
		if err := w.Start(Config{SweepInterval: time.Millisecond}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicEvaluateRequest {
			t.Errorf("expected only the evaluate subscription, got %v", stats.Topics)
		}
	})

	t.Run("ProcessesFireAndForget", func(t *testing.T) {
		proc := &stubProcessor{}
		w := NewWorker(eventBus, proc, nil, nil)
		w.Start(Config{})
		defer w.Stop()

		if err := eventBus.Publish(context.Background(), domain.TopicEvaluateRequest, evaluationPayload(t, "tx-001")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, "processing", func() bool { return proc.calls.Load() == 1 })
	})

	t.Run("RepliesToRequest", func(t *testing.T) {
		w := NewWorker(eventBus, &stubProcessor{}, nil, nil)
		w.Start(Config{})
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		resp, err := eventBus.Request(ctx, domain.TopicEvaluateRequest, evaluationPayload(t, "tx-002"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		var reply EvaluateReply
		if err := json.Unmarshal(resp, &reply); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if reply.Error != "" {
			t.Fatalf("unexpected error reply: %s", reply.Error)
		}
		if reply.Result == nil || reply.Result.TransactionID != "tx-002" {
			t.Errorf("expected result for tx-002, got %+v", reply.Result)
		}
	})

	t.Run("RepliesWithError", func(t *testing.T) {
		w := NewWorker(eventBus, &stubProcessor{err: errors.New("risk scoring failure")}, nil, nil)
		w.Start(Config{})
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		resp, err := eventBus.Request(ctx, domain.TopicEvaluateRequest, evaluationPayload(t, "tx-003"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		var reply EvaluateReply
		json.Unmarshal(resp, &reply)
		if reply.Error != "risk scoring failure" {
			t.Errorf("expected error reply, got %q", reply.Error)
		}
		if reply.Result != nil {
			t.Error("expected no result on failure")
		}
	})

	t.Run("IgnoresClientControlFields", func(t *testing.T) {
		proc := &stubProcessor{}
		w := NewWorker(eventBus, proc, nil, nil)
		w.Start(Config{})
		defer w.Stop()

		payload := []byte(`{"transaction":{"transactionId":"tx-004","currency":"TRY"},` +
			`"evaluationTime":"2020-01-01T00:00:00Z","isTestMode":true}`)
		if err := eventBus.Publish(context.Background(), domain.TopicEvaluateRequest, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, "processing", func() bool { return proc.calls.Load() == 1 })
		c := proc.last.Load()
		if !c.EvaluationTime.IsZero() {
			t.Errorf("expected the client evaluation time to be dropped, got %v", c.EvaluationTime)
		}
		if c.IsTestMode {
			t.Error("expected the client test mode flag to be ignored")
		}
	})

	t.Run("MalformedRequest", func(t *testing.T) {
		proc := &stubProcessor{}
		w := NewWorker(eventBus, proc, nil, nil)
		w.Start(Config{})
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		resp, err := eventBus.Request(ctx, domain.TopicEvaluateRequest, []byte("{not json"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		var reply EvaluateReply
		json.Unmarshal(resp, &reply)
		if reply.Error == "" {
			t.Error("expected error reply for malformed payload")
		}
		if proc.calls.Load() != 0 {
			t.Error("processor must not run for malformed payload")
		}
	})

	t.Run("ReloadsRulesOnChange", func(t *testing.T) {
		reloader := &stubReloader{}
		w := NewWorker(eventBus, &stubProcessor{}, reloader, nil)
		w.Start(Config{})
		defer w.Stop()

		eventBus.Publish(context.Background(), domain.TopicRulesChanged, []byte(`{"ruleCode":"TRX_HIGH_AMOUNT"}`))

		waitFor(t, "rule reload", func() bool { return reloader.reloads.Load() == 1 })
	})

	t.Run("InvalidatesBlacklistSnapshot", func(t *testing.T) {
		bl := &stubBlacklist{}
		w := NewWorker(eventBus, &stubProcessor{}, nil, bl)
		w.Start(Config{})
		defer w.Stop()

		eventBus.Publish(context.Background(), domain.TopicBlacklistChanged, []byte(`{}`))

		waitFor(t, "snapshot invalidation", func() bool { return bl.invalidations.Load() == 1 })
	})

	t.Run("SweepsExpired", func(t *testing.T) {
		bl := &stubBlacklist{}
		w := NewWorker(eventBus, &stubProcessor{}, nil, bl)
		w.Start(Config{SweepInterval: 10 * time.Millisecond})

		waitFor(t, "sweep", func() bool { return bl.sweeps.Load() >= 2 })

		w.Stop()
		after := bl.sweeps.Load()
		time.Sleep(30 * time.Millisecond)
		if bl.sweeps.Load() != after {
			t.Error("sweep continued after stop")
		}
	})
}
