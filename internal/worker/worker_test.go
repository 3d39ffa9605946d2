package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/rulecore/internal/bus"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
	"github.com/opensource-finance/rulecore/internal/pipeline"
	"github.com/opensource-finance/rulecore/internal/registry"
	"github.com/opensource-finance/rulecore/internal/repository"
)

func newTestWorker(t *testing.T, eventBus domain.EventBus) (*Worker, *registry.Registry) {
	t.Helper()

	repoPath := t.TempDir() + "/rules.json"
	repo, err := repository.NewFileRepository(repoPath)
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	ruleset := &domain.RulesetConfig{
		ID:        "default",
		Name:      "default",
		IsDefault: true,
		Patterns:  map[string]string{"Y": "ALERT"},
		Rules: []*domain.RuleConfig{
			{
				ID:        "high-value",
				RulesetID: "default",
				Name:      "High Value",
				Priority:  1,
				RulePoint: 10,
				Weight:    1.0,
				ActionTag: "Y",
				Status:    domain.StatusActive,
				Attribute: "amount",
				Operator:  domain.OpGreaterThan,
				Constant:  100.0,
			},
		},
	}
	if err := repo.SaveRuleset(context.Background(), ruleset); err != nil {
		t.Fatalf("SaveRuleset: %v", err)
	}
	if err := repo.SaveRule(context.Background(), ruleset.Rules[0]); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	eval, err := evaluator.New()
	if err != nil {
		t.Fatalf("evaluator.New: %v", err)
	}

	reg, err := registry.New(context.Background(), domain.RegistryConfig{}, repo, eval, eventBus, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	pipe := pipeline.New(eval)
	w := NewWorker(eventBus, pipe, reg)
	return w, reg
}

func TestWorkerStartAndStop(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w, _ := newTestWorker(t, eventBus)

	if err := w.Start(Config{WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.GetStats().Running {
		t.Error("expected worker to report running after Start")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestWorkerProcessesEvaluationRequest(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w, _ := newTestWorker(t, eventBus)
	if err := w.Start(Config{WorkerCount: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var completedReceived atomic.Bool
	var completedPayload []byte

	eventBus.Subscribe(context.Background(), domain.TopicEvaluationCompleted, func(ctx context.Context, msg *domain.Message) error {
		completedPayload = msg.Payload
		completedReceived.Store(true)
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	req := EvaluationRequestMessage{
		Data:          domain.DataRecord{"amount": 250.0},
		CorrelationID: "corr-1",
	}
	payload, _ := json.Marshal(req)
	if err := eventBus.Publish(context.Background(), domain.TopicEvaluationRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if !completedReceived.Load() {
		t.Fatal("expected an evaluation.completed message")
	}

	var result domain.ExecutionResult
	if err := json.Unmarshal(completedPayload, &result); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if result.CorrelationID != "corr-1" {
		t.Errorf("expected correlationId 'corr-1', got %q", result.CorrelationID)
	}
	if result.TotalPoints != 10 {
		t.Errorf("expected totalPoints 10, got %v", result.TotalPoints)
	}
}

func TestWorkerPublishesAlertOnMatchingPattern(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w, _ := newTestWorker(t, eventBus)
	w.AlertPatternResult = "Y"
	if err := w.Start(Config{WorkerCount: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var alertReceived atomic.Bool
	eventBus.Subscribe(context.Background(), domain.TopicEvaluationAlert, func(ctx context.Context, msg *domain.Message) error {
		alertReceived.Store(true)
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	req := EvaluationRequestMessage{Data: domain.DataRecord{"amount": 500.0}}
	payload, _ := json.Marshal(req)
	eventBus.Publish(context.Background(), domain.TopicEvaluationRequested, payload)

	time.Sleep(100 * time.Millisecond)

	if !alertReceived.Load() {
		t.Error("expected an alert to be published for a matching pattern result")
	}
}

func TestWorkerSkipsAlertForNonMatchingPattern(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w, _ := newTestWorker(t, eventBus)
	w.AlertPatternResult = "Y"
	if err := w.Start(Config{WorkerCount: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var alertReceived atomic.Bool
	eventBus.Subscribe(context.Background(), domain.TopicEvaluationAlert, func(ctx context.Context, msg *domain.Message) error {
		alertReceived.Store(true)
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	req := EvaluationRequestMessage{Data: domain.DataRecord{"amount": 1.0}}
	payload, _ := json.Marshal(req)
	eventBus.Publish(context.Background(), domain.TopicEvaluationRequested, payload)

	time.Sleep(100 * time.Millisecond)

	if alertReceived.Load() {
		t.Error("expected no alert for a record that doesn't match the alert pattern")
	}
}

func TestEvaluationRequestMessageRoundTrip(t *testing.T) {
	msg := EvaluationRequestMessage{
		RulesetID:     "default",
		Data:          domain.DataRecord{"amount": 1234.56},
		CorrelationID: "corr-123",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed EvaluationRequestMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.RulesetID != msg.RulesetID {
		t.Errorf("expected RulesetID %q, got %q", msg.RulesetID, parsed.RulesetID)
	}
	if parsed.Data["amount"] != 1234.56 {
		t.Errorf("expected amount 1234.56, got %v", parsed.Data["amount"])
	}
}
