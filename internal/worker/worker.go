// Package worker provides an async evaluation consumer: it subscribes to
// the EventBus for evaluation requests published out-of-band (by a message
// queue ingestion path, a scheduled job, or another service) and runs them
// through the Ruleset Pipeline the same way the synchronous /evaluate
// endpoint does, without a caller blocking on the HTTP round trip.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/pipeline"
	"github.com/opensource-finance/rulecore/internal/registry"
)

// Worker processes evaluation requests asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	registry *registry.Registry

	// AlertPatternResult is the pattern-result string that triggers a
	// publish to TopicEvaluationAlert in addition to TopicEvaluationCompleted.
	// Empty disables alert publishing.
	AlertPatternResult string

	subscription domain.Subscription
	work         chan *domain.Message
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of goroutines draining the internal work
	// queue concurrently. The EventBus delivers messages to a single
	// subscription sequentially; Worker fans them out internally so a slow
	// evaluation doesn't stall the next message's delivery.
	WorkerCount int

	// QueueSize bounds the internal work channel. 0 uses a sensible default.
	QueueSize int
}

// NewWorker creates a new async evaluation worker.
func NewWorker(bus domain.EventBus, pipe *pipeline.Pipeline, reg *registry.Registry) *Worker {
	return &Worker{
		bus:      bus,
		pipeline: pipe,
		registry: reg,
	}
}

// Start begins draining TopicEvaluationRequested with cfg.WorkerCount
// concurrent goroutines.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.work = make(chan *domain.Message, cfg.QueueSize)

	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.drain()
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEvaluationRequested, w.enqueue)
	if err != nil {
		w.cancel()
		return err
	}
	w.subscription = sub

	slog.Info("evaluation worker started", "workers", cfg.WorkerCount, "queue_size", cfg.QueueSize)
	return nil
}

// enqueue is the EventBus handler: it hands the message to the internal
// work queue without blocking the bus's own delivery goroutine for longer
// than it takes to enqueue.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.work <- msg:
	case <-ctx.Done():
	}
	return nil
}

func (w *Worker) drain() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg, ok := <-w.work:
			if !ok {
				return
			}
			w.processMessage(w.ctx, msg)
		}
	}
}

// EvaluationRequestMessage is the message payload for an async evaluation
// request, mirroring the synchronous /evaluate request body.
type EvaluationRequestMessage struct {
	RulesetID     string            `json:"rulesetId,omitempty"`
	Data          domain.DataRecord `json:"data"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

func (w *Worker) processMessage(ctx context.Context, msg *domain.Message) {
	start := time.Now()

	var req EvaluationRequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("worker: failed to parse evaluation request", "message_id", msg.ID, "error", err)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = msg.ID
	}

	ruleset, ok := w.resolveRuleset(req.RulesetID)
	if !ok {
		slog.Error("worker: ruleset not found", "ruleset_id", req.RulesetID, "correlation_id", correlationID)
		return
	}
	compiled := w.registry.CompiledRulesFor(ruleset)

	result, err := w.pipeline.Execute(ruleset, compiled, domain.ExecutionContext{
		Data:          req.Data,
		CorrelationID: correlationID,
		Ctx:           ctx,
	}, false)
	if err != nil {
		slog.Error("worker: evaluation failed", "correlation_id", correlationID, "error", err)
		return
	}

	payload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, domain.TopicEvaluationCompleted, payload); err != nil {
		slog.Error("worker: failed to publish evaluation result", "correlation_id", correlationID, "error", err)
	}

	if w.AlertPatternResult != "" && result.PatternResult == w.AlertPatternResult {
		if err := w.bus.Publish(ctx, domain.TopicEvaluationAlert, payload); err != nil {
			slog.Error("worker: failed to publish alert", "correlation_id", correlationID, "error", err)
		}
	}

	slog.Debug("worker: evaluation processed",
		"correlation_id", correlationID,
		"pattern_result", result.PatternResult,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) resolveRuleset(rulesetID string) (*domain.RulesetConfig, bool) {
	if rulesetID == "" {
		return w.registry.DefaultRuleset()
	}
	return w.registry.GetRuleset(rulesetID)
}

// Stop gracefully stops the worker: it unsubscribes from the bus, stops
// accepting new work, and waits for in-flight messages to finish.
func (w *Worker) Stop() error {
	if w.subscription != nil {
		if err := w.subscription.Unsubscribe(); err != nil {
			slog.Error("worker: failed to unsubscribe", "error", err)
		}
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	slog.Info("evaluation worker stopped")
	return nil
}

// Stats returns current worker statistics.
type Stats struct {
	Running bool `json:"running"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	return Stats{Running: w.subscription != nil}
}
