package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication. Supports
// in-process Go channels or NATS (Config.EventBus.Type). Used by the
// Registry to fan out reload notifications to subscribers (spec.md §4.4).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// Standard topic names for registry change events and workflow dispatch.
const (
	TopicRulesReloaded  = "rulecore.registry.reloaded"
	TopicReloadFailed   = "rulecore.registry.reload_failed"
	TopicRuleChanged    = "rulecore.registry.rule_changed"
	TopicWorkflowStage  = "rulecore.workflow.stage"
	TopicABTestAssigned = "rulecore.abtest.assigned"

	// Topics consumed/produced by the async evaluation worker pool.
	TopicEvaluationRequested = "rulecore.evaluation.requested"
	TopicEvaluationCompleted = "rulecore.evaluation.completed"
	TopicEvaluationAlert     = "rulecore.evaluation.alert"
)
