package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single node) or NATS.
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

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `toml:"type"`

	// Channel settings
	ChannelBufferSize int `toml:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `toml:"nats_url"`
	NATSToken         string `toml:"nats_token"`
	NATSMaxReconnects int    `toml:"nats_max_reconnects"`
	NATSReconnectWait int    `toml:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup, when set, makes each topic's messages go to one
	// subscriber per group instead of all of them.
	NATSQueueGroup string `toml:"nats_queue_group"`
}

// Lifecycle event topics. Outbound topics announce committed changes;
// TopicDeadlineSweep is inbound, published by the external scheduler.
const (
	TopicSwapProposed       = "billix.swap.proposed"
	TopicSwapTransitioned   = "billix.swap.transitioned"
	TopicProofSubmitted     = "billix.proof.submitted"
	TopicProofReviewed      = "billix.proof.reviewed"
	TopicDisputeFiled       = "billix.dispute.filed"
	TopicDisputeResolved    = "billix.dispute.resolved"
	TopicExtensionRequested = "billix.extension.requested"
	TopicPointsChanged      = "billix.points.changed"
	TopicDeadlineSweep      = "billix.deadline.sweep"
	TopicSweepReport        = "billix.deadline.report"
)

// SwapEvent is the payload published on TopicSwapTransitioned.
type SwapEvent struct {
	SwapID    string     `json:"swapId"`
	From      SwapStatus `json:"from,omitempty"`
	To        SwapStatus `json:"to"`
	ActorID   string     `json:"actorId,omitempty"`
	Timestamp string     `json:"timestamp"`
}
