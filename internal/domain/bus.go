package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels, NATS and Kafka.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

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
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `json:"type" yaml:"type"`

	// Channel settings
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"natsToken" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds

	// Kafka settings
	KafkaBrokers []string `json:"kafkaBrokers" yaml:"kafka_brokers"`
	KafkaGroupID string   `json:"kafkaGroupId" yaml:"kafka_group_id"`

	// PublishRetries bounds retries for broadcast publishes.
	PublishRetries int `json:"publishRetries" yaml:"publish_retries"`
}

// Broadcast channels. The first four feed the dashboard; submitted
// carries inbound transactions to the worker.
const (
	TopicTransactionCreated   = "kestrel.transaction.created"
	TopicRiskSignalCreated    = "kestrel.risk_signal.created"
	TopicAlertCreated         = "kestrel.alert.created"
	TopicDashboardStats       = "kestrel.dashboard.stats_changed"
	TopicTransactionSubmitted = "kestrel.transaction.submitted"
)
