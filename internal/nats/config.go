// Package nats carries the app's push topics and notifications over NATS
// JetStream.
package nats

import (
	"time"
)

// Config holds NATS connection and stream configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Name is the client connection name for monitoring
	Name string `env:"NATS_CLIENT_NAME" envDefault:"upgrade-agent"`

	// MaxReconnects is the maximum number of reconnection attempts
	MaxReconnects int `env:"NATS_MAX_RECONNECTS" envDefault:"60"`

	// ReconnectWait is the time to wait between reconnection attempts
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	// Timeout is the connection timeout
	Timeout time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`

	// TopicPrefix is prepended to every push topic to form its subject.
	TopicPrefix string `env:"NATS_TOPIC_PREFIX" envDefault:"calendar.topics"`

	// NotificationPrefix is prepended to the channel name of published
	// notifications.
	NotificationPrefix string `env:"NATS_NOTIFICATION_PREFIX" envDefault:"calendar.notifications"`

	Stream StreamConfig `envPrefix:"NATS_STREAM_"`

	Consumer ConsumerConfig `envPrefix:"NATS_CONSUMER_"`
}

// StreamConfig holds JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name
	Name string `env:"NAME" envDefault:"CALENDAR_PUSH"`

	// Subjects are the subjects to capture
	Subjects []string `env:"SUBJECTS" envDefault:"calendar.topics.>"`

	// MaxAge is the maximum age of messages in the stream
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"720h"` // 30 days

	// MaxBytes is the maximum size of the stream in bytes
	MaxBytes int64 `env:"MAX_BYTES" envDefault:"67108864"` // 64MB

	// Replicas is the number of replicas for the stream
	Replicas int `env:"REPLICAS" envDefault:"1"`

	// Storage is the storage type (file or memory)
	Storage string `env:"STORAGE" envDefault:"file"`

	// DuplicateWindow bounds JetStream's own message-ID deduplication.
	DuplicateWindow time.Duration `env:"DUPLICATE_WINDOW" envDefault:"2m"`
}

// ConsumerConfig holds the settings of the per-topic durable consumers.
type ConsumerConfig struct {
	// NamePrefix scopes durable names, usually to one installation.
	NamePrefix string `env:"NAME_PREFIX" envDefault:"device"`

	// AckWait is the time to wait for acknowledgment
	AckWait time.Duration `env:"ACK_WAIT" envDefault:"30s"`

	// MaxDeliver is the maximum number of delivery attempts
	MaxDeliver int `env:"MAX_DELIVER" envDefault:"5"`
}

const defaultHandlerTimeout = 30 * time.Second
