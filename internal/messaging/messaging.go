// Package messaging abstracts the message bus so the ingestion and
// response paths are not coupled to a specific broker implementation.
package messaging

import (
	"context"
	"time"
)

// Message is a message received from or sent to the bus.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw payload.
	Data []byte

	// Reply is an optional subject for request/reply patterns.
	Reply string

	// Metadata carries optional header key-value pairs.
	Metadata map[string]string

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// MessageHandler processes one received message. A returned error marks
// the message as failed; delivery is at-least-once so handlers must be
// idempotent.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription is an active subscription to a subject.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends a fire-and-forget message to the subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Request sends a message and waits for a single reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)

	Close() error
}

// Subscriber subscribes to messages on subjects.
type Subscriber interface {
	// Subscribe creates a fan-out subscription; every subscriber sees
	// every message.
	Subscribe(subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe load-balances messages across subscribers sharing a
	// queue group; each message is processed once per group.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)

	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber

	// Drain gracefully closes the connection, letting in-flight messages
	// complete.
	Drain() error

	IsConnected() bool
}
