package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed bus connection.
var ErrClosed = errors.New("pubsub: connection closed")

// Message is delivered for a direct (non-pattern) channel subscription.
type Message struct {
	// Channel is the concrete channel the message was published to.
	Channel string
	// Payload is the raw message body. It is never parsed.
	Payload string
}

// PatternMessage is delivered for a pattern subscription.
type PatternMessage struct {
	// Pattern is the subscription pattern that matched.
	Pattern string
	// Channel is the concrete channel the message was published to.
	Channel string
	// Payload is the raw message body. It is never parsed.
	Payload string
}

// MessageHandler processes a message from a direct channel subscription.
type MessageHandler func(ctx context.Context, msg Message)

// PatternHandler processes a message from a pattern subscription.
type PatternHandler func(ctx context.Context, msg PatternMessage)

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
	Close() error
}

// Subscriber is a connection dedicated to subscriptions. On buses like Redis a
// subscribing connection cannot issue ordinary commands, so it must never be
// shared with a Publisher.
type Subscriber interface {
	// PSubscribe subscribes to a glob-style pattern and returns the number of
	// active subscriptions reported by the bus once it confirms.
	PSubscribe(ctx context.Context, pattern string) (int, error)
	// Subscribe subscribes to a single channel.
	Subscribe(ctx context.Context, channel string) (int, error)
	// OnPatternMessage sets the handler for pattern-matched messages.
	OnPatternMessage(h PatternHandler)
	// OnMessage sets the handler for direct channel messages.
	OnMessage(h MessageHandler)
	Close() error
}
