// Package adapter defines the relay boundary: forwarding every message the
// feed observes to a downstream system.
//
// Relays are best-effort. A failed publish is logged and counted by the
// feed and never affects the local cache or subscription.
package adapter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pithecene-io/chatlink/types"
)

// EventTypeMessageAdded is the event type of every relayed message.
const EventTypeMessageAdded = "message_added"

// Default retry policy of the relay adapters.
const (
	DefaultRetries         = 3
	DefaultInitialInterval = 500 * time.Millisecond
)

// MessageEvent is the payload published for each observed message.
type MessageEvent struct {
	Version        string        `json:"version"`
	EventType      string        `json:"event_type"`
	ClientID       string        `json:"client_id"`
	SubscriptionID string        `json:"subscription_id"`
	Message        types.Message `json:"message"`
	ReceivedAt     string        `json:"received_at"` // RFC 3339
}

// NewMessageEvent builds the relay payload for m.
func NewMessageEvent(clientID, subscriptionID string, m types.Message, at time.Time) *MessageEvent {
	return &MessageEvent{
		Version:        types.Version,
		EventType:      EventTypeMessageAdded,
		ClientID:       clientID,
		SubscriptionID: subscriptionID,
		Message:        m,
		ReceivedAt:     at.UTC().Format(time.RFC3339Nano),
	}
}

// Adapter publishes message events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation.
	Publish(ctx context.Context, event *MessageEvent) error

	// Close releases adapter resources.
	Close() error
}

// Retry runs op up to 1+retries times with exponential backoff starting
// at DefaultInitialInterval. Errors wrapped with backoff.Permanent stop
// immediately and are returned unwrapped.
func Retry(ctx context.Context, retries int, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultInitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
}
