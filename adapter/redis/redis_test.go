package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/chatlink/adapter"
	"github.com/pithecene-io/chatlink/types"
)

func testEvent() *adapter.MessageEvent {
	return adapter.NewMessageEvent("client-1", "sub-1",
		types.Message{ID: "2", Text: "yo", User: "b"},
		time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC))
}

// asyncReceive reads one message in the background. Must be called before
// Publish: miniredis delivers pub/sub messages synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestPublish_DefaultChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)
	if msg.Channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", msg.Channel, DefaultChannel)
	}
	var received adapter.MessageEvent
	if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if received.Message.ID != "2" || received.SubscriptionID != "sub-1" {
		t.Errorf("received = %+v", received)
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "room:general", Retries: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("room:general")
	ch := asyncReceive(sub)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := waitMessage(t, ch); msg.Channel != "room:general" {
		t.Errorf("channel = %q", msg.Channel)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty url", Config{}},
		{"invalid url", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.config.Channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", a.config.Channel, DefaultChannel)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", a.config.Timeout, DefaultTimeout)
	}
}

func TestClose_PublishFails(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error after close")
	}
}
