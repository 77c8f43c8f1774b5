package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pithecene-io/chatlink/types"
)

func TestNewMessageEvent(t *testing.T) {
	at := time.Date(2026, 2, 7, 13, 0, 0, 0, time.FixedZone("CET", 3600))
	ev := NewMessageEvent("c1", "s1", types.Message{ID: "1", Text: "hi", User: "a"}, at)

	if ev.EventType != EventTypeMessageAdded {
		t.Errorf("EventType = %q", ev.EventType)
	}
	if ev.Version != types.Version {
		t.Errorf("Version = %q, want %q", ev.Version, types.Version)
	}
	if ev.ReceivedAt != "2026-02-07T12:00:00Z" {
		t.Errorf("ReceivedAt = %q, want UTC", ev.ReceivedAt)
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), 3, func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(t.Context(), 3, func() error {
		calls++
		return backoff.Permanent(boom)
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ZeroRetries(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), 0, func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Error("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
