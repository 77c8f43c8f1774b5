package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/chatlink/feed"
	"github.com/pithecene-io/chatlink/types"
)

type fakeFeed struct {
	mu      sync.Mutex
	msgs    []types.Message
	updates chan feed.Update
	sent    []string
	sendErr error
}

func newFakeFeed(msgs ...types.Message) *fakeFeed {
	return &fakeFeed{msgs: msgs, updates: make(chan feed.Update, 4)}
}

func (f *fakeFeed) Messages() []types.Message    { return f.msgs }
func (f *fakeFeed) Updates() <-chan feed.Update { return f.updates }

func (f *fakeFeed) Send(_ context.Context, text string) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return types.Message{Text: text}, f.sendErr
}

func sized(t *testing.T, f Feed) ChatModel {
	t.Helper()
	m := NewChatModel(t.Context(), f, "chatlink")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(ChatModel)
}

func TestChatModel_RendersInitialMessages(t *testing.T) {
	m := sized(t, newFakeFeed(types.Message{ID: "1", Text: "hi", User: "a", Timestamp: "bad"}))

	view := m.View()
	for _, want := range []string{"hi", "a", "--:--", "1 messages"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestChatModel_UpdateReplacesMessages(t *testing.T) {
	f := newFakeFeed()
	m := sized(t, f)

	next, cmd := m.Update(updateMsg{Messages: []types.Message{
		{ID: "1", Text: "hi", User: "a"},
		{ID: "2", Text: "yo", User: "b"},
	}})
	m = next.(ChatModel)
	if cmd == nil {
		t.Fatal("expected a command waiting for the next update")
	}
	view := m.View()
	if strings.Index(view, "hi") > strings.Index(view, "yo") {
		t.Errorf("messages out of order:\n%s", view)
	}

	close(f.updates)
	if _, ok := cmd().(updatesDoneMsg); !ok {
		t.Error("expected updatesDoneMsg after close")
	}
}

func TestChatModel_UpdateErrorShowsStatus(t *testing.T) {
	m := sized(t, newFakeFeed())
	next, _ := m.Update(updateMsg{Err: errors.New("reconnect attempts exhausted")})
	if view := next.(ChatModel).View(); !strings.Contains(view, "reconnect attempts exhausted") {
		t.Errorf("view missing error:\n%s", view)
	}
}

func TestChatModel_SendOnEnter(t *testing.T) {
	f := newFakeFeed()
	m := sized(t, f)
	m.input.SetValue("  hello  ")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(ChatModel)
	if cmd == nil {
		t.Fatal("expected send command")
	}
	if m.input.Value() != "" {
		t.Errorf("input = %q, want cleared", m.input.Value())
	}

	msg := cmd()
	if _, ok := msg.(sentMsg); !ok {
		t.Fatalf("msg = %T, want sentMsg", msg)
	}
	if len(f.sent) != 1 || f.sent[0] != "hello" {
		t.Errorf("sent = %q", f.sent)
	}
	if len(m.messages) != 0 {
		t.Error("message shown before the server pushed it")
	}
}

func TestChatModel_EmptyInputNotSent(t *testing.T) {
	m := sized(t, newFakeFeed())
	m.input.SetValue("   ")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("expected no command for blank input")
	}
}

func TestSendStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   string
		failed bool
	}{
		{name: "ok", err: nil, want: "", failed: false},
		{
			name:   "unauthorized",
			err:    &types.ApplicationError{Errors: []types.GraphQLError{{Message: "Unauthorized"}}},
			want:   "chatlink login",
			failed: true,
		},
		{name: "transport", err: errors.New("connection refused"), want: "connection refused", failed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, failed := sendStatus(tt.err)
			if failed != tt.failed || !strings.Contains(got, tt.want) {
				t.Errorf("sendStatus = %q, %v", got, failed)
			}
		})
	}
}

func TestChatModel_Quit(t *testing.T) {
	m := sized(t, newFakeFeed())
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if next.(ChatModel).View() != "" {
		t.Error("expected empty view after quit")
	}
}

func TestUserStyle_Stable(t *testing.T) {
	a := UserStyle("alice").GetForeground()
	b := UserStyle("alice").GetForeground()
	if a != b {
		t.Error("user color should be stable")
	}
}
