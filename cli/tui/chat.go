package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/chatlink/feed"
	"github.com/pithecene-io/chatlink/types"
)

const (
	maxMessageLength = 500
	// chromeHeight is the number of lines used around the viewport.
	chromeHeight = 6
)

// Feed is the subset of feed.Feed used by the chat view.
type Feed interface {
	Messages() []types.Message
	Updates() <-chan feed.Update
	Send(ctx context.Context, text string) (types.Message, error)
}

type (
	updateMsg      feed.Update
	updatesDoneMsg struct{}
	sentMsg        struct{ err error }
)

// ChatModel is a Bubble Tea model for the live chat feed.
type ChatModel struct {
	ctx      context.Context
	feed     Feed
	title    string
	input    textinput.Model
	view     viewport.Model
	messages []types.Message
	status   string
	failed   bool
	sending  bool
	closed   bool
	ready    bool
	quitting bool
}

// NewChatModel creates a chat model over f. ctx bounds every send.
func NewChatModel(ctx context.Context, f Feed, title string) ChatModel {
	in := textinput.New()
	in.Placeholder = "Say something"
	in.CharLimit = maxMessageLength
	in.Prompt = "> "
	in.Focus()

	return ChatModel{
		ctx:      ctx,
		feed:     f,
		title:    title,
		input:    in,
		view:     viewport.New(80, 20),
		messages: f.Messages(),
	}
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.feed.Updates()))
}

func waitForUpdate(ch <-chan feed.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesDoneMsg{}
		}
		return updateMsg(u)
	}
}

func (m ChatModel) send(text string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.feed.Send(m.ctx, text)
		return sentMsg{err: err}
	}
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-chromeHeight, 1)
		m.input.Width = max(msg.Width-6, 10)
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Send):
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.sending {
				return m, nil
			}
			m.input.Reset()
			m.sending = true
			m.status, m.failed = "sending...", false
			return m, m.send(text)
		case key.Matches(msg, keys.PageUp), key.Matches(msg, keys.PageDown):
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}

	case updateMsg:
		if msg.Err != nil {
			m.status, m.failed = msg.Err.Error(), true
		} else {
			m.messages = msg.Messages
			m.refresh()
		}
		return m, waitForUpdate(m.feed.Updates())

	case updatesDoneMsg:
		m.closed = true
		m.status, m.failed = "feed closed", true
		return m, nil

	case sentMsg:
		m.sending = false
		m.status, m.failed = sendStatus(msg.err)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sendStatus describes the outcome of a send.
func sendStatus(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var appErr *types.ApplicationError
	if errors.As(err, &appErr) && appErr.Error() == "Unauthorized" {
		return "Unauthorized: run chatlink login first", true
	}
	return "send failed: " + err.Error(), true
}

func (m *ChatModel) refresh() {
	atBottom := m.view.AtBottom()
	m.view.SetContent(renderMessages(m.messages))
	if atBottom || !m.ready {
		m.view.GotoBottom()
	}
}

func renderMessages(msgs []types.Message) string {
	if len(msgs) == 0 {
		return HelpStyle.Render("(no messages yet)")
	}
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(TimeStyle.Render(clock(msg.Timestamp)))
		b.WriteByte(' ')
		b.WriteString(UserStyle(msg.User).Render(msg.User))
		b.WriteString(": ")
		b.WriteString(TextStyle.Render(msg.Text))
	}
	return b.String()
}

// clock formats an RFC 3339 timestamp as HH:MM, or "--:--".
func clock(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

// View implements tea.Model.
func (m ChatModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("  ")
	if m.closed {
		b.WriteString(ErrorStyle.Render("offline"))
	} else {
		b.WriteString(OKStyle.Render(fmt.Sprintf("%d messages", len(m.messages))))
	}
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")

	switch {
	case m.status == "":
		b.WriteString("\n")
	case m.failed:
		b.WriteString(ErrorStyle.Render(m.status) + "\n")
	default:
		b.WriteString(StatusStyle.Render(m.status) + "\n")
	}

	b.WriteString(InputStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("enter send • pgup/pgdown scroll • esc quit"))
	return b.String()
}
