package bubbletea

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/margin"
	"github.com/fwojciec/margin/goldmark"
)

var _ tea.Model = Model{}

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	// Input is the question input. Exported for test access.
	Input textinput.Model
	// Viewport is the scrollable transcript. Exported for test access.
	Viewport viewport.Model

	conv     Conversation
	sessions SessionSource
	renderer *goldmark.Renderer
	styles   Styles
	bridge   *bridge

	blocks []MessageBlock // one per log message, same order
	status margin.StreamStatus

	sending bool
	cancel  context.CancelFunc
	err     error // result of the last send, shown until the next one
	ready   bool
}

// New creates a Model over conv. It subscribes to conv immediately; call
// Close when the program exits.
func New(conv Conversation, sessions SessionSource, theme margin.Theme) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask about what you are reading..."
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 0

	m := Model{
		Input:    ti,
		conv:     conv,
		sessions: sessions,
		renderer: goldmark.New(theme),
		styles:   NewStyles(theme),
		bridge:   newBridge(conv),
	}
	return m.sync()
}

// Close releases the model's subscriptions. Safe to call more than once.
func (m Model) Close() { m.bridge.close() }

// Sending reports whether an exchange is in flight.
func (m Model) Sending() bool { return m.sending }

// Err returns the error of the last exchange, if any.
func (m Model) Err() error { return m.err }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.bridge.wait())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ChangedMsg:
		m = m.sync()
		m.refresh()
		return m, m.bridge.wait()

	case SendDoneMsg:
		m.sending = false
		m.cancel = nil
		m.err = msg.Err
		m = m.sync()
		m.refresh()
		return m, m.Input.Focus()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)
	if !m.sending {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	var b strings.Builder
	b.WriteString(m.Viewport.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine(m.Viewport.Width))
	b.WriteString("\n")
	b.WriteString(m.Input.View())
	return b.String()
}

func (m Model) resize(msg tea.WindowSizeMsg) Model {
	const inputHeight, statusHeight, separators = 1, 1, 2
	h := max(msg.Height-inputHeight-statusHeight-separators, 1)
	if !m.ready {
		m.Viewport = viewport.New(msg.Width, h)
		m.ready = true
	} else {
		m.Viewport.Width = msg.Width
		m.Viewport.Height = h
	}
	m.Input.Width = msg.Width
	m.refresh()
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.sending {
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		m.Close()
		return m, tea.Quit

	case tea.KeyEnter:
		if m.sending {
			return m, nil
		}
		return m.submit(strings.TrimSpace(m.Input.Value()))
	}

	if m.sending {
		return m, nil
	}
	var cmds []tea.Cmd
	var cmd tea.Cmd
	// Printable keys go to the input only; 'j' and 'k' are text here.
	if msg.Type != tea.KeyRunes {
		m.Viewport, cmd = m.Viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.Input, cmd = m.Input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit starts an exchange. After a failure, Enter first seals the failed
// exchange; with text it then sends the new question.
func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	if m.status.State == margin.StreamStateFailed {
		m.conv.Recover()
		m.err = nil
		m = m.sync()
		m.refresh()
	}
	if text == "" {
		return m, nil
	}

	m.Input.SetValue("")
	m.Input.Blur()
	m.err = nil
	m.sending = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	conv := m.conv
	return m, func() tea.Msg {
		defer cancel()
		return SendDoneMsg{Err: conv.Send(ctx, text)}
	}
}

// sync brings blocks and status up to date with the conversation. The log
// only grows and only its last message changes, so existing blocks are
// updated in place.
func (m Model) sync() Model {
	msgs := m.conv.Messages()
	for i, msg := range msgs {
		if i < len(m.blocks) {
			m.blocks[i].Set(msg)
			continue
		}
		m.blocks = append(m.blocks, newBlock(msg, m.renderer, m.styles))
	}
	m.status = m.conv.Status()
	return m
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.renderContent())
	m.Viewport.GotoBottom()
}

func (m Model) renderContent() string {
	width := m.Viewport.Width
	parts := make([]string, 0, len(m.blocks)+1)
	for _, b := range m.blocks {
		parts = append(parts, b.View(width))
	}
	if m.status.State == margin.StreamStateFailed && m.status.Err != nil {
		parts = append(parts, NewErrorBlock(m.status.Err, m.styles).View(width))
	}
	return strings.Join(parts, "\n\n")
}
