// Package bubbletea provides the terminal chat UI. It observes a
// conversation's message log and stream status and renders them; it never
// mutates the log itself.
package bubbletea

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/margin"
)

// Conversation is the chat surface the UI drives. *chat.Conversation
// satisfies it.
type Conversation interface {
	Send(ctx context.Context, text string) error
	Recover()
	Status() margin.StreamStatus
	Messages() []margin.Message
	Subscribe(fn func(margin.StreamStatus)) func()
	Log() *margin.MessageLog
}

// SessionSource supplies the session shown in the status line.
type SessionSource interface {
	Session() margin.Session
}

// Run creates and runs the Bubble Tea program. It blocks until the program
// exits. Cancelling ctx quits the program.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	defer m.Close()
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()
	_, err := p.Run()
	return err
}

// ChangedMsg reports that the log or stream status changed since the model
// last looked.
type ChangedMsg struct{}

// SendDoneMsg carries the result of a finished exchange.
type SendDoneMsg struct {
	Err error
}

// bridge turns observer callbacks into Bubble Tea messages. Notifications
// are coalesced: a burst of fragments produces one redraw.
type bridge struct {
	changed chan struct{}
	stop    chan struct{}
	once    sync.Once
	unsubs  []func()
}

func newBridge(conv Conversation) *bridge {
	b := &bridge{
		changed: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.unsubs = append(b.unsubs,
		conv.Log().Subscribe(func([]margin.Message) { b.notify() }),
		conv.Subscribe(func(margin.StreamStatus) { b.notify() }),
	)
	return b
}

func (b *bridge) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

func (b *bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.changed:
			return ChangedMsg{}
		case <-b.stop:
			return nil
		}
	}
}

func (b *bridge) close() {
	b.once.Do(func() {
		for _, u := range b.unsubs {
			u()
		}
		close(b.stop)
	})
}
