package bubbletea_test

import (
	"context"
	"regexp"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/margin"
	bt "github.com/fwojciec/margin/bubbletea"
	"github.com/fwojciec/margin/chat"
	"github.com/fwojciec/margin/mock"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

func stripANSI(s string) string { return ansi.ReplaceAllString(s, "") }

type sessionFunc func() margin.Session

func (f sessionFunc) Session() margin.Session { return f() }

func subscriber() sessionFunc {
	return func() margin.Session {
		return margin.Session{
			State: margin.SessionAuthenticated,
			Identity: &margin.Identity{
				ID: "1", Email: "reader@example.com", Entitlement: margin.EntitlementSubscriber,
			},
		}
	}
}

func replying(chunks ...string) *mock.ChatService {
	return &mock.ChatService{
		ChatFn: func(context.Context, margin.ChatRequest) (margin.ChunkStream, error) {
			bs := make([][]byte, len(chunks))
			for i, c := range chunks {
				bs[i] = []byte(c)
			}
			return mock.Chunks(bs...), nil
		},
	}
}

// initModel creates a model over conv and sends a WindowSizeMsg to
// initialize the viewport.
func initModel(t *testing.T, conv *chat.Conversation, sessions bt.SessionSource) bt.Model {
	t.Helper()
	m := bt.New(conv, sessions, margin.DefaultTheme())
	t.Cleanup(m.Close)
	return updateModel(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
}

// updateModel sends a message and returns the updated Model.
func updateModel(t *testing.T, m bt.Model, msg tea.Msg) bt.Model {
	t.Helper()
	updated, _ := m.Update(msg)
	model, ok := updated.(bt.Model)
	require.True(t, ok)
	return model
}

// submit types text, presses Enter and runs the resulting exchange to
// completion, delivering its result to the model.
func submit(t *testing.T, m bt.Model, text string) bt.Model {
	t.Helper()
	m.Input.SetValue(text)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(bt.Model)
	require.NotNil(t, cmd)
	require.True(t, m.Sending())
	done, ok := cmd().(bt.SendDoneMsg)
	require.True(t, ok)
	return updateModel(t, m, done)
}
