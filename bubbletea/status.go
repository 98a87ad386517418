package bubbletea

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/margin"
	"github.com/mattn/go-runewidth"
)

func (m Model) statusLine(width int) string {
	var badge string
	session := m.sessions.Session()
	if session.State == margin.SessionDemoActive {
		badge = m.styles.Demo.Render(" DEMO ") + " "
	}
	who, notice := identityText(session)

	var hint string
	style := m.styles.Muted
	switch {
	case m.status.State == margin.StreamStateFailed && m.status.Err != nil:
		hint = describe(m.status.Err) + " · Enter to continue"
		style = m.styles.Error
	case m.err != nil:
		hint = describe(m.err)
		style = m.styles.Error
	case m.status.State == margin.StreamStateSending:
		hint = "Sending..."
	case m.status.State == margin.StreamStateStreaming:
		hint = "Receiving... Ctrl+C to stop"
	default:
		hint = "Enter to send, Ctrl+C to quit"
	}

	text := hint
	if notice != "" {
		text = notice + " · " + text
	}
	if who != "" {
		text = who + " · " + text
	}
	if width > 0 {
		text = runewidth.Truncate(text, max(width-lipgloss.Width(badge), 0), "…")
	}
	return badge + style.Render(text)
}

func identityText(s margin.Session) (who, notice string) {
	if s.Identity == nil {
		return "", ""
	}
	who = s.Identity.Email
	if !s.Identity.Demo && !s.Identity.Subscribed() {
		notice = "free plan: subscribe to unlock chat"
	}
	return who, notice
}

// describe turns an exchange error into a short user-facing sentence.
func describe(err error) string {
	var rejected *margin.RequestRejectedError
	switch {
	case errors.As(err, &rejected):
		switch rejected.Status {
		case http.StatusUnauthorized:
			return fmt.Sprintf("Session expired, sign in again (HTTP %d)", rejected.Status)
		case http.StatusPaymentRequired, http.StatusForbidden:
			return fmt.Sprintf("Chat needs a subscription (HTTP %d)", rejected.Status)
		default:
			return fmt.Sprintf("Server rejected the question (HTTP %d)", rejected.Status)
		}
	case errors.Is(err, margin.ErrUnauthorized):
		return "Not signed in: run 'margin login' or 'margin demo'"
	case errors.Is(err, margin.ErrCancelled):
		return "Stopped"
	case errors.Is(err, margin.ErrStreamInterrupted):
		return "Reply interrupted"
	case errors.Is(err, margin.ErrNetwork):
		return "Network error"
	default:
		return err.Error()
	}
}
