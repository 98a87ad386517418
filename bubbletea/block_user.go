package bubbletea

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/margin"
)

var _ MessageBlock = (*UserBlock)(nil)

// UserBlock renders a user question with a "> " prefix.
type UserBlock struct {
	text   string
	styles Styles
}

func (b *UserBlock) Set(msg margin.Message) { b.text = msg.Text }

func (b *UserBlock) View(width int) string {
	content := b.styles.UserMsg.Render("> ") + b.text
	return lipgloss.NewStyle().Width(width).Render(content)
}
