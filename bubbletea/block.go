package bubbletea

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/margin"
	"github.com/fwojciec/margin/goldmark"
)

// MessageBlock renders one message of the conversation. View takes a width
// so the root model controls layout and blocks are testable in isolation.
type MessageBlock interface {
	Set(msg margin.Message)
	View(width int) string
}

func newBlock(msg margin.Message, r *goldmark.Renderer, s Styles) MessageBlock {
	var b MessageBlock
	if msg.Author == margin.AuthorUser {
		b = &UserBlock{styles: s}
	} else {
		b = NewAssistantBlock(r, s)
	}
	b.Set(msg)
	return b
}

// ErrorBlock renders the failure that ended the last exchange.
type ErrorBlock struct {
	err    error
	styles Styles
}

// NewErrorBlock creates an ErrorBlock.
func NewErrorBlock(err error, styles Styles) *ErrorBlock {
	return &ErrorBlock{err: err, styles: styles}
}

func (b *ErrorBlock) View(width int) string {
	content := b.styles.Error.Render("✗ " + describe(b.err))
	return lipgloss.NewStyle().Width(width).Render(content)
}

// hasUnclosedFence reports an odd number of fence markers. Triple backticks
// inside inline code are miscounted, which only affects caching.
func hasUnclosedFence(s string) bool {
	return strings.Count(s, "```")%2 == 1
}
