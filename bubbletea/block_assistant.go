package bubbletea

import (
	"strings"

	"github.com/fwojciec/margin"
	"github.com/fwojciec/margin/goldmark"
)

var _ MessageBlock = (*AssistantBlock)(nil)

// AssistantBlock renders a reply as markdown while it streams in. Text up to
// the last paragraph break outside a code fence is rendered once per width
// and cached; only the tail is re-rendered as fragments arrive.
type AssistantBlock struct {
	renderer *goldmark.Renderer
	styles   Styles

	text        string
	complete    bool
	interrupted bool

	stable        string
	stableByWidth map[int]string
}

// NewAssistantBlock creates an empty AssistantBlock.
func NewAssistantBlock(r *goldmark.Renderer, s Styles) *AssistantBlock {
	return &AssistantBlock{renderer: r, styles: s, stableByWidth: make(map[int]string)}
}

func (b *AssistantBlock) Set(msg margin.Message) {
	b.text = msg.Text
	b.complete = msg.Complete
	b.interrupted = msg.Interrupted
	b.promote()
}

func (b *AssistantBlock) View(width int) string {
	var out string
	switch {
	case b.text == "" && !b.complete:
		out = b.styles.Muted.Render("…")
	default:
		out = b.join(b.renderStable(width), b.renderTail(width))
	}
	if b.interrupted {
		out = strings.TrimRight(out, "\n") + "\n" + b.styles.Error.Render("[reply interrupted]")
	}
	return out
}

func (b *AssistantBlock) join(stable, tail string) string {
	switch {
	case tail == "":
		return stable
	case stable == "":
		return tail
	default:
		return strings.TrimRight(stable, "\n") + "\n\n" + strings.TrimLeft(tail, "\n")
	}
}

// promote moves the stable prefix forward to the last "\n\n" that is not
// inside an open fence.
func (b *AssistantBlock) promote() {
	for end := len(b.text); ; {
		idx := strings.LastIndex(b.text[:end], "\n\n")
		if idx <= 0 {
			return
		}
		if candidate := b.text[:idx]; !hasUnclosedFence(candidate) {
			if candidate != b.stable {
				b.stable = candidate
				clear(b.stableByWidth)
			}
			return
		}
		end = idx
	}
}

func (b *AssistantBlock) renderStable(width int) string {
	if width <= 0 || b.stable == "" {
		return ""
	}
	if cached, ok := b.stableByWidth[width]; ok {
		return cached
	}
	out := b.renderer.Render(b.stable, width)
	b.stableByWidth[width] = out
	return out
}

func (b *AssistantBlock) renderTail(width int) string {
	tail := b.text
	if b.stable != "" {
		tail = strings.TrimPrefix(tail, b.stable+"\n\n")
	}
	if strings.TrimSpace(tail) == "" {
		return ""
	}
	if b.complete {
		return b.renderer.Render(tail, width)
	}
	return b.renderer.RenderPartial(tail, width)
}
