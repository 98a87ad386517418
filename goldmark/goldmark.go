// Package goldmark renders assistant replies, which arrive as markdown, to
// ANSI-styled terminal text. Parsing is done by goldmark and styling by
// lipgloss.
package goldmark

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/margin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const fallbackWidth = 80

// Renderer turns markdown into styled terminal output. It is safe for
// concurrent use; each call parses with a fresh parser.
type Renderer struct {
	strong    lipgloss.Style
	emphasis  lipgloss.Style
	heading   lipgloss.Style
	faint     lipgloss.Style
	link      lipgloss.Style
	quoteRule lipgloss.Style
}

// New creates a Renderer using theme's palette.
func New(theme margin.Theme) *Renderer {
	return &Renderer{
		strong:    lipgloss.NewStyle().Bold(true),
		emphasis:  lipgloss.NewStyle().Italic(true),
		heading:   lipgloss.NewStyle().Foreground(color(theme.Accent)).Bold(true),
		faint:     lipgloss.NewStyle().Foreground(color(theme.Muted)).Faint(true),
		link:      lipgloss.NewStyle().Underline(true),
		quoteRule: lipgloss.NewStyle().Foreground(color(theme.Accent)),
	}
}

func color(index int) lipgloss.TerminalColor {
	if index < 0 {
		return lipgloss.NoColor{}
	}
	return lipgloss.Color(strconv.Itoa(index))
}

// Render returns source as styled text wrapped to width. Code blocks keep
// their line structure.
func (r *Renderer) Render(source string, width int) string {
	if source == "" {
		return ""
	}
	if width <= 0 {
		width = fallbackWidth
	}
	src := []byte(source)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	r.blocks(doc, src, width, &buf)
	return strings.TrimRight(buf.String(), "\n")
}

// RenderPartial renders a reply that is still streaming in. An unterminated
// code fence is closed first so text after it is not reflowed as prose while
// the fence is open.
func (r *Renderer) RenderPartial(source string, width int) string {
	return r.Render(closeFence(source), width)
}

func closeFence(source string) string {
	open := false
	for _, line := range strings.Split(source, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " "), "```") {
			open = !open
		}
	}
	if !open {
		return source
	}
	if !strings.HasSuffix(source, "\n") {
		source += "\n"
	}
	return source + "```"
}

func (r *Renderer) blocks(parent ast.Node, src []byte, width int, buf *bytes.Buffer) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		r.block(n, src, width, buf)
		if n.NextSibling() != nil && n.Kind() != ast.KindHTMLBlock {
			buf.WriteString("\n")
		}
	}
}

func (r *Renderer) block(node ast.Node, src []byte, width int, buf *bytes.Buffer) {
	switch n := node.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		buf.WriteString(wrap(r.inlines(n, src), width))
		buf.WriteString("\n")

	case *ast.Heading:
		buf.WriteString(wrap(r.heading.Render(r.inlines(n, src)), width))
		buf.WriteString("\n")

	case *ast.FencedCodeBlock:
		if lang := n.Language(src); len(lang) > 0 {
			buf.WriteString(r.faint.Render(string(lang)))
			buf.WriteString("\n")
		}
		r.code(n, src, buf)

	case *ast.CodeBlock:
		r.code(n, src, buf)

	case *ast.Blockquote:
		var inner bytes.Buffer
		r.blocks(n, src, max(width-2, 10), &inner)
		rule := r.quoteRule.Render("▎") + " "
		for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
			buf.WriteString(rule + r.emphasis.Render(line) + "\n")
		}

	case *ast.List:
		r.list(n, src, width, buf, 0)

	case *ast.ThematicBreak:
		buf.WriteString(r.faint.Render(strings.Repeat("─", min(width, 40))))
		buf.WriteString("\n")

	case *ast.HTMLBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}

	default:
		r.blocks(node, src, width, buf)
	}
}

func (r *Renderer) code(n ast.Node, src []byte, buf *bytes.Buffer) {
	gutter := r.faint.Render("│") + " "
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.WriteString(gutter)
		buf.WriteString(strings.TrimRight(string(seg.Value(src)), "\n"))
		buf.WriteString("\n")
	}
}

func (r *Renderer) list(n *ast.List, src []byte, width int, buf *bytes.Buffer, depth int) {
	indent := strings.Repeat("  ", depth)
	num := n.Start
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		item, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		marker := "• "
		if n.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}

		var pending strings.Builder
		for ic := item.FirstChild(); ic != nil; ic = ic.NextSibling() {
			switch child := ic.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				pending.WriteString(r.inlines(child, src))
			case *ast.List:
				if pending.Len() > 0 {
					writeItem(buf, indent+marker, pending.String(), width)
					pending.Reset()
				}
				r.list(child, src, width, buf, depth+1)
				marker = strings.Repeat(" ", lipgloss.Width(marker))
			default:
				var nested bytes.Buffer
				r.block(ic, src, width, &nested)
				pending.WriteString(nested.String())
			}
		}
		if pending.Len() > 0 {
			writeItem(buf, indent+marker, pending.String(), width)
		}
	}
}

// writeItem writes a list item, indenting continuation lines under the
// first character after the marker.
func writeItem(buf *bytes.Buffer, prefix, content string, width int) {
	pad := lipgloss.Width(prefix)
	lines := strings.Split(wrap(content, max(width-pad, 10)), "\n")
	for i, line := range lines {
		if i == 0 {
			buf.WriteString(prefix)
		} else {
			buf.WriteString(strings.Repeat(" ", pad))
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
}

func wrap(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}

func (r *Renderer) inlines(parent ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		r.inline(c, src, &buf)
	}
	return buf.String()
}

func (r *Renderer) inline(node ast.Node, src []byte, buf *bytes.Buffer) {
	switch n := node.(type) {
	case *ast.Text:
		buf.Write(n.Segment.Value(src))
		switch {
		case n.HardLineBreak():
			buf.WriteByte('\n')
		case n.SoftLineBreak():
			buf.WriteByte(' ')
		}

	case *ast.String:
		buf.Write(n.Value)

	case *ast.Emphasis:
		// Level 2 is strong; ***x*** parses as nested emphasis.
		if n.Level == 1 {
			buf.WriteString(r.emphasis.Render(r.inlines(n, src)))
		} else {
			buf.WriteString(r.strong.Render(r.inlines(n, src)))
		}

	case *ast.CodeSpan:
		buf.WriteString(r.strong.Render(r.inlines(n, src)))

	case *ast.Link:
		buf.WriteString(r.link.Render(r.inlines(n, src)))
		buf.WriteString(" " + r.faint.Render("("+string(n.Destination)+")"))

	case *ast.AutoLink:
		buf.WriteString(r.link.Render(string(n.URL(src))))

	case *ast.Image:
		buf.WriteString(r.link.Render(r.inlines(n, src)))
		buf.WriteString(" " + r.faint.Render("("+string(n.Destination)+")"))

	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			buf.Write(seg.Value(src))
		}

	default:
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			r.inline(c, src, buf)
		}
	}
}
