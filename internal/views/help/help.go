// Package help renders the key reference overlay from markdown.
package help

import (
	"fmt"
	"strings"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/theme"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const minWidth = 40

// Markdown builds the help document for the given bindings. delay is the
// reconnect delay of the event stream.
func Markdown(bindings []key.Binding, delay time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, `# NodePanel

Live view of a NodePass master API. After a failure the event stream waits
%s before reconnecting, until you switch endpoints or quit.

`, delay)
	b.WriteString("| Key | Action |\n|---|---|\n")
	for _, k := range bindings {
		h := k.Help()
		if h.Key == "" {
			continue
		}
		b.WriteString("| `" + h.Key + "` | " + h.Desc + " |\n")
	}
	return b.String()
}

// Model draws the help overlay. Glamour output depends only on the width, so
// the last rendering is reused until the width changes.
type Model struct {
	markdown string

	width    int
	rendered string
	renders  int
}

// New builds the overlay for bindings and the stream's reconnect delay.
func New(bindings []key.Binding, delay time.Duration) *Model {
	return &Model{markdown: Markdown(bindings, delay)}
}

// View draws the overlay at width. If glamour fails the raw markdown is
// shown instead.
func (m *Model) View(width int) string {
	if width < minWidth {
		width = minWidth
	}
	if m.rendered == "" || m.width != width {
		m.width = width
		m.rendered = m.render(width)
		m.renders++
	}
	return m.rendered
}

func (m *Model) render(width int) string {
	out := m.markdown
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-6),
	)
	if err == nil {
		if rendered, err := r.Render(m.markdown); err == nil {
			out = strings.TrimSpace(rendered)
		}
	}
	return lipgloss.NewStyle().
		Width(width-2).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(out + "\n\n" + theme.StyleDimmed.Render("esc:close"))
}
