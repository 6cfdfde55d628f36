// Package eventlog renders the scrollable event stream panel.
package eventlog

import (
	"fmt"
	"strings"

	"github.com/NodePassProject/nodepass-panel/internal/stream"
	"github.com/NodePassProject/nodepass-panel/internal/theme"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Model holds the event panel state. Entries are newest first, as returned
// by stream.Session.Events.
type Model struct {
	Entries []stream.Event
	Offset  int // scroll offset from the newest entry
	Follow  bool
}

// New creates an empty event panel that follows new entries.
func New() Model {
	return Model{Follow: true}
}

// SetEntries replaces the snapshot. While following, the view snaps back to
// the newest entry; otherwise the offset is kept on the same event.
func (m *Model) SetEntries(entries []stream.Event) {
	grown := len(entries) - len(m.Entries)
	m.Entries = entries
	if m.Follow {
		m.Offset = 0
		return
	}
	if grown > 0 {
		m.Offset += grown
	}
	m.clamp()
}

// ScrollDown moves towards older entries.
func (m *Model) ScrollDown(n int) {
	m.Offset += n
	m.Follow = false
	m.clamp()
}

// ScrollUp moves towards newer entries. Reaching the top resumes following.
func (m *Model) ScrollUp(n int) {
	m.Offset -= n
	if m.Offset <= 0 {
		m.Offset = 0
		m.Follow = true
	}
}

func (m *Model) clamp() {
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders at most height lines, including the border.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 4
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render("Events") +
		theme.StyleDimmed.Render(fmt.Sprintf("  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
	}

	start := m.Offset
	end := start + visibleLines
	if end > len(m.Entries) {
		end = len(m.Entries)
	}

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		lines = append(lines, renderLine(e, innerW))
	}

	if m.Offset > 0 {
		title += theme.StyleDimmed.Render(fmt.Sprintf("  ↑ %d newer", m.Offset))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"))
	return panelStyle(innerW).Render(content)
}

func renderLine(e stream.Event, width int) string {
	ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
	kind := lipgloss.NewStyle().Foreground(kindColor(e)).Width(8).Render(string(e.Kind))

	lvl := ""
	if e.Level != stream.LevelNone {
		lvl = lipgloss.NewStyle().Foreground(theme.LevelColor(string(e.Level))).Render(string(e.Level)) + " "
	}

	// NodePass colours its own log lines; drop those escapes so our level
	// colour is the only one on screen.
	msg := ansi.Strip(e.String())
	msg = strings.ReplaceAll(msg, "\n", " ")
	room := width - 19 - lipgloss.Width(lvl)
	if room > 3 {
		msg = ansi.Truncate(msg, room, "...")
	}
	return fmt.Sprintf("%s %s %s%s", ts, kind, lvl, msg)
}

func kindColor(e stream.Event) lipgloss.Color {
	switch e.Kind {
	case stream.KindError:
		return theme.ColorError
	case stream.KindShutdown:
		return theme.ColorWarn
	case stream.KindLog:
		return theme.ColorDimmed
	}
	if inst, ok := e.Instance(); ok {
		return theme.StatusColor(string(inst.Status))
	}
	return theme.ColorDefault
}
