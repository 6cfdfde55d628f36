package status

import (
	"fmt"

	"github.com/NodePassProject/nodepass-panel/internal/stream"
	"github.com/NodePassProject/nodepass-panel/internal/theme"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the status bar state.
type Model struct {
	Endpoint  string
	URL       string
	State     stream.State
	Retries   int
	Instances int
	Events    int
	Notice    string
	Width     int

	Spinner spinner.Model
}

// New creates a status bar model.
func New() Model {
	return Model{
		Spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	state := m.State.String()
	color := theme.StateColor(state)
	glyph := theme.StateGlyph(state)
	if m.State == stream.StateConnecting {
		glyph = m.Spinner.View()
	}
	label := state
	switch m.State {
	case stream.StateIdle:
		label = "Disabled"
	case stream.StateConnecting:
		label = "Connecting..."
	case stream.StateConnected:
		label = "Connected"
	case stream.StateDisconnected:
		label = fmt.Sprintf("Reconnecting (attempt %d)", m.Retries)
	}
	connStr := lipgloss.NewStyle().Foreground(color).Render(glyph + " " + label)

	endpoint := theme.StyleDimmed.Render("no endpoint")
	if m.Endpoint != "" {
		endpoint = theme.StyleHeader.Render(m.Endpoint) + " " + theme.StyleDimmed.Render(m.URL)
	}

	counts := fmt.Sprintf("%d instances  %d events", m.Instances, m.Events)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + endpoint + sep + counts
	if m.Notice != "" {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(m.Notice)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
