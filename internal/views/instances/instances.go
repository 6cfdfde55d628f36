// Package instances provides the traffic summary row and instance table
// for the NodePanel TUI.
package instances

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/NodePassProject/nodepass-panel/internal/theme"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
)

// FrameRate is how often Animate is expected to be called.
const FrameRate = 10

// Model holds the instance table state.
type Model struct {
	Width    int
	Selected int

	instances []client.Instance

	// Throughput gauge. The shown rate follows the sampled rate on a spring
	// so the bar does not jump between samples.
	spring   harmonica.Spring
	rate     float64
	shown    float64
	velocity float64
	peak     float64
}

// New creates an instance table.
func New() Model {
	return Model{
		spring: harmonica.NewSpring(harmonica.FPS(FrameRate), 4.0, 1.0),
	}
}

// SetInstances updates the instance list. The table sorts its own copy
// (servers first, then by id) so callers need not pre-sort.
func (m *Model) SetInstances(byID map[string]client.Instance) {
	selectedID := ""
	if inst, ok := m.Current(); ok {
		selectedID = inst.ID
	}

	m.instances = make([]client.Instance, 0, len(byID))
	for _, inst := range byID {
		m.instances = append(m.instances, inst)
	}
	sort.Slice(m.instances, func(i, j int) bool {
		a, b := m.instances[i], m.instances[j]
		if a.Type != b.Type {
			return a.Type == client.TypeServer
		}
		return a.ID < b.ID
	})

	// Keep the cursor on the same instance across updates.
	for i, inst := range m.instances {
		if inst.ID == selectedID {
			m.Selected = i
			return
		}
	}
	if m.Selected >= len(m.instances) {
		m.Selected = max(0, len(m.instances)-1)
	}
}

// Instances returns the sorted instance list.
func (m Model) Instances() []client.Instance {
	return m.instances
}

// Current returns the selected instance.
func (m Model) Current() (client.Instance, bool) {
	if m.Selected < 0 || m.Selected >= len(m.instances) {
		return client.Instance{}, false
	}
	return m.instances[m.Selected], true
}

// Next moves the cursor down, wrapping around.
func (m *Model) Next() {
	if n := len(m.instances); n > 0 {
		m.Selected = (m.Selected + 1) % n
	}
}

// Prev moves the cursor up, wrapping around.
func (m *Model) Prev() {
	if n := len(m.instances); n > 0 {
		m.Selected = (m.Selected - 1 + n) % n
	}
}

// SetRate records a new throughput sample in bytes per second.
func (m *Model) SetRate(bytesPerSec float64) {
	m.rate = bytesPerSec
	if bytesPerSec > m.peak {
		m.peak = bytesPerSec
	}
}

// Animate advances the gauge spring by one frame.
func (m *Model) Animate() {
	m.shown, m.velocity = m.spring.Update(m.shown, m.velocity, m.rate)
	if m.shown < 0 {
		m.shown = 0
	}
}

// Settled reports whether the gauge has caught up with the last sample.
func (m Model) Settled() bool {
	return math.Abs(m.shown-m.rate) < 1 && math.Abs(m.velocity) < 1
}

// Shown returns the currently displayed rate.
func (m Model) Shown() float64 {
	return m.shown
}

// View renders the summary row and the instance table.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsRow(width),
		m.renderTable(width),
	)
}

func (m Model) renderStatsRow(width int) string {
	var running, stopped, failed int
	for _, inst := range m.instances {
		switch inst.Status {
		case client.StatusRunning:
			running++
		case client.StatusStopped:
			stopped++
		case client.StatusError:
			failed++
		}
	}
	traffic := client.SumTraffic(m.instances)

	statStyle := lipgloss.NewStyle().Padding(0, 1)
	stats := []string{
		statStyle.Foreground(theme.ColorRunning).Render(fmt.Sprintf("Running: %d", running)),
		statStyle.Foreground(theme.ColorStopped).Render(fmt.Sprintf("Stopped: %d", stopped)),
		statStyle.Foreground(theme.ColorFailed).Render(fmt.Sprintf("Error: %d", failed)),
		statStyle.Foreground(theme.ColorTCP).Render(fmt.Sprintf("TCP ↓%s ↑%s",
			client.FormatBytes(traffic.TCPRX), client.FormatBytes(traffic.TCPTX))),
		statStyle.Foreground(theme.ColorUDP).Render(fmt.Sprintf("UDP ↓%s ↑%s",
			client.FormatBytes(traffic.UDPRX), client.FormatBytes(traffic.UDPTX))),
		statStyle.Render(renderGauge(m.shown, m.peak, 12)),
	}

	content := strings.Join(stats, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | "))
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) renderTable(width int) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBright).
		Render("  Instances")

	if len(m.instances) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			theme.StyleDimmed.Render("  No instances"),
		)
	}

	colType := 4
	colID := 10
	colStatus := 9
	colShare := 16
	colBytes := 10
	colURL := width - (colType + colID + colStatus + colShare + 4*colBytes + 12)
	if colURL < 16 {
		colURL = 16
	}

	dimStyle := lipgloss.NewStyle().Foreground(theme.ColorDimmed)
	brightStyle := lipgloss.NewStyle().Foreground(theme.ColorBright)

	tableHeader := fmt.Sprintf("  %-*s %-*s %-*s %-*s %*s %*s %*s %*s %-*s",
		colType, "",
		colID, "ID",
		colStatus, "Status",
		colShare, "Share",
		colBytes, "TCP RX",
		colBytes, "TCP TX",
		colBytes, "UDP RX",
		colBytes, "UDP TX",
		colURL, "URL",
	)
	lines := []string{
		header,
		dimStyle.Render(tableHeader),
		dimStyle.Render("  " + strings.Repeat("─", max(0, min(width-4, lipgloss.Width(tableHeader)-2)))),
	}

	total := client.SumTraffic(m.instances).Total()
	for i, inst := range m.instances {
		cursor := "  "
		idStyle := brightStyle
		if i == m.Selected {
			cursor = "> "
			idStyle = theme.StyleSelected.Underline(true)
		}

		typeStr := lipgloss.NewStyle().Width(colType).Render(theme.TypeBadge(string(inst.Type)))
		idStr := idStyle.Width(colID).Render(truncate(inst.ID, colID-1))
		statusStr := lipgloss.NewStyle().Foreground(theme.StatusColor(string(inst.Status))).
			Width(colStatus).Render(string(inst.Status))
		shareStr := lipgloss.NewStyle().Width(colShare).Render(renderShare(inst.TotalBytes(), total, colShare-1))

		bytes := func(n uint64) string {
			return brightStyle.Width(colBytes).Align(lipgloss.Right).Render(client.FormatBytes(n))
		}
		urlStr := dimStyle.Width(colURL).Render(truncate(inst.URL, colURL-1))

		line := fmt.Sprintf("%s%s %s %s %s %s %s %s %s %s",
			cursor, typeStr, idStr, statusStr, shareStr,
			bytes(inst.TCPRX), bytes(inst.TCPTX), bytes(inst.UDPRX), bytes(inst.UDPTX), urlStr)
		lines = append(lines, line)
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderShare draws a bar for one instance's share of all traffic.
func renderShare(n, total uint64, barWidth int) string {
	if barWidth < 8 {
		barWidth = 8
	}
	labelWidth := 5
	fillWidth := max(3, barWidth-labelWidth)

	pct := 0.0
	if total > 0 {
		pct = float64(n) / float64(total)
	}
	filled := max(0, min(int(pct*float64(fillWidth)), fillWidth))

	bar := lipgloss.NewStyle().Foreground(theme.ColorTCP).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", fillWidth-filled))
	return bar + theme.StyleDimmed.Render(fmt.Sprintf(" %3.0f%%", pct*100))
}

// renderGauge draws the smoothed throughput relative to the highest rate seen.
func renderGauge(rate, peak float64, width int) string {
	filled := 0
	if peak > 0 {
		filled = max(0, min(int(math.Round(rate/peak*float64(width))), width))
	}
	color := theme.ColorHealthy
	if filled > width*3/4 {
		color = theme.ColorWarning
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("▮", filled))
	bar += lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("▯", width-filled))
	return bar + " " + client.FormatBytes(uint64(rate)) + "/s"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
