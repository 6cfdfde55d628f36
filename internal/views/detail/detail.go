// Package detail renders the instance info flyout overlay.
package detail

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/NodePassProject/nodepass-panel/internal/stream"
	"github.com/NodePassProject/nodepass-panel/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

const (
	panelWidth = 64
	barWidth   = 20
	labelWidth = 14
	maxHistory = 6
)

var (
	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.ColorBorder).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed).
			Width(labelWidth)

	styleValue = lipgloss.NewStyle().
			Foreground(theme.ColorBright)

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBright)

	styleFooter = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed)

	styleSectionHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorDimmed)

	styleError = lipgloss.NewStyle().
			Foreground(theme.ColorDanger)
)

// Model holds the state for the detail overlay.
type Model struct {
	Instance    *client.Instance
	History     []stream.Event // lifecycle events for this instance, newest first
	ActionError string
}

// New creates a detail model for inst, picking its history out of events.
func New(inst client.Instance, events []stream.Event) Model {
	m := Model{Instance: &inst}
	for _, e := range events {
		if got, ok := e.Instance(); ok && got.ID == inst.ID {
			m.History = append(m.History, e)
			if len(m.History) == maxHistory {
				break
			}
		}
	}
	return m
}

// View renders the detail panel. Returns an empty string if no instance is set.
func (m Model) View() string {
	if m.Instance == nil {
		return ""
	}
	return stylePanel.Width(panelWidth).Render(m.renderInner(*m.Instance))
}

func (m Model) renderInner(inst client.Instance) string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("Instance: "+inst.ID) + "\n")
	b.WriteString(strings.Repeat("─", panelWidth-4) + "\n")

	writeRow(&b, "Type", theme.TypeBadge(string(inst.Type))+" "+string(inst.Type))
	writeRow(&b, "Status", lipgloss.NewStyle().Foreground(theme.StatusColor(string(inst.Status))).Render(string(inst.Status)))

	// Tunnel URL, e.g. server://:10101/127.0.0.1:8080?log=debug&tls=1
	if u, err := url.Parse(inst.URL); err == nil && u.Scheme != "" {
		writeRow(&b, "Tunnel", u.Host)
		writeRow(&b, "Target", strings.TrimPrefix(u.Path, "/"))
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeRow(&b, strings.ToUpper(k[:1])+k[1:], q.Get(k))
		}
	} else if inst.URL != "" {
		writeRow(&b, "URL", truncate(inst.URL, 44))
	}

	b.WriteString("\n")

	total := inst.TotalBytes()
	writeRow(&b, "TCP RX", renderTraffic(inst.TCPRX, total, theme.ColorTCP))
	writeRow(&b, "TCP TX", renderTraffic(inst.TCPTX, total, theme.ColorTCP))
	writeRow(&b, "UDP RX", renderTraffic(inst.UDPRX, total, theme.ColorUDP))
	writeRow(&b, "UDP TX", renderTraffic(inst.UDPTX, total, theme.ColorUDP))
	writeRow(&b, "Total", client.FormatBytes(total))

	if len(m.History) > 0 {
		b.WriteString("\n")
		b.WriteString(styleSectionHeader.Render(fmt.Sprintf("Recent events (%d)", len(m.History))) + "\n")
		for _, e := range m.History {
			got, _ := e.Instance()
			b.WriteString(fmt.Sprintf("  %s %-8s %s\n",
				theme.StyleDimmed.Render(formatAge(e.Time)),
				string(e.Kind),
				lipgloss.NewStyle().Foreground(theme.StatusColor(string(got.Status))).Render(string(got.Status)),
			))
		}
	}

	if m.ActionError != "" {
		b.WriteString("\n")
		b.WriteString(styleError.Render("Action failed: "+m.ActionError) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(styleFooter.Render("[s] start  [x] stop  [r] restart  [D] delete  [esc] close"))

	return b.String()
}

func renderTraffic(n, total uint64, color lipgloss.Color) string {
	pct := 0.0
	if total > 0 {
		pct = float64(n) / float64(total)
	}
	return renderBar(pct, barWidth, color) + " " + client.FormatBytes(n)
}

func writeRow(b *strings.Builder, label, value string) {
	b.WriteString(styleLabel.Render(label+":") + styleValue.Render(value) + "\n")
}

func renderBar(pct float64, width int, color lipgloss.Color) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	filled := int(pct * float64(width))
	empty := width - filled
	bar := strings.Repeat("█", filled) + strings.Repeat("░", empty)
	return lipgloss.NewStyle().Foreground(color).Render(bar)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds ago", int(d.Minutes()), int(d.Seconds())%60)
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm ago", h, m)
	}
}
