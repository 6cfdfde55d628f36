// Package theme provides the Lip Gloss color palette and reusable styles
// for the NodePanel TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Connection state colors.
var (
	ColorIdle         = lipgloss.Color("#4b5563")
	ColorConnecting   = lipgloss.Color("#d97706")
	ColorConnected    = lipgloss.Color("#16a34a")
	ColorDisconnected = lipgloss.Color("#dc2626")
)

// Log level colors.
var (
	ColorDebug = lipgloss.Color("#6b7280")
	ColorInfo  = lipgloss.Color("#3b82f6")
	ColorWarn  = lipgloss.Color("#f59e0b")
	ColorError = lipgloss.Color("#ef4444")
	ColorFatal = lipgloss.Color("#a855f7")
)

// Instance colors.
var (
	ColorServer  = lipgloss.Color("#06b6d4")
	ColorClient  = lipgloss.Color("#a855f7")
	ColorRunning = lipgloss.Color("#22c55e")
	ColorStopped = lipgloss.Color("#9ca3af")
	ColorFailed  = lipgloss.Color("#dc2626")
	ColorTCP     = lipgloss.Color("#3b82f6")
	ColorUDP     = lipgloss.Color("#10b981")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorDefault = lipgloss.Color("#9ca3af")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connecting":
		return ColorConnecting
	case "connected":
		return ColorConnected
	case "disconnected":
		return ColorDisconnected
	default:
		return ColorIdle
	}
}

// StateGlyph returns a Unicode glyph for a session state name.
func StateGlyph(state string) string {
	switch state {
	case "connecting":
		return "◌"
	case "connected":
		return "●"
	case "disconnected":
		return "✗"
	default:
		return "○"
	}
}

// LevelColor returns the color for a log level. Unknown levels use the
// default color.
func LevelColor(level string) lipgloss.Color {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return ColorDebug
	case "INFO":
		return ColorInfo
	case "WARN":
		return ColorWarn
	case "ERROR":
		return ColorError
	case "FATAL":
		return ColorFatal
	default:
		return ColorDefault
	}
}

// StatusColor returns the color for an instance status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "running":
		return ColorRunning
	case "stopped":
		return ColorStopped
	case "error":
		return ColorFailed
	default:
		return ColorDefault
	}
}

// TypeBadge returns a colored badge for an instance type.
func TypeBadge(typ string) string {
	switch typ {
	case "server":
		return lipgloss.NewStyle().Foreground(ColorServer).Render("[S]")
	case "client":
		return lipgloss.NewStyle().Foreground(ColorClient).Render("[C]")
	default:
		return lipgloss.NewStyle().Foreground(ColorDefault).Render("[?]")
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
