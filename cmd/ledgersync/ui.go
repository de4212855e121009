package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pocketledger/ledgersync/internal/syncstate"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#E65100", Dark: "#FFB74D"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"})
	labelStyle  = lipgloss.NewStyle().Width(14).Foreground(lipgloss.AdaptiveColor{Light: "#424242", Dark: "#BDBDBD"})
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

// renderRow renders one "label value" line of a panel.
func renderRow(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderPanel boxes rows under a title.
func renderPanel(title string, rows ...string) string {
	body := lipgloss.JoinVertical(lipgloss.Left, append([]string{renderAccent(title)}, rows...)...)
	return panelStyle.Render(body)
}

// renderHealth colors a health value the way a sync indicator would.
func renderHealth(h syncstate.Health) string {
	switch h {
	case syncstate.HealthSynced:
		return renderPass(string(h))
	case syncstate.HealthPending:
		return renderWarn(string(h))
	case syncstate.HealthConflict:
		return renderFail(string(h))
	default:
		return renderMuted(string(h))
	}
}

func renderStatus(s syncstate.Status) string {
	switch s {
	case syncstate.StatusError:
		return renderFail(string(s))
	case syncstate.StatusSyncing:
		return renderAccent(string(s))
	default:
		return string(s)
	}
}
