package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/samsaffron/aye/internal/mcp"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boldStyle  = lipgloss.NewStyle().Bold(true)
)

func statusText(s mcp.ConnectionStatus) string {
	switch s {
	case mcp.StatusConnected:
		return okStyle.Render(string(s))
	case mcp.StatusConnecting:
		return warnStyle.Render(string(s))
	case mcp.StatusError:
		return errStyle.Render(string(s))
	case "":
		return mutedStyle.Render("unknown")
	}
	return mutedStyle.Render(string(s))
}

func configuredText(ok bool) string {
	if ok {
		return okStyle.Render("configured")
	}
	return mutedStyle.Render("not configured")
}
