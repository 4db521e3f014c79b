package status

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	guild     lipgloss.Style
	detail    lipgloss.Style
	live      lipgloss.Style
	idle      lipgloss.Style
	resumable lipgloss.Style
	section   lipgloss.Style
	empty     lipgloss.Style
	key       lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		guild:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		live:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		idle:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		resumable: lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
		section:   lipgloss.NewStyle().MarginTop(1),
		empty:     lipgloss.NewStyle().Faint(true),
		key:       lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	}
}
