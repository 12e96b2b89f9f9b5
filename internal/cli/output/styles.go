package output

import "github.com/charmbracelet/lipgloss"

// Styles are the lipgloss styles used by the CLI.
type Styles struct {
	Header1   lipgloss.Style
	Header2   lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	ModelPath lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Fatal     lipgloss.Style
}

// NewStyles builds styles for the given lipgloss renderer. A renderer with
// the Ascii profile yields plain text.
func NewStyles(lr *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1:   lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2:   lr.NewStyle().Bold(true),
		Bold:      lr.NewStyle().Bold(true),
		Muted:     lr.NewStyle().Foreground(lipgloss.Color("8")),
		ModelPath: lr.NewStyle().Foreground(lipgloss.Color("14")),
		Success:   lr.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:   lr.NewStyle().Foreground(lipgloss.Color("11")),
		Error:     lr.NewStyle().Foreground(lipgloss.Color("9")),
		Fatal:     lr.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}
