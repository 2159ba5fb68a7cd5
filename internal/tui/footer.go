package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Footer renders the last action result and keyboard hints.
type Footer struct {
	message string
	success bool
	width   int

	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	hintStyle    lipgloss.Style
}

// NewFooter creates a new Footer.
func NewFooter() *Footer {
	return &Footer{
		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetMessage sets the status message.
func (f *Footer) SetMessage(message string, success bool) {
	f.message = message
	f.success = success
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// View renders the footer.
func (f *Footer) View() string {
	hints := f.hintStyle.Render(strings.Join([]string{
		"tab focus", "↑/↓ select", "p/r/s pause·resume·stop selected", "P/R/S all loops", "q quit",
	}, " │ "))

	left := ""
	if f.message != "" {
		if f.success {
			left = f.successStyle.Render("✓ " + f.message)
		} else {
			left = f.errorStyle.Render("✗ " + f.message)
		}
	}
	gap := max(f.width-lipgloss.Width(left)-lipgloss.Width(hints), 1)
	return left + strings.Repeat(" ", gap) + hints
}
