package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/shepherd/internal/activity"
)

// ActivityPanel shows the tail of one process's activity log.
type ActivityPanel struct {
	processID string
	entries   []activity.Entry
	width     int
	height    int

	titleStyle lipgloss.Style
	timeStyle  lipgloss.Style
	typeStyles map[activity.Type]lipgloss.Style
	dimStyle   lipgloss.Style
}

// NewActivityPanel creates a new ActivityPanel.
func NewActivityPanel() *ActivityPanel {
	return &ActivityPanel{
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),
		timeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		dimStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		typeStyles: map[activity.Type]lipgloss.Style{
			activity.TypeStarted:   lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
			activity.TypeTool:      lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
			activity.TypeRateLimit: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			activity.TypeTerminal:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
			activity.TypeError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			activity.TypeSignal:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		},
	}
}

// SetEntries shows entries for processID.
func (p *ActivityPanel) SetEntries(processID string, entries []activity.Entry) {
	p.processID = processID
	p.entries = entries
}

// SetSize updates the panel dimensions.
func (p *ActivityPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// View renders the newest entries that fit, oldest first.
func (p *ActivityPanel) View() string {
	var b strings.Builder
	title := "Activity"
	if p.processID != "" {
		title = "Activity: " + shortID(p.processID)
	}
	b.WriteString(p.titleStyle.Render(title))

	if len(p.entries) == 0 {
		b.WriteString("\n" + p.dimStyle.Render("  Select a process to see its activity"))
	}
	rows := max(p.height-3, 1)
	start := max(len(p.entries)-rows, 0)
	for _, e := range p.entries[start:] {
		style, ok := p.typeStyles[e.Type]
		if !ok {
			style = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		}
		msg := strings.ReplaceAll(e.Message, "\n", " ")
		line := fmt.Sprintf("%s %s %s",
			p.timeStyle.Render(e.Timestamp.Local().Format("15:04:05")),
			style.Render(fmt.Sprintf("%-10s", e.Type)),
			truncate(msg, p.width-25))
		b.WriteString("\n" + line)
	}
	return bordered(b.String(), p.width, p.height, false)
}
