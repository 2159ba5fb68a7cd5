package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

// ProcessesPanel lists tracked processes, newest first.
type ProcessesPanel struct {
	procs   []*models.Process
	markers map[string][]signals.Kind
	cur     cursor
	width   int
	focused bool
	now     func() time.Time

	titleStyle    lipgloss.Style
	selectedStyle lipgloss.Style
	runningStyle  lipgloss.Style
	inputStyle    lipgloss.Style
	stoppedStyle  lipgloss.Style
	failedStyle   lipgloss.Style
	dimStyle      lipgloss.Style
}

// NewProcessesPanel creates a new ProcessesPanel.
func NewProcessesPanel() *ProcessesPanel {
	return &ProcessesPanel{
		markers: map[string][]signals.Kind{},
		now:     time.Now,
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),
		runningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		inputStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		stoppedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		failedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		dimStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// SetProcesses replaces the listed processes and their per-process markers.
func (p *ProcessesPanel) SetProcesses(procs []*models.Process, markers []signals.Marker) {
	p.procs = procs
	p.markers = map[string][]signals.Kind{}
	for _, m := range markers {
		if m.ProcessID != "" {
			p.markers[m.ProcessID] = append(p.markers[m.ProcessID], m.Kind)
		}
	}
	p.cur.move(0, len(procs))
}

// SetSize updates the panel dimensions.
func (p *ProcessesPanel) SetSize(width, height int) {
	p.width = width
	p.cur.height = height
}

// SetFocused sets whether the panel has keyboard focus.
func (p *ProcessesPanel) SetFocused(focused bool) {
	p.focused = focused
}

// Selected returns the selected process, or nil.
func (p *ProcessesPanel) Selected() *models.Process {
	if p.cur.selected < len(p.procs) {
		return p.procs[p.cur.selected]
	}
	return nil
}

// Update handles navigation keys while focused.
func (p *ProcessesPanel) Update(msg tea.Msg) {
	if key, ok := msg.(tea.KeyMsg); ok && p.focused {
		switch key.String() {
		case "up", "k":
			p.cur.move(-1, len(p.procs))
		case "down", "j":
			p.cur.move(1, len(p.procs))
		}
	}
}

// View renders the panel.
func (p *ProcessesPanel) View() string {
	var b strings.Builder
	title := fmt.Sprintf("Processes (%d live)", liveProcesses(p.procs))
	if p.focused {
		title = "[" + title + "]"
	}
	b.WriteString(p.titleStyle.Render(title))

	if len(p.procs) == 0 {
		b.WriteString("\n" + p.dimStyle.Render("  No processes"))
	}
	start, end := p.cur.window(len(p.procs))
	for i := start; i < end; i++ {
		b.WriteString("\n" + p.renderLine(p.procs[i], i == p.cur.selected && p.focused))
	}
	return bordered(b.String(), p.width, p.cur.height, p.focused)
}

func (p *ProcessesPanel) renderLine(proc *models.Process, selected bool) string {
	style := p.stoppedStyle
	switch {
	case proc.Status == models.ProcessStatusNeedsInput:
		style = p.inputStyle
	case proc.Status.Alive():
		style = p.runningStyle
	case proc.Error != "":
		style = p.failedStyle
	}

	task := "-"
	if proc.TaskID != "" {
		task = shortID(proc.TaskID)
	}
	detail := ""
	switch {
	case proc.Status.Alive() && proc.Heartbeat != nil:
		detail = fmt.Sprintf("%s (%s ago)", proc.Heartbeat.Status, age(p.now(), proc.Heartbeat.At))
	case proc.Status.Alive():
		detail = fmt.Sprintf("started %s ago", age(p.now(), proc.StartedAt))
	case proc.Error != "":
		detail = proc.Error
	}
	for _, kind := range p.markers[proc.ID] {
		detail = "[" + string(kind) + "] " + detail
	}

	line := fmt.Sprintf("%s %-9s %-11s task %s %s", proc.ShortID(), proc.Type, proc.Status, task, detail)
	line = truncate(line, p.width-4)
	if selected {
		return p.selectedStyle.Render(line)
	}
	return style.Render(line)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// age renders an elapsed duration compactly.
func age(now, since time.Time) string {
	d := now.Sub(since)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
