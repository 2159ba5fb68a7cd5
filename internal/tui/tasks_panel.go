package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Status icons.
const (
	iconTodo       = "○"
	iconActive     = "●"
	iconNeedsInput = "?"
	iconAnalysed   = "◆"
)

// cursor tracks the selected row of a scrollable list.
type cursor struct {
	selected     int
	scrollOffset int
	height       int
}

// move shifts the selection by delta within n rows and keeps it visible.
// Panels render a title line and two border lines around the rows.
func (c *cursor) move(delta, n int) {
	c.selected = min(max(c.selected+delta, 0), max(n-1, 0))
	rows := max(c.height-3, 1)
	if c.selected < c.scrollOffset {
		c.scrollOffset = c.selected
	} else if c.selected >= c.scrollOffset+rows {
		c.scrollOffset = c.selected - rows + 1
	}
}

// window returns the visible row range of n rows.
func (c *cursor) window(n int) (int, int) {
	rows := max(c.height-3, 1)
	start := min(c.scrollOffset, max(n-rows, 0))
	return start, min(start+rows, n)
}

// TasksPanel lists live tasks in retrieval order.
type TasksPanel struct {
	tasks   []*models.Task
	cur     cursor
	width   int
	focused bool

	titleStyle    lipgloss.Style
	selectedStyle lipgloss.Style
	normalStyle   lipgloss.Style
	todoStyle     lipgloss.Style
	activeStyle   lipgloss.Style
	inputStyle    lipgloss.Style
	readyStyle    lipgloss.Style
	dimStyle      lipgloss.Style
}

// NewTasksPanel creates a new TasksPanel.
func NewTasksPanel() *TasksPanel {
	return &TasksPanel{
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),
		normalStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		todoStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		activeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		inputStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		readyStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		dimStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// SetTasks replaces the listed tasks, keeping the selection in range.
func (p *TasksPanel) SetTasks(tasks []*models.Task) {
	p.tasks = tasks
	p.cur.move(0, len(tasks))
}

// SetSize updates the panel dimensions.
func (p *TasksPanel) SetSize(width, height int) {
	p.width = width
	p.cur.height = height
}

// SetFocused sets whether the panel has keyboard focus.
func (p *TasksPanel) SetFocused(focused bool) {
	p.focused = focused
}

// Selected returns the selected task, or nil.
func (p *TasksPanel) Selected() *models.Task {
	if p.cur.selected < len(p.tasks) {
		return p.tasks[p.cur.selected]
	}
	return nil
}

// Update handles navigation keys while focused.
func (p *TasksPanel) Update(msg tea.Msg) {
	if key, ok := msg.(tea.KeyMsg); ok && p.focused {
		switch key.String() {
		case "up", "k":
			p.cur.move(-1, len(p.tasks))
		case "down", "j":
			p.cur.move(1, len(p.tasks))
		}
	}
}

// View renders the panel.
func (p *TasksPanel) View() string {
	var b strings.Builder
	title := fmt.Sprintf("Tasks (%d live)", len(p.tasks))
	if p.focused {
		title = "[" + title + "]"
	}
	b.WriteString(p.titleStyle.Render(title))

	if len(p.tasks) == 0 {
		b.WriteString("\n" + p.dimStyle.Render("  No live tasks"))
	}
	start, end := p.cur.window(len(p.tasks))
	for i := start; i < end; i++ {
		b.WriteString("\n" + p.renderLine(p.tasks[i], i == p.cur.selected && p.focused))
	}
	return bordered(b.String(), p.width, p.cur.height, p.focused)
}

func (p *TasksPanel) renderLine(t *models.Task, selected bool) string {
	icon, style := p.statusIcon(t.Status)
	name := t.Name
	if t.PendingQuestion != nil {
		name += ": " + t.PendingQuestion.Question
	} else if t.SplitProposal != nil {
		name += fmt.Sprintf(": split into %d?", len(t.SplitProposal.SubTasks))
	}
	line := fmt.Sprintf("%s %s p%d %-11s %s", icon, t.ShortID(), t.Priority, t.Status, name)
	line = truncate(line, p.width-4)
	if selected {
		return p.selectedStyle.Render(line)
	}
	return style.Render(line)
}

func (p *TasksPanel) statusIcon(s models.TaskStatus) (string, lipgloss.Style) {
	switch s {
	case models.TaskStatusAnalysing, models.TaskStatusInProgress:
		return iconActive, p.activeStyle
	case models.TaskStatusNeedsInput:
		return iconNeedsInput, p.inputStyle
	case models.TaskStatusAnalysed:
		return iconAnalysed, p.readyStyle
	default:
		return iconTodo, p.todoStyle
	}
}

// bordered wraps content in the shared rounded panel border.
func bordered(content string, width, height int, focused bool) string {
	color := lipgloss.Color("240")
	if focused {
		color = lipgloss.Color("63")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Width(max(width-2, 1)).
		Height(max(height-2, 1)).
		MaxHeight(max(height, 3)).
		Render(content)
}

func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) > width-1 {
		r = r[:width-1]
	}
	return string(r) + "…"
}
