package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Header renders the title bar: spinner, status counts and global signals.
type Header struct {
	width int

	titleStyle  lipgloss.Style
	countStyle  lipgloss.Style
	pausedStyle lipgloss.Style
	stopStyle   lipgloss.Style
	errStyle    lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{
		width: 80,
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4")),
		countStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),
		pausedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("214")).
			Padding(0, 1),
		stopStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("196")).
			Padding(0, 1),
		errStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// View renders the header. snap may be nil before the first poll.
func (h *Header) View(spin spinner.Model, snap *Snapshot, err error) string {
	left := h.titleStyle.Render("shepherd")
	if snap != nil && liveProcesses(snap.Processes) > 0 {
		left = spin.View() + " " + left
	} else {
		left = "  " + left
	}

	var parts []string
	if snap != nil {
		for _, st := range models.AllTaskStatuses {
			if n := snap.Counts[st]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", st, n))
			}
		}
		if snap.GlobalSignal(signals.Stop) {
			parts = append(parts, h.stopStyle.Render("STOP"))
		} else if snap.GlobalSignal(signals.Pause) {
			parts = append(parts, h.pausedStyle.Render("PAUSED"))
		}
	}
	line := left + "  " + h.countStyle.Render(strings.Join(parts, " · "))

	second := ""
	switch {
	case err != nil:
		second = h.errStyle.Render("refresh failed: " + err.Error())
	case snap != nil:
		second = h.countStyle.Render("updated " + snap.TakenAt.Format("15:04:05"))
	}
	return lipgloss.NewStyle().Width(h.width).Render(line + "\n" + second)
}

func liveProcesses(procs []*models.Process) int {
	n := 0
	for _, p := range procs {
		if p.Status.Alive() {
			n++
		}
	}
	return n
}
