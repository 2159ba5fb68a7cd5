package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Focusable panels.
const (
	PanelTasks     = 0
	PanelProcesses = 1
)

type snapshotMsg struct {
	snap *Snapshot
	err  error
}

type tickMsg time.Time

type actionMsg struct {
	text string
	err  error
}

// App is the bubbletea model of the dashboard.
type App struct {
	source   Source
	controls Controls
	refresh  time.Duration
	ctx      context.Context

	header    *Header
	tasks     *TasksPanel
	processes *ProcessesPanel
	activity  *ActivityPanel
	footer    *Footer
	layout    *LayoutManager
	spinner   spinner.Model

	snap     *Snapshot
	err      error
	focused  int
	quitting bool
}

// New creates the dashboard. controls may be nil for a view-only dashboard.
func New(source Source, controls Controls, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))

	a := &App{
		source:    source,
		controls:  controls,
		refresh:   refresh,
		ctx:       context.Background(),
		header:    NewHeader(),
		tasks:     NewTasksPanel(),
		processes: NewProcessesPanel(),
		activity:  NewActivityPanel(),
		footer:    NewFooter(),
		layout:    NewLayoutManager(100, 30),
		spinner:   sp,
		focused:   PanelProcesses,
	}
	a.updateFocus()
	a.resize(100, 30)
	return a
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.poll())
}

func (a *App) poll() tea.Cmd {
	return func() tea.Msg {
		snap, err := a.source.Snapshot(a.ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (a *App) scheduleTick() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case snapshotMsg:
		a.err = msg.err
		if msg.err == nil && msg.snap != nil {
			a.apply(msg.snap)
		}
		return a, a.scheduleTick()

	case tickMsg:
		return a, a.poll()

	case actionMsg:
		if msg.err != nil {
			a.footer.SetMessage(msg.err.Error(), false)
		} else {
			a.footer.SetMessage(msg.text, true)
		}
		return a, a.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a, a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		a.quitting = true
		return tea.Quit
	case "tab", "left", "right", "h", "l":
		if a.focused == PanelTasks {
			a.focused = PanelProcesses
		} else {
			a.focused = PanelTasks
		}
		a.updateFocus()
		a.syncActivity()
		return nil
	case "p":
		return a.signalSelected("pause")
	case "r":
		return a.signalSelected("resume")
	case "s":
		return a.signalSelected("stop")
	case "P":
		return a.signal("pause", "")
	case "R":
		return a.signal("resume", "")
	case "S":
		return a.signal("stop", "")
	}

	a.tasks.Update(msg)
	a.processes.Update(msg)
	a.syncActivity()
	return nil
}

// selectedProcess is the process under the cursor, or the live process
// serving the selected task.
func (a *App) selectedProcess() *models.Process {
	if a.focused == PanelProcesses {
		return a.processes.Selected()
	}
	task := a.tasks.Selected()
	if task == nil || a.snap == nil {
		return nil
	}
	for _, p := range a.snap.Processes {
		if p.TaskID == task.ID && p.Status.Alive() {
			return p
		}
	}
	return nil
}

func (a *App) signalSelected(kind string) tea.Cmd {
	proc := a.selectedProcess()
	if proc == nil {
		a.footer.SetMessage("no process selected", false)
		return nil
	}
	return a.signal(kind, proc.ID)
}

func (a *App) signal(kind, processID string) tea.Cmd {
	if a.controls == nil {
		a.footer.SetMessage("controls are disabled", false)
		return nil
	}
	controls := a.controls
	return func() tea.Msg {
		var err error
		switch kind {
		case "pause":
			err = controls.RequestPause(processID)
		case "resume":
			err = controls.RequestResume(processID)
		case "stop":
			err = controls.RequestStop(processID)
		}
		target := "all loops"
		if processID != "" {
			target = "process " + shortID(processID)
		}
		return actionMsg{text: fmt.Sprintf("%s requested for %s", kind, target), err: err}
	}
}

func (a *App) apply(snap *Snapshot) {
	a.snap = snap
	a.tasks.SetTasks(snap.Tasks)
	a.processes.SetProcesses(snap.Processes, snap.Signals)
	a.syncActivity()
}

func (a *App) syncActivity() {
	proc := a.selectedProcess()
	if proc == nil || a.snap == nil {
		a.activity.SetEntries("", nil)
		return
	}
	a.activity.SetEntries(proc.ID, a.snap.Activity[proc.ID])
}

func (a *App) updateFocus() {
	a.tasks.SetFocused(a.focused == PanelTasks)
	a.processes.SetFocused(a.focused == PanelProcesses)
}

func (a *App) resize(width, height int) {
	a.layout.SetSize(width, height)
	dims := a.layout.Calculate()
	a.header.SetWidth(width)
	a.footer.SetWidth(width)
	a.tasks.SetSize(dims.TasksWidth, dims.TopHeight)
	a.processes.SetSize(dims.ProcessesWidth, dims.TopHeight)
	a.activity.SetSize(dims.ActivityWidth, dims.ActivityHeight)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	top := lipgloss.JoinHorizontal(lipgloss.Top, a.tasks.View(), a.processes.View())
	return lipgloss.JoinVertical(lipgloss.Left,
		a.header.View(a.spinner, a.snap, a.err),
		top,
		a.activity.View(),
		a.footer.View(),
	)
}

// Run starts the dashboard on the terminal until the user quits or ctx ends.
func Run(ctx context.Context, source Source, controls Controls, refresh time.Duration) error {
	app := New(source, controls, refresh)
	app.ctx = ctx
	_, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
