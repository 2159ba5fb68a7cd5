package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"

	"github.com/ShayCichocki/shepherd/internal/activity"
	iexec "github.com/ShayCichocki/shepherd/internal/exec"
	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/internal/state"
	"github.com/ShayCichocki/shepherd/internal/supervisor"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

type fakeSource struct {
	snap *Snapshot
	err  error
}

func (f *fakeSource) Snapshot(context.Context) (*Snapshot, error) {
	return f.snap, f.err
}

type fakeControls struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeControls) record(kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind+":"+id)
	return nil
}

func (f *fakeControls) RequestPause(id string) error  { return f.record("pause", id) }
func (f *fakeControls) RequestResume(id string) error { return f.record("resume", id) }
func (f *fakeControls) RequestStop(id string) error   { return f.record("stop", id) }

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleSnapshot() *Snapshot {
	now := time.Now()
	return &Snapshot{
		Tasks: []*models.Task{
			{ID: "task-aaaaaaaa", Name: "Add login", Status: models.TaskStatusInProgress, Priority: 1},
			{ID: "task-bbbbbbbb", Name: "Write docs", Status: models.TaskStatusTodo, Priority: 3},
		},
		Counts: map[models.TaskStatus]int{models.TaskStatusInProgress: 1, models.TaskStatusTodo: 1},
		Processes: []*models.Process{
			{ID: "proc-1111111", Type: models.ProcessTypeExecution, Status: models.ProcessStatusRunning, TaskID: "task-aaaaaaaa", StartedAt: now},
			{ID: "proc-2222222", Type: models.ProcessTypeAnalysis, Status: models.ProcessStatusStopped, TaskID: "task-bbbbbbbb", StartedAt: now, Error: "worker exited"},
		},
		Activity: map[string][]activity.Entry{
			"proc-1111111": {{Timestamp: now, Type: activity.TypeTool, Message: "Edit auth.go"}},
		},
		TakenAt: now,
	}
}

// drive runs cmd and feeds the resulting message back into the app.
func drive(t *testing.T, app *App, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	app.Update(cmd())
}

func loaded(t *testing.T, ctl Controls) *App {
	t.Helper()
	app := New(&fakeSource{snap: sampleSnapshot()}, ctl, time.Second)
	app.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	app.Update(snapshotMsg{snap: sampleSnapshot()})
	return app
}

func TestDashboardRendersSnapshot(t *testing.T) {
	app := New(&fakeSource{snap: sampleSnapshot()}, nil, time.Second)
	app.Update(tea.WindowSizeMsg{Width: 140, Height: 40})

	msg := app.poll()()
	_, cmd := app.Update(msg)
	if cmd == nil {
		t.Error("expected the next refresh to be scheduled")
	}

	view := app.View()
	for _, want := range []string{"Add login", "Write docs", "proc-111", "Edit auth.go", "in-progress 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboardRefreshError(t *testing.T) {
	app := New(&fakeSource{err: errors.New("database is locked")}, nil, time.Second)
	app.Update(app.poll()())

	if !strings.Contains(app.View(), "refresh failed: database is locked") {
		t.Error("expected refresh error in header")
	}
}

func TestDashboardSignalsSelectedProcess(t *testing.T) {
	ctl := &fakeControls{}
	app := loaded(t, ctl)

	_, cmd := app.Update(key("p"))
	drive(t, app, cmd)

	if len(ctl.calls) != 1 || ctl.calls[0] != "pause:proc-1111111" {
		t.Fatalf("calls = %v, want pause of the first process", ctl.calls)
	}
	if !strings.Contains(app.View(), "pause requested for process proc-111") {
		t.Error("expected footer confirmation")
	}
}

func TestDashboardMovesSelection(t *testing.T) {
	ctl := &fakeControls{}
	app := loaded(t, ctl)

	app.Update(key("down"))
	if got := app.processes.Selected(); got == nil || got.ID != "proc-2222222" {
		t.Fatalf("selected = %v, want proc-2222222", got)
	}
	if app.activity.processID != "proc-2222222" {
		t.Errorf("activity follows %q, want the selected process", app.activity.processID)
	}

	_, cmd := app.Update(key("r"))
	drive(t, app, cmd)
	if ctl.calls[0] != "resume:proc-2222222" {
		t.Errorf("calls = %v", ctl.calls)
	}
}

func TestDashboardGlobalSignals(t *testing.T) {
	ctl := &fakeControls{}
	app := loaded(t, ctl)

	for _, k := range []string{"P", "R", "S"} {
		_, cmd := app.Update(key(k))
		drive(t, app, cmd)
	}

	want := []string{"pause:", "resume:", "stop:"}
	if strings.Join(ctl.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", ctl.calls, want)
	}
	if !strings.Contains(app.View(), "stop requested for all loops") {
		t.Error("expected footer confirmation")
	}
}

func TestDashboardTaskFocusTargetsLiveProcess(t *testing.T) {
	ctl := &fakeControls{}
	app := loaded(t, ctl)

	app.Update(key("tab"))
	if app.focused != PanelTasks {
		t.Fatalf("focused = %d, want tasks", app.focused)
	}

	_, cmd := app.Update(key("s"))
	drive(t, app, cmd)
	if len(ctl.calls) != 1 || ctl.calls[0] != "stop:proc-1111111" {
		t.Fatalf("calls = %v", ctl.calls)
	}

	// The second task's process already stopped, so nothing is selected.
	app.Update(key("j"))
	_, cmd = app.Update(key("s"))
	if cmd != nil {
		t.Error("expected no command without a live process")
	}
	if !strings.Contains(app.View(), "no process selected") {
		t.Error("expected footer error")
	}
}

func TestDashboardWithoutControls(t *testing.T) {
	app := loaded(t, nil)

	_, cmd := app.Update(key("p"))
	if cmd != nil {
		t.Error("expected no command")
	}
	if !strings.Contains(app.View(), "controls are disabled") {
		t.Error("expected footer error")
	}
}

func TestDashboardQuit(t *testing.T) {
	app := loaded(t, nil)
	_, cmd := app.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if app.View() != "" {
		t.Error("expected empty view after quit")
	}
}

func TestHeaderShowsGlobalSignal(t *testing.T) {
	snap := sampleSnapshot()
	snap.Signals = []signals.Marker{{Kind: signals.Pause}}
	app := New(&fakeSource{}, nil, time.Second)
	app.Update(snapshotMsg{snap: snap})
	if !strings.Contains(app.View(), "PAUSED") {
		t.Error("expected PAUSED badge")
	}

	snap.Signals = append(snap.Signals, signals.Marker{Kind: signals.Stop})
	app.Update(snapshotMsg{snap: snap})
	if !strings.Contains(app.View(), "STOP") {
		t.Error("expected STOP badge")
	}
}

func TestCursorKeepsSelectionVisible(t *testing.T) {
	c := cursor{height: 5} // two visible rows
	for i := 0; i < 4; i++ {
		c.move(1, 10)
	}
	if c.selected != 4 {
		t.Fatalf("selected = %d", c.selected)
	}
	start, end := c.window(10)
	if start != 3 || end != 5 {
		t.Errorf("window = [%d,%d), want [3,5)", start, end)
	}

	c.move(100, 10)
	if c.selected != 9 {
		t.Errorf("selected = %d, want clamp to 9", c.selected)
	}
	c.move(0, 0)
	if c.selected != 0 {
		t.Errorf("selected = %d, want 0 for an empty list", c.selected)
	}
}

func TestLayoutSplitsPanels(t *testing.T) {
	l := NewLayoutManager(100, 40)
	d := l.Calculate()
	if d.TasksWidth+d.ProcessesWidth != 100 {
		t.Errorf("top widths %d+%d do not fill 100", d.TasksWidth, d.ProcessesWidth)
	}
	if d.TopHeight+d.ActivityHeight+l.HeaderHeight()+1 != 40 {
		t.Errorf("heights do not fill the screen: %+v", d)
	}
}

func TestStoreSourceSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := taskstore.New(afero.NewMemMapFs(), "/repo/.shepherd/tasks")
	if err != nil {
		t.Fatal(err)
	}
	db, err := state.OpenProject(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	sigs, err := signals.New(filepath.Join(dir, "signals"))
	if err != nil {
		t.Fatal(err)
	}
	sup := supervisor.New(db, supervisor.Options{
		LogDir:  filepath.Join(dir, "processes"),
		Signals: sigs,
		Probe:   iexec.ProbeFunc(func(int) bool { return true }),
	})

	task, err := store.Create(&models.Task{Name: "Add login"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(&models.Task{Name: "Write docs"}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	proc, err := sup.Register(ctx, models.ProcessTypeAnalysis, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := sup.Record(proc.ID, activity.TypeText, task.ID, "reading the code"); err != nil {
		t.Fatal(err)
	}
	if err := sup.RequestPause(""); err != nil {
		t.Fatal(err)
	}

	snap, err := StoreSource{Store: store, Supervisor: sup}.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Tasks) != 2 || snap.Counts[models.TaskStatusTodo] != 2 {
		t.Errorf("tasks = %d, counts = %v", len(snap.Tasks), snap.Counts)
	}
	if len(snap.Processes) != 1 || snap.Processes[0].ID != proc.ID {
		t.Fatalf("processes = %v", snap.Processes)
	}
	var found bool
	for _, e := range snap.Activity[proc.ID] {
		if e.Type == activity.TypeText && e.Message == "reading the code" {
			found = true
		}
	}
	if !found {
		t.Errorf("activity = %v, want the recorded entry", snap.Activity[proc.ID])
	}
	if !snap.GlobalSignal(signals.Pause) {
		t.Error("expected the global pause marker")
	}
}
