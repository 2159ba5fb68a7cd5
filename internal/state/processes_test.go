package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// newProcess inserts a process in the given status and returns it.
func newProcess(t *testing.T, db *DB, id string, status models.ProcessStatus, started time.Time) *models.Process {
	t.Helper()
	p := &models.Process{
		ID:        id,
		Type:      models.ProcessTypeAnalysis,
		Status:    status,
		OwnerPID:  4242,
		TaskID:    "task-" + id,
		StartedAt: started,
		UpdatedAt: started,
		LogPath:   "/tmp/" + id + ".jsonl",
	}
	if err := db.CreateProcess(p); err != nil {
		t.Fatalf("CreateProcess(%s) failed: %v", id, err)
	}
	return p
}

func TestCreateAndGetProcess(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	newProcess(t, db, "p1", models.ProcessStatusStarting, started)

	got, err := db.GetProcess("p1")
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}
	if got.Type != models.ProcessTypeAnalysis || got.Status != models.ProcessStatusStarting {
		t.Errorf("got %+v", got)
	}
	if got.OwnerPID != 4242 || got.TaskID != "task-p1" {
		t.Errorf("owner/task = %d/%q", got.OwnerPID, got.TaskID)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.Heartbeat != nil || got.EndedAt != nil {
		t.Errorf("fresh process should have no heartbeat or end time: %+v", got)
	}

	_, err = db.GetProcess("ghost")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetProcess(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestAttachAndSetStatus(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	newProcess(t, db, "p1", models.ProcessStatusStarting, now)

	if err := db.AttachProcess("p1", 999, now); err != nil {
		t.Fatalf("AttachProcess failed: %v", err)
	}
	got, _ := db.GetProcess("p1")
	if got.PID != 999 || got.Status != models.ProcessStatusRunning {
		t.Errorf("after attach: pid=%d status=%s", got.PID, got.Status)
	}

	if err := db.SetProcessStatus("p1", models.ProcessStatusNeedsInput, now); err != nil {
		t.Fatalf("SetProcessStatus failed: %v", err)
	}

	if changed, err := db.StopProcess("p1", "", now); err != nil || !changed {
		t.Fatalf("StopProcess = %v, %v", changed, err)
	}
	err := db.SetProcessStatus("p1", models.ProcessStatusRunning, now)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("SetProcessStatus on stopped error = %v, want ErrInvalidTransition", err)
	}
	err = db.AttachProcess("ghost", 1, now)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("AttachProcess(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestRecordHeartbeat_SingleCurrent(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	newProcess(t, db, "p1", models.ProcessStatusRunning, now)

	for i, status := range []string{"reading", "editing", "testing"} {
		hb := models.Heartbeat{At: now.Add(time.Duration(i) * time.Second), Status: status, NextAction: "next-" + status}
		if err := db.RecordHeartbeat("p1", hb); err != nil {
			t.Fatalf("RecordHeartbeat(%s) failed: %v", status, err)
		}
	}

	var current int
	if err := db.QueryRow("SELECT COUNT(*) FROM heartbeats WHERE process_id = ? AND current = 1", "p1").Scan(&current); err != nil {
		t.Fatalf("count current: %v", err)
	}
	if current != 1 {
		t.Errorf("current heartbeats = %d, want 1", current)
	}

	got, _ := db.GetProcess("p1")
	if got.Heartbeat == nil || got.Heartbeat.Status != "testing" || got.Heartbeat.NextAction != "next-testing" {
		t.Errorf("current heartbeat = %+v", got.Heartbeat)
	}
	if !got.UpdatedAt.Equal(now.Add(2 * time.Second).UTC()) {
		t.Errorf("UpdatedAt = %v, want last heartbeat time", got.UpdatedAt)
	}

	history, err := db.HeartbeatHistory("p1")
	if err != nil {
		t.Fatalf("HeartbeatHistory failed: %v", err)
	}
	if len(history) != 3 || history[0].Status != "reading" {
		t.Errorf("history = %+v", history)
	}
}

func TestRecordHeartbeat_Rejects(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	newProcess(t, db, "p1", models.ProcessStatusStopped, now)

	err := db.RecordHeartbeat("ghost", models.Heartbeat{At: now, Status: "x"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown process error = %v, want ErrNotFound", err)
	}
	err = db.RecordHeartbeat("p1", models.Heartbeat{At: now, Status: "x"})
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("stopped process error = %v, want ErrInvalidTransition", err)
	}
}

func TestStopProcess_OnlyOneWinner(t *testing.T) {
	path := tempDBPath(t)
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer first.Close()
	if err := first.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	newProcess(t, first, "p1", models.ProcessStatusRunning, time.Now())

	// Separate handles stand in for separate sweeper processes.
	const sweepers = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < sweepers; i++ {
		db, err := Open(path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer db.Close()
		wg.Add(1)
		go func(db *DB) {
			defer wg.Done()
			changed, err := db.StopProcess("p1", "terminated unexpectedly", time.Now())
			if err != nil {
				t.Errorf("StopProcess failed: %v", err)
				return
			}
			if changed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(db)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
	got, _ := first.GetProcess("p1")
	if got.Status != models.ProcessStatusStopped || got.Error != "terminated unexpectedly" || got.EndedAt == nil {
		t.Errorf("after stop: %+v", got)
	}
}

func TestListProcesses_Filter(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	newProcess(t, db, "old", models.ProcessStatusStopped, base)
	newProcess(t, db, "mid", models.ProcessStatusRunning, base.Add(time.Hour))
	newProcess(t, db, "new", models.ProcessStatusStarting, base.Add(2*time.Hour))

	all, err := db.ListProcesses(ProcessFilter{})
	if err != nil {
		t.Fatalf("ListProcesses failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "new" || all[2].ID != "old" {
		t.Errorf("ListProcesses order = %v", ids(all))
	}

	live, _ := db.ListProcesses(ProcessFilter{Statuses: []models.ProcessStatus{models.ProcessStatusRunning, models.ProcessStatusStarting}})
	if len(live) != 2 {
		t.Errorf("live = %v", ids(live))
	}

	byTask, _ := db.ListProcesses(ProcessFilter{TaskID: "task-mid"})
	if len(byTask) != 1 || byTask[0].ID != "mid" {
		t.Errorf("byTask = %v", ids(byTask))
	}

	limited, _ := db.ListProcesses(ProcessFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited = %v", ids(limited))
	}
}

func TestPurgeStoppedProcesses(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	newProcess(t, db, "done", models.ProcessStatusRunning, now.Add(-48*time.Hour))
	newProcess(t, db, "live", models.ProcessStatusRunning, now.Add(-48*time.Hour))
	if _, err := db.StopProcess("done", "", now.Add(-47*time.Hour)); err != nil {
		t.Fatalf("StopProcess failed: %v", err)
	}
	if err := db.RecordHeartbeat("live", models.Heartbeat{At: now, Status: "ok"}); err != nil {
		t.Fatalf("RecordHeartbeat failed: %v", err)
	}

	purged, err := db.PurgeStoppedProcesses(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PurgeStoppedProcesses failed: %v", err)
	}
	if len(purged) != 1 || purged[0].ID != "done" {
		t.Errorf("purged = %v", ids(purged))
	}
	if _, err := db.GetProcess("done"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("purged process still present: %v", err)
	}
	if _, err := db.GetProcess("live"); err != nil {
		t.Errorf("live process removed: %v", err)
	}
}

func ids(ps []*models.Process) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
