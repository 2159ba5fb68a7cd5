// Package supervisor tracks worker invocations as first-class processes.
//
// Records live in the state database so every shepherd process sees the same
// registry. The supervisor never trusts a record's claimed liveness: a sweep
// re-probes the OS handle and reclassifies dead records as stopped.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/shepherd/internal/activity"
	iexec "github.com/ShayCichocki/shepherd/internal/exec"
	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/internal/state"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

// TerminatedUnexpectedly is the error recorded on records found dead by a sweep.
const TerminatedUnexpectedly = "terminated unexpectedly"

// Options configures a Supervisor.
type Options struct {
	// LogDir holds the per-process activity logs.
	LogDir string
	// Signals is the control signal store. Signal requests fail when nil.
	Signals *signals.Store
	// Probe checks OS handles. Defaults to exec.OSProbe.
	Probe iexec.LivenessProbe
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Supervisor manages process records, their activity logs and control signals.
type Supervisor struct {
	store   state.StateStore
	logDir  string
	signals *signals.Store
	probe   iexec.LivenessProbe
	now     func() time.Time

	// logs caches open activity logs by process id.
	logs map[string]*activity.Log
	// mu protects logs.
	mu sync.RWMutex
}

// New creates a Supervisor over store.
func New(store state.StateStore, opts Options) *Supervisor {
	if opts.Probe == nil {
		opts.Probe = iexec.OSProbe
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Supervisor{
		store:   store,
		logDir:  opts.LogDir,
		signals: opts.Signals,
		probe:   opts.Probe,
		now:     opts.Now,
		logs:    make(map[string]*activity.Log),
	}
}

// Signals returns the control signal store.
func (s *Supervisor) Signals() *signals.Store {
	return s.signals
}

// Register creates a record in the starting state owned by this OS process,
// creates its activity log and appends a started entry.
func (s *Supervisor) Register(ctx context.Context, typ models.ProcessType, taskID string) (*models.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, models.Validationf("unknown process type %q", typ)
	}

	now := s.now().UTC()
	p := &models.Process{
		ID:        uuid.New().String(),
		Type:      typ,
		Status:    models.ProcessStatusStarting,
		OwnerPID:  os.Getpid(),
		TaskID:    taskID,
		StartedAt: now,
		UpdatedAt: now,
	}
	p.LogPath = activity.Path(s.logDir, p.ID)

	l, err := activity.Open(p.LogPath)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateProcess(p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.logs[p.ID] = l
	s.mu.Unlock()

	msg := fmt.Sprintf("%s process started", typ)
	if taskID != "" {
		msg = fmt.Sprintf("%s process started for task %s", typ, taskID)
	}
	s.record(p.ID, activity.TypeStarted, taskID, msg)
	return p, nil
}

// Attach records the worker's OS pid and marks the process running.
func (s *Supervisor) Attach(ctx context.Context, id string, pid int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.AttachProcess(id, pid, s.now().UTC())
}

// Heartbeat replaces the process's current heartbeat.
func (s *Supervisor) Heartbeat(ctx context.Context, id, status, nextAction string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hb := models.Heartbeat{At: s.now().UTC(), Status: status, NextAction: nextAction}
	if err := s.store.RecordHeartbeat(id, hb); err != nil {
		return err
	}
	msg := status
	if nextAction != "" {
		msg = fmt.Sprintf("%s (next: %s)", status, nextAction)
	}
	s.record(id, activity.TypeHeartbeat, s.taskOf(id), msg)
	return nil
}

// SetStatus moves a live process between starting, running and needs-input.
func (s *Supervisor) SetStatus(ctx context.Context, id string, status models.ProcessStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Alive() {
		return models.Validationf("status %q cannot be set directly; use Finish to stop a process", status)
	}
	return s.store.SetProcessStatus(id, status, s.now().UTC())
}

// Finish marks the process stopped. A non-empty errMsg is recorded as the
// failure reason. Finishing an already stopped process is a no-op.
func (s *Supervisor) Finish(ctx context.Context, id, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	changed, err := s.store.StopProcess(id, errMsg, s.now().UTC())
	if err != nil {
		return err
	}
	if changed {
		taskID := s.taskOf(id)
		if errMsg != "" {
			s.record(id, activity.TypeError, taskID, errMsg)
		}
		s.record(id, activity.TypeStopped, taskID, "process stopped")
	}
	if s.signals != nil {
		if err := s.signals.ClearProcess(id); err != nil {
			log.Printf("[supervisor] clear signals for %s: %v", id, err)
		}
	}

	s.mu.Lock()
	delete(s.logs, id)
	s.mu.Unlock()
	return nil
}

// Record appends an entry to the process's activity log.
func (s *Supervisor) Record(id string, typ activity.Type, taskID, message string) error {
	l, err := s.Log(id)
	if err != nil {
		return err
	}
	return l.Append(typ, taskID, message)
}

// record appends and logs failures instead of returning them; activity logs
// are observability and never fail the operation that produced them.
func (s *Supervisor) record(id string, typ activity.Type, taskID, message string) {
	if err := s.Record(id, typ, taskID, message); err != nil {
		log.Printf("[supervisor] activity %s for %s: %v", typ, id, err)
	}
}

// taskOf returns the task a process works on, or "" for task-less processes.
func (s *Supervisor) taskOf(id string) string {
	p, err := s.store.GetProcess(id)
	if err != nil {
		return ""
	}
	return p.TaskID
}

// Log returns the activity log for a process, opening it if needed.
func (s *Supervisor) Log(id string) (*activity.Log, error) {
	s.mu.RLock()
	l, ok := s.logs[id]
	s.mu.RUnlock()
	if ok {
		return l, nil
	}
	return activity.Open(activity.Path(s.logDir, id))
}

// RequestPause sets a pause marker for id, or a global one when id is empty.
func (s *Supervisor) RequestPause(id string) error {
	return s.signal(id, signals.Pause, false)
}

// RequestStop sets a stop marker for id, or a global one when id is empty.
func (s *Supervisor) RequestStop(id string) error {
	return s.signal(id, signals.Stop, false)
}

// RequestResume clears the pause and stop markers for id, or the global ones.
func (s *Supervisor) RequestResume(id string) error {
	return s.signal(id, signals.Pause, true)
}

func (s *Supervisor) signal(id string, kind signals.Kind, clear bool) error {
	if s.signals == nil {
		return errors.New("control signals are not configured")
	}
	var taskID string
	if id != "" {
		p, err := s.store.GetProcess(id)
		if err != nil {
			return err
		}
		taskID = p.TaskID
	}

	var err error
	verb := string(kind)
	if clear {
		err = s.signals.Resume(id)
		verb = "resume"
	} else {
		err = s.signals.Set(id, kind)
	}
	if err != nil {
		return err
	}
	if id != "" {
		s.record(id, activity.TypeSignal, taskID, verb+" requested")
	}
	return nil
}

// SweepLiveness probes the OS handle of every record claiming to be alive and
// stops the dead ones. Only the sweeper whose update changed a record appends
// the activity entry, so concurrent sweeps log each death once. The
// reclassified records are returned.
func (s *Supervisor) SweepLiveness(ctx context.Context) ([]*models.Process, error) {
	live, err := s.store.ListProcesses(state.ProcessFilter{
		Statuses: []models.ProcessStatus{
			models.ProcessStatusStarting,
			models.ProcessStatusRunning,
			models.ProcessStatusNeedsInput,
		},
	})
	if err != nil {
		return nil, err
	}

	var reclassified []*models.Process
	for _, p := range live {
		if err := ctx.Err(); err != nil {
			return reclassified, err
		}
		if s.probe.Alive(p.Handle()) {
			continue
		}
		now := s.now().UTC()
		changed, err := s.store.StopProcess(p.ID, TerminatedUnexpectedly, now)
		if err != nil {
			return reclassified, err
		}
		if !changed {
			continue
		}
		log.Printf("[supervisor] process %s (pid %d) %s", p.ShortID(), p.Handle(), TerminatedUnexpectedly)
		s.record(p.ID, activity.TypeError, p.TaskID, TerminatedUnexpectedly)

		p.Status = models.ProcessStatusStopped
		p.Error = TerminatedUnexpectedly
		p.UpdatedAt = now
		p.EndedAt = &now
		reclassified = append(reclassified, p)
	}
	return reclassified, nil
}

// Get returns one process record.
func (s *Supervisor) Get(ctx context.Context, id string) (*models.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.GetProcess(id)
}

// List returns process records matching f, newest first.
func (s *Supervisor) List(ctx context.Context, f state.ProcessFilter) ([]*models.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListProcesses(f)
}

// Prune deletes stopped records that ended before olderThan ago, together
// with their activity logs and signal markers.
func (s *Supervisor) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	purged, err := s.store.PurgeStoppedProcesses(s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	for _, p := range purged {
		if p.LogPath != "" {
			if err := os.Remove(p.LogPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Printf("[supervisor] remove log %s: %v", p.LogPath, err)
			}
		}
		if s.signals != nil {
			_ = s.signals.ClearProcess(p.ID)
		}
	}
	return len(purged), nil
}
