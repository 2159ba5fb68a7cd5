package tui

import (
	"context"
	"time"

	"github.com/ShayCichocki/shepherd/internal/activity"
	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/internal/state"
	"github.com/ShayCichocki/shepherd/internal/supervisor"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Snapshot is one poll of the project state.
type Snapshot struct {
	Tasks     []*models.Task
	Counts    map[models.TaskStatus]int
	Processes []*models.Process
	// Activity holds the recent entries of each listed process, by id.
	Activity map[string][]activity.Entry
	Signals  []signals.Marker
	TakenAt  time.Time
}

// GlobalSignal reports whether a global marker of kind is active.
func (s *Snapshot) GlobalSignal(kind signals.Kind) bool {
	for _, m := range s.Signals {
		if m.ProcessID == "" && m.Kind == kind {
			return true
		}
	}
	return false
}

// Source produces snapshots.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Controls sends control signals. An empty id targets every loop.
// *supervisor.Supervisor implements it.
type Controls interface {
	RequestPause(id string) error
	RequestResume(id string) error
	RequestStop(id string) error
}

// StoreSource reads snapshots straight from the task store and the registry.
type StoreSource struct {
	Store      *taskstore.Store
	Supervisor *supervisor.Supervisor
	// ProcessLimit caps listed processes; 0 means 30.
	ProcessLimit int
	// ActivityTail is how many entries to read per process; 0 means 50.
	ActivityTail int
}

// Snapshot implements Source.
func (s StoreSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Activity: map[string][]activity.Entry{}, TakenAt: time.Now()}

	tasks, err := s.Store.List(models.LiveTaskStatuses...)
	if err != nil {
		return nil, err
	}
	snap.Tasks = tasks
	if snap.Counts, err = s.Store.Counts(); err != nil {
		return nil, err
	}

	limit := s.ProcessLimit
	if limit == 0 {
		limit = 30
	}
	if snap.Processes, err = s.Supervisor.List(ctx, state.ProcessFilter{Limit: limit}); err != nil {
		return nil, err
	}
	tail := s.ActivityTail
	if tail == 0 {
		tail = 50
	}
	for _, p := range snap.Processes {
		if p.LogPath == "" {
			continue
		}
		// A missing or unreadable log just shows no activity.
		if entries, err := activity.Tail(p.LogPath, tail); err == nil {
			snap.Activity[p.ID] = entries
		}
	}

	if sigs := s.Supervisor.Signals(); sigs != nil {
		if snap.Signals, err = sigs.Active(); err != nil {
			return nil, err
		}
	}
	return snap, nil
}
