package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/shepherd/internal/activity"
	"github.com/ShayCichocki/shepherd/internal/rpc"
	"github.com/ShayCichocki/shepherd/internal/state"
	"github.com/ShayCichocki/shepherd/internal/supervisor"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

var errNoSupervisor = errors.New("process supervisor is not configured")

// defaultActivityTail is how many activity entries process_get returns.
const defaultActivityTail = 20

func registerProcess[P any](name, description string, fn func(Deps, context.Context, P) (any, error)) {
	Register(name, func(d Deps) rpc.Procedure {
		return rpc.Typed(name, description, func(ctx context.Context, p P) (any, error) {
			if d.Supervisor == nil {
				return nil, errNoSupervisor
			}
			return fn(d, ctx, p)
		})
	})
}

func init() {
	registerProcess("process_register", "Register a tracked process owned by this server.", Deps.newProcess)
	registerProcess("process_heartbeat", "Report that a process is alive and what it is doing next.", Deps.heartbeat)
	registerProcess("process_get", "Get a process record with its latest activity.", Deps.getProcess)
	registerProcess("process_list", "List process records, newest first.", Deps.listProcesses)
	registerProcess("process_signal", "Pause, resume or stop one process, or every loop when process_id is empty.", Deps.signalProcess)
	registerProcess("process_sweep", "Find processes whose OS process is gone and mark them stopped.", Deps.sweep)
}

// RegisterProcessParams are the process_register params.
type RegisterProcessParams struct {
	Type   models.ProcessType `json:"type" validate:"required,oneof=analysis execution planning kickstart commit task-creation"`
	TaskID string             `json:"task_id,omitempty"`
}

func (d Deps) newProcess(ctx context.Context, p RegisterProcessParams) (any, error) {
	if p.TaskID != "" && d.Store != nil {
		if _, err := d.Store.Get(p.TaskID); err != nil {
			return nil, err
		}
	}
	return d.Supervisor.Register(ctx, p.Type, p.TaskID)
}

// HeartbeatParams are the process_heartbeat params.
type HeartbeatParams struct {
	ProcessID  string `json:"process_id" validate:"required"`
	Status     string `json:"status" jsonschema:"What the process is doing now" validate:"required"`
	NextAction string `json:"next_action,omitempty" jsonschema:"What it will do next"`
}

func (d Deps) heartbeat(ctx context.Context, p HeartbeatParams) (any, error) {
	err := d.Supervisor.Heartbeat(ctx, p.ProcessID, p.Status, p.NextAction)
	if errors.Is(err, models.ErrInvalidTransition) {
		if proc, gerr := d.Supervisor.Get(ctx, p.ProcessID); gerr == nil && proc.Error == supervisor.TerminatedUnexpectedly {
			return nil, fmt.Errorf("process %s: %w", p.ProcessID, models.ErrProcessTerminated)
		}
	}
	if err != nil {
		return nil, err
	}
	return d.Supervisor.Get(ctx, p.ProcessID)
}

// GetProcessParams are the process_get params.
type GetProcessParams struct {
	ProcessID string `json:"process_id" validate:"required"`
	Tail      int    `json:"tail,omitempty" jsonschema:"Activity entries to include" validate:"gte=0,lte=500"`
}

// ProcessDetail is the process_get result.
type ProcessDetail struct {
	Process  *models.Process  `json:"process"`
	Activity []activity.Entry `json:"activity"`
}

func (d Deps) getProcess(ctx context.Context, p GetProcessParams) (any, error) {
	proc, err := d.Supervisor.Get(ctx, p.ProcessID)
	if err != nil {
		return nil, err
	}
	out := &ProcessDetail{Process: proc, Activity: []activity.Entry{}}
	if proc.LogPath == "" {
		return out, nil
	}
	n := p.Tail
	if n == 0 {
		n = defaultActivityTail
	}
	entries, err := activity.Tail(proc.LogPath, n)
	if err != nil {
		return nil, err
	}
	if entries != nil {
		out.Activity = entries
	}
	return out, nil
}

// ListProcessesParams are the process_list params.
type ListProcessesParams struct {
	Statuses []models.ProcessStatus `json:"statuses,omitempty" validate:"dive,oneof=starting running needs-input stopped"`
	Type     models.ProcessType     `json:"type,omitempty" validate:"omitempty,oneof=analysis execution planning kickstart commit task-creation"`
	TaskID   string                 `json:"task_id,omitempty"`
	Limit    int                    `json:"limit,omitempty" validate:"gte=0"`
}

// ListProcessesResult is the process_list result.
type ListProcessesResult struct {
	Processes []*models.Process `json:"processes"`
}

func (d Deps) listProcesses(ctx context.Context, p ListProcessesParams) (any, error) {
	procs, err := d.Supervisor.List(ctx, state.ProcessFilter{
		Statuses: p.Statuses,
		Type:     p.Type,
		TaskID:   p.TaskID,
		Limit:    p.Limit,
	})
	if err != nil {
		return nil, err
	}
	if procs == nil {
		procs = []*models.Process{}
	}
	return &ListProcessesResult{Processes: procs}, nil
}

// SignalParams are the process_signal params.
type SignalParams struct {
	ProcessID string `json:"process_id,omitempty" jsonschema:"Target process; empty targets every loop"`
	Signal    string `json:"signal" validate:"required,oneof=pause resume stop"`
}

// SignalResult is the process_signal result.
type SignalResult struct {
	ProcessID string `json:"process_id,omitempty"`
	Signal    string `json:"signal"`
	Global    bool   `json:"global"`
}

func (d Deps) signalProcess(_ context.Context, p SignalParams) (any, error) {
	var err error
	switch p.Signal {
	case "pause":
		err = d.Supervisor.RequestPause(p.ProcessID)
	case "resume":
		err = d.Supervisor.RequestResume(p.ProcessID)
	case "stop":
		err = d.Supervisor.RequestStop(p.ProcessID)
	}
	if err != nil {
		return nil, err
	}
	return &SignalResult{ProcessID: p.ProcessID, Signal: p.Signal, Global: p.ProcessID == ""}, nil
}

// SweepParams are the process_sweep params.
type SweepParams struct{}

// SweepResult is the process_sweep result.
type SweepResult struct {
	Reclassified []*models.Process `json:"reclassified"`
}

func (d Deps) sweep(ctx context.Context, _ SweepParams) (any, error) {
	procs, err := d.Supervisor.SweepLiveness(ctx)
	if err != nil {
		return nil, err
	}
	if procs == nil {
		procs = []*models.Process{}
	}
	return &SweepResult{Reclassified: procs}, nil
}
