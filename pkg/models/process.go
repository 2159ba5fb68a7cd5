package models

import "time"

// ProcessType identifies what kind of worker invocation a process record tracks.
type ProcessType string

const (
	ProcessTypeAnalysis     ProcessType = "analysis"
	ProcessTypeExecution    ProcessType = "execution"
	ProcessTypePlanning     ProcessType = "planning"
	ProcessTypeKickstart    ProcessType = "kickstart"
	ProcessTypeCommit       ProcessType = "commit"
	ProcessTypeTaskCreation ProcessType = "task-creation"
)

// Valid returns true if the type is a known value.
func (t ProcessType) Valid() bool {
	switch t {
	case ProcessTypeAnalysis, ProcessTypeExecution, ProcessTypePlanning,
		ProcessTypeKickstart, ProcessTypeCommit, ProcessTypeTaskCreation:
		return true
	default:
		return false
	}
}

// ProcessStatus represents the lifecycle state of a tracked process.
type ProcessStatus string

const (
	// ProcessStatusStarting indicates the record exists but no worker is attached yet.
	ProcessStatusStarting ProcessStatus = "starting"
	// ProcessStatusRunning indicates a worker OS process is attached.
	ProcessStatusRunning ProcessStatus = "running"
	// ProcessStatusNeedsInput indicates the worker is blocked on a human decision.
	ProcessStatusNeedsInput ProcessStatus = "needs-input"
	// ProcessStatusStopped indicates the process exited, was killed, or was found dead.
	ProcessStatusStopped ProcessStatus = "stopped"
)

// Valid returns true if the status is a known value.
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusStarting, ProcessStatusRunning, ProcessStatusNeedsInput, ProcessStatusStopped:
		return true
	default:
		return false
	}
}

// Alive returns true for statuses that claim an OS process still exists.
func (s ProcessStatus) Alive() bool {
	return s == ProcessStatusStarting || s == ProcessStatusRunning || s == ProcessStatusNeedsInput
}

// Heartbeat is the most recent liveness report from the invoking side.
type Heartbeat struct {
	At         time.Time `json:"at"`
	Status     string    `json:"status"`
	NextAction string    `json:"next_action,omitempty"`
}

// Process is a supervised record of one worker invocation.
type Process struct {
	// ID is the unique identifier for this process.
	ID string `json:"id"`
	// Type is what kind of work the process performs.
	Type ProcessType `json:"type"`
	// Status is the current lifecycle state.
	Status ProcessStatus `json:"status"`
	// PID is the worker's OS process ID, zero until attached.
	PID int `json:"pid,omitempty"`
	// OwnerPID is the OS process ID of the loop that registered the record.
	OwnerPID int `json:"owner_pid,omitempty"`
	// TaskID is the task being served, if any.
	TaskID string `json:"task_id,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Error is the failure reason recorded when the process stopped abnormally.
	Error string `json:"error,omitempty"`
	// Heartbeat is the current heartbeat, nil if none was sent.
	Heartbeat *Heartbeat `json:"heartbeat,omitempty"`
	// LogPath is the path of the process's activity log.
	LogPath string `json:"log_path,omitempty"`
}

// ShortID returns the first 8 characters of the process ID.
func (p *Process) ShortID() string {
	if len(p.ID) <= 8 {
		return p.ID
	}
	return p.ID[:8]
}

// Handle returns the OS process ID that proves the record is alive: the worker
// PID once attached, otherwise the owner's.
func (p *Process) Handle() int {
	if p.PID > 0 {
		return p.PID
	}
	return p.OwnerPID
}
