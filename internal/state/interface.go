package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// ProcessStore handles process record persistence.
type ProcessStore interface {
	CreateProcess(p *models.Process) error
	GetProcess(id string) (*models.Process, error)
	ListProcesses(f ProcessFilter) ([]*models.Process, error)
	AttachProcess(id string, pid int, now time.Time) error
	SetProcessStatus(id string, status models.ProcessStatus, now time.Time) error
	StopProcess(id, errMsg string, now time.Time) (bool, error)
	PurgeStoppedProcesses(cutoff time.Time) ([]*models.Process, error)
}

// HeartbeatStore handles heartbeat persistence.
type HeartbeatStore interface {
	RecordHeartbeat(id string, hb models.Heartbeat) error
	HeartbeatHistory(id string) ([]models.Heartbeat, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore composes the registry's persistence needs so the supervisor does
// not depend on the concrete SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	ProcessStore
	HeartbeatStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore     = (*DB)(nil)
	_ ProcessStore   = (*DB)(nil)
	_ HeartbeatStore = (*DB)(nil)
)
