// Package exec wraps os/exec for the rest of shepherd: short-lived commands
// behind a mockable runner, plus process-group and liveness helpers for
// long-lived worker processes.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// LookPath reports the resolved path of an executable on PATH.
	LookPath(name string) (string, error)
}

// LivenessProbe reports whether an OS process handle still refers to a
// running process.
type LivenessProbe interface {
	Alive(pid int) bool
}

// ProbeFunc adapts a plain function to LivenessProbe.
type ProbeFunc func(pid int) bool

// Alive calls f(pid).
func (f ProbeFunc) Alive(pid int) bool {
	return f(pid)
}

// OSProbe is the LivenessProbe backed by the operating system.
var OSProbe LivenessProbe = ProbeFunc(ProcessAlive)
