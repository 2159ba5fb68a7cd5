//go:build windows

package exec

import (
	"os"
	"os/exec"
	"time"
)

// ProcessAlive reports whether pid can be opened. Windows has no signal 0, so
// FindProcess opening a handle is the probe.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// ConfigureProcessGroup is a no-op on windows.
func ConfigureProcessGroup(cmd *exec.Cmd) {}

// TerminateProcessGroup kills the worker process directly.
func TerminateProcessGroup(cmd *exec.Cmd, _ time.Duration, _ <-chan struct{}) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
