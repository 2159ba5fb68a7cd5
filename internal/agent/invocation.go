// Package agent invokes worker agents (the claude CLI) and interprets the
// structured event stream they print.
package agent

import (
	"fmt"
)

// DefaultCommand is the worker executable.
const DefaultCommand = "claude"

// Invocation describes one worker run.
type Invocation struct {
	// Command is the executable; DefaultCommand when empty.
	Command string
	// Model is passed through as --model when set.
	Model string
	// PermissionMode is passed through as --permission-mode when set.
	PermissionMode string
	// SessionID names the worker session. A fresh invocation pins the id with
	// --session-id; a resumed one continues it with --resume.
	SessionID string
	// Resume continues SessionID instead of starting it.
	Resume bool
	// Payload is the instruction text.
	Payload string
	// WorkDir is the directory the worker runs in.
	WorkDir string
	// ExtraArgs are inserted before the payload flags.
	ExtraArgs []string
	// Env is appended to the inherited environment.
	Env []string
}

// Executable returns the command to run.
func (inv Invocation) Executable() string {
	if inv.Command == "" {
		return DefaultCommand
	}
	return inv.Command
}

// Args builds the worker argument list. The payload is always last.
func (inv Invocation) Args() []string {
	var args []string
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.PermissionMode != "" {
		args = append(args, "--permission-mode", inv.PermissionMode)
	}
	args = append(args, "--output-format", "stream-json", "--verbose")
	if inv.SessionID != "" {
		if inv.Resume {
			args = append(args, "--resume", inv.SessionID)
		} else {
			args = append(args, "--session-id", inv.SessionID)
		}
	}
	args = append(args, inv.ExtraArgs...)
	args = append(args, "--print", "-p", inv.Payload)
	return args
}

// Validate rejects invocations that cannot run.
func (inv Invocation) Validate() error {
	if inv.Payload == "" {
		return fmt.Errorf("invocation has no payload")
	}
	if inv.Resume && inv.SessionID == "" {
		return fmt.Errorf("resume requested without a session id")
	}
	return nil
}
