package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, the supervisor, the loop and the RPC server.
// Callers match with errors.Is.
var (
	// ErrNotFound is returned when a task or process identifier is unknown.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a state machine move is not legal.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation is returned for malformed parameters or payloads.
	ErrValidation = errors.New("validation failed")
	// ErrProcessTerminated is recorded when a liveness sweep finds a dead worker.
	ErrProcessTerminated = errors.New("terminated unexpectedly")
	// ErrRateLimited is returned when a worker hit its usage limit. It is transient.
	ErrRateLimited = errors.New("rate limited")
	// ErrWorkspaceConflict is returned when a task already owns a live workspace.
	ErrWorkspaceConflict = errors.New("workspace conflict")
)

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// InvalidTransitionf returns an error wrapping ErrInvalidTransition.
func InvalidTransitionf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidTransition)
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// WorkspaceConflictf returns an error wrapping ErrWorkspaceConflict.
func WorkspaceConflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrWorkspaceConflict)
}

// RateLimitError carries the human-readable reset message reported by the worker.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return "rate limited: " + e.Message
}

// Is makes RateLimitError match ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
