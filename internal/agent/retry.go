package agent

import (
	"fmt"
	"log"
	"sync"
)

// RetryDecision is the verdict after a failed invocation.
type RetryDecision int

const (
	// Retry means the same task should be invoked again.
	Retry RetryDecision = iota
	// GiveUp means the attempt budget is spent and the failure policy applies.
	GiveUp
)

// String returns a human-readable representation of the retry decision.
func (d RetryDecision) String() string {
	switch d {
	case Retry:
		return "retry"
	case GiveUp:
		return "give-up"
	default:
		return "unknown"
	}
}

// RetryContext describes one failure and where it leaves the task.
type RetryContext struct {
	TaskID      string
	Error       string
	Attempt     int
	MaxAttempts int
}

// RetryHandler counts failed invocations per task. Rate limits are not
// failures and must not be reported here.
type RetryHandler struct {
	maxAttempts int
	attempts    map[string]int
	errors      map[string][]string
	mu          sync.RWMutex
}

// NewRetryHandler creates a handler allowing maxAttempts invocations per task.
func NewRetryHandler(maxAttempts int) *RetryHandler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryHandler{
		maxAttempts: maxAttempts,
		attempts:    make(map[string]int),
		errors:      make(map[string][]string),
	}
}

// MaxAttempts returns the per-task attempt budget.
func (h *RetryHandler) MaxAttempts() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxAttempts
}

// HandleFailure records a failed attempt and decides whether to try again.
func (h *RetryHandler) HandleFailure(taskID, errMsg string) (*RetryContext, RetryDecision) {
	h.mu.Lock()
	h.attempts[taskID]++
	attempt := h.attempts[taskID]
	h.errors[taskID] = append(h.errors[taskID], errMsg)
	maxAttempts := h.maxAttempts
	h.mu.Unlock()

	rc := &RetryContext{TaskID: taskID, Error: errMsg, Attempt: attempt, MaxAttempts: maxAttempts}
	if attempt < maxAttempts {
		log.Printf("[retry] task %s: attempt %d/%d failed, retrying: %s", taskID, attempt, maxAttempts, errMsg)
		return rc, Retry
	}
	log.Printf("[retry] task %s: attempt %d/%d failed, giving up: %s", taskID, attempt, maxAttempts, errMsg)
	return rc, GiveUp
}

// Reset clears the history for a task.
func (h *RetryHandler) Reset(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attempts, taskID)
	delete(h.errors, taskID)
}

// GetAttempts returns the failed attempts recorded for a task.
func (h *RetryHandler) GetAttempts(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.attempts[taskID]
}

// GetErrors returns every error recorded for a task, oldest first.
func (h *RetryHandler) GetErrors(taskID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	errs := make([]string, len(h.errors[taskID]))
	copy(errs, h.errors[taskID])
	return errs
}

// Summary renders the failure history for a skip reason.
func (rc *RetryContext) Summary() string {
	return fmt.Sprintf("failed after %d of %d attempts: %s", rc.Attempt, rc.MaxAttempts, rc.Error)
}
