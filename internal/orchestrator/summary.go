package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/shepherd/internal/agent"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Outcome classifies how one task's turn through the loop ended.
type Outcome string

const (
	// OutcomeSuccess means the task reached the phase's target status.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial means the worker moved the task somewhere else on
	// purpose: a question, a split, a skip.
	OutcomePartial Outcome = "partial"
	// OutcomeIncomplete means the worker finished but left the task where it was.
	OutcomeIncomplete Outcome = "incomplete"
	// OutcomeFailed means every attempt failed and the failure policy applied.
	OutcomeFailed Outcome = "failed"
	// OutcomeStopped means a stop signal or cancellation interrupted the task.
	OutcomeStopped Outcome = "stopped"
)

// classify maps the status a worker left a task in to an outcome.
func classify(phase Phase, status models.TaskStatus) Outcome {
	switch phase {
	case PhaseAnalysis:
		switch status {
		case models.TaskStatusAnalysed:
			return OutcomeSuccess
		case models.TaskStatusAnalysing:
			return OutcomeIncomplete
		}
	case PhaseExecution:
		switch status {
		case models.TaskStatusDone:
			return OutcomeSuccess
		case models.TaskStatusInProgress:
			return OutcomeIncomplete
		}
	}
	return OutcomePartial
}

// TaskResult records one task's turn.
type TaskResult struct {
	TaskID  string            `json:"task_id"`
	Name    string            `json:"name"`
	Outcome Outcome           `json:"outcome"`
	Status  models.TaskStatus `json:"status"`
	Reason  string            `json:"reason,omitempty"`
}

// Summary describes a finished loop run.
type Summary struct {
	LoopID     string        `json:"loop_id"`
	Phase      Phase         `json:"phase"`
	Mode       Mode          `json:"mode"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Partial    int           `json:"partial"`
	Incomplete int           `json:"incomplete"`
	Failed     int           `json:"failed"`
	RateLimits int           `json:"rate_limits"`
	Stopped    bool          `json:"stopped"`
	Usage      agent.Usage   `json:"usage"`
	CostUSD    float64       `json:"cost_usd"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Tasks      []TaskResult  `json:"tasks,omitempty"`
}

func (s *Summary) add(r TaskResult) {
	s.Tasks = append(s.Tasks, r)
	switch r.Outcome {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomePartial:
		s.Partial++
	case OutcomeIncomplete:
		s.Incomplete++
	case OutcomeFailed:
		s.Failed++
	}
}

// String renders a one-line summary.
func (s *Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s loop: %d processed, %d succeeded, %d partial, %d incomplete, %d failed",
		s.Phase, s.Processed, s.Succeeded, s.Partial, s.Incomplete, s.Failed)
	if s.RateLimits > 0 {
		fmt.Fprintf(&sb, ", %d rate limits", s.RateLimits)
	}
	if !s.Usage.IsZero() {
		fmt.Fprintf(&sb, ", %s", s.Usage)
	}
	if s.CostUSD > 0 {
		fmt.Fprintf(&sb, ", $%.4f", s.CostUSD)
	}
	if s.Stopped {
		sb.WriteString(" (stopped)")
	}
	return sb.String()
}
