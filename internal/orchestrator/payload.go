package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// PayloadInput is everything the instruction payload is built from.
type PayloadInput struct {
	Phase     Phase
	Task      *models.Task
	ProcessID string
	// WorkDir is the isolated workspace for execution, or the repository.
	WorkDir string
	// Attempt is the 1-based invocation attempt for this task.
	Attempt int
	// LastError is the previous attempt's failure, if any.
	LastError string
}

// BuildPayload renders the instruction text handed to the worker. The worker
// reports back only through the task and process procedures named here.
func BuildPayload(in PayloadInput) string {
	task := in.Task
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are the %s worker for one task.\n\n", in.Phase)
	fmt.Fprintf(&sb, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&sb, "Process ID: %s\n", in.ProcessID)
	fmt.Fprintf(&sb, "Title: %s\n", task.Name)
	if task.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", task.Category)
	}
	if task.Effort != "" {
		fmt.Fprintf(&sb, "Effort: %s\n", task.Effort)
	}
	if in.WorkDir != "" {
		fmt.Fprintf(&sb, "Working directory: %s\n", in.WorkDir)
	}

	if task.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}
	writeList(&sb, "Acceptance criteria", task.AcceptanceCriteria)
	writeList(&sb, "Steps", task.Steps)

	if len(task.ResolvedQuestions) > 0 {
		sb.WriteString("\nDecisions already made:\n")
		for _, q := range task.ResolvedQuestions {
			fmt.Fprintf(&sb, "- Q: %s\n  A: %s\n", q.Question, q.Answer)
		}
	}

	if in.Phase == PhaseExecution && len(task.Analysis) > 0 {
		if data, err := json.MarshalIndent(task.Analysis, "", "  "); err == nil {
			sb.WriteString("\nAnalysis:\n")
			sb.Write(data)
			sb.WriteString("\n")
		}
	}

	if in.Phase == PhaseExecution && task.LandingError != "" {
		fmt.Fprintf(&sb, "\nWork from an earlier run is on this branch but could not be merged: %s\n", task.LandingError)
		sb.WriteString("Rebase or resolve the conflict before marking the task done.\n")
	}

	if in.Attempt > 1 {
		fmt.Fprintf(&sb, "\nThis is attempt %d.", in.Attempt)
		if in.LastError != "" {
			fmt.Fprintf(&sb, " The previous attempt failed with: %s", in.LastError)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Completion protocol\n\n")
	fmt.Fprintf(&sb, "Send process_heartbeat with process_id %q when you start a major step.\n", in.ProcessID)
	switch in.Phase {
	case PhaseAnalysis:
		sb.WriteString("Research the task and finish with exactly one of:\n")
		sb.WriteString("- task_mark_analysed with your findings as the analysis document\n")
		sb.WriteString("- task_ask_question when a human must decide (3 to 5 options, one recommended)\n")
		sb.WriteString("- task_propose_split when the task should become smaller tasks\n")
		sb.WriteString("Do not change any files.\n")
	case PhaseExecution:
		sb.WriteString("Implement the task in the working directory and commit your changes.\n")
		sb.WriteString("Finish with task_mark_done, or task_skip with a reason if it cannot be done.\n")
		sb.WriteString("Stay within the task; file discovered work with task_create.\n")
	}
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for i, item := range items {
		fmt.Fprintf(sb, "%d. %s\n", i+1, item)
	}
}
