package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/state"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task counts, live processes and pending decisions",
	Long: `Display the current state of the project.

Shows:
  - Task counts per status
  - Tasks waiting on a human (questions and split proposals)
  - Live tracked processes and their last heartbeat
  - Active pause and stop signals`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()
	ctx := cmd.Context()

	counts, err := p.store.Counts()
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	fmt.Println("Tasks:")
	for _, st := range models.AllTaskStatuses {
		fmt.Printf("  %-12s %s\n", st, statusColor(st).Sprint(counts[st]))
	}

	waiting, err := p.store.List(models.TaskStatusNeedsInput)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(waiting) > 0 {
		fmt.Println()
		fmt.Println(color.YellowString("Waiting for you:"))
		for _, t := range waiting {
			displayPending(os.Stdout, t)
		}
	}

	procs, err := p.supervisor.List(ctx, state.ProcessFilter{
		Statuses: []models.ProcessStatus{
			models.ProcessStatusStarting,
			models.ProcessStatusRunning,
			models.ProcessStatusNeedsInput,
		},
	})
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	fmt.Println()
	if len(procs) == 0 {
		fmt.Println("No live processes.")
	} else {
		fmt.Printf("Live processes (%d):\n", len(procs))
		for _, proc := range procs {
			displayProcess(proc)
		}
	}

	markers, err := p.signals.Active()
	if err != nil {
		return fmt.Errorf("read signals: %w", err)
	}
	if len(markers) > 0 {
		fmt.Println()
		fmt.Println("Signals:")
		for _, m := range markers {
			target := "all loops"
			if m.ProcessID != "" {
				target = "process " + m.ProcessID
			}
			fmt.Printf("  %s %s (since %s)\n", color.RedString(string(m.Kind)), target, formatDuration(time.Since(m.SetAt)))
		}
	}
	return nil
}

func displayPending(w io.Writer, t *models.Task) {
	switch {
	case t.PendingQuestion != nil:
		q := t.PendingQuestion
		fmt.Fprintf(w, "  %s %s asks: %s\n", t.ShortID(), t.Name, q.Question)
		for _, o := range q.Options {
			mark := " "
			if o.Key == q.Recommended {
				mark = "*"
			}
			fmt.Fprintf(w, "    %s %s: %s\n", mark, o.Key, o.Label)
		}
		fmt.Fprintf(w, "    answer with: shepherd task answer %s <KEY or text>\n", t.ID)
	case t.SplitProposal != nil:
		sp := t.SplitProposal
		fmt.Fprintf(w, "  %s %s proposes a split into %d tasks: %s\n", t.ShortID(), t.Name, len(sp.SubTasks), sp.Reason)
		for _, st := range sp.SubTasks {
			fmt.Fprintf(w, "    - %s\n", st.Name)
		}
		fmt.Fprintf(w, "    decide with: shepherd task approve-split %s [--reject]\n", t.ID)
	default:
		fmt.Fprintf(w, "  %s %s\n", t.ShortID(), t.Name)
	}
}

func displayProcess(p *models.Process) {
	task := "-"
	if p.TaskID != "" {
		task = (&models.Task{ID: p.TaskID}).ShortID()
	}
	line := fmt.Sprintf("  %s  %-10s %-11s task %s  up %s", p.ShortID(), p.Type, p.Status, task, formatDuration(time.Since(p.StartedAt)))
	if hb := p.Heartbeat; hb != nil {
		line += fmt.Sprintf("  last beat %s ago: %s", formatDuration(time.Since(hb.At)), hb.Status)
		if hb.NextAction != "" {
			line += " -> " + hb.NextAction
		}
	}
	fmt.Println(line)
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusDone:
		return color.New(color.FgGreen)
	case models.TaskStatusNeedsInput:
		return color.New(color.FgYellow)
	case models.TaskStatusAnalysing, models.TaskStatusInProgress:
		return color.New(color.FgCyan)
	case models.TaskStatusSkipped, models.TaskStatusCancelled:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
