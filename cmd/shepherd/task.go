package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/taskstore"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

var (
	taskListStatuses []string
	taskListAll      bool
	taskShowJSON     bool
	taskSplitReject  bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "List, inspect and decide on tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in retrieval order",
	Long: `List tasks in retrieval order (priority, then age).

By default only live tasks are shown: todo, analysing, needs-input, analysed
and in-progress. Use --all for archived ones too, or --status to pick.`,
	Args: cobra.NoArgs,
	RunE: runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task",
	Long:  `Show one task. The id may be abbreviated to any unique prefix.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskImportCmd = &cobra.Command{
	Use:   "import <plan.yaml|->",
	Short: "Create tasks from a YAML plan",
	Long: `Create tasks in todo from a YAML plan:

  tasks:
    - name: Add login endpoint
      description: POST /login issuing a session cookie
      priority: 1
      acceptance_criteria:
        - returns 401 on bad credentials
    - id: docs
      name: Document the auth flow
      dependencies: [<id of another task>]

Use - to read the plan from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskImport,
}

var taskAnswerCmd = &cobra.Command{
	Use:   "answer <id> <answer>",
	Short: "Answer a task's pending question",
	Long: `Answer the question blocking a needs-input task. The answer may be one
of the option keys or free text. The task returns to analysing.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runTaskAnswer,
}

var taskApproveSplitCmd = &cobra.Command{
	Use:   "approve-split <id>",
	Short: "Approve or reject a task's split proposal",
	Long: `Approve the split proposed for a needs-input task: the task becomes split
and its sub-tasks are created in todo. With --reject the proposal is dropped
and the task returns to analysing.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskApproveSplit,
}

func init() {
	taskListCmd.Flags().StringSliceVar(&taskListStatuses, "status", nil, "Only these statuses (repeatable)")
	taskListCmd.Flags().BoolVar(&taskListAll, "all", false, "Include archived tasks")
	taskShowCmd.Flags().BoolVar(&taskShowJSON, "json", false, "Print the task document as JSON")
	taskApproveSplitCmd.Flags().BoolVar(&taskSplitReject, "reject", false, "Reject the proposal instead")

	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskImportCmd, taskAnswerCmd, taskApproveSplitCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	statuses := models.LiveTaskStatuses
	if taskListAll {
		statuses = models.AllTaskStatuses
	}
	if len(taskListStatuses) > 0 {
		statuses = nil
		for _, s := range taskListStatuses {
			st := models.TaskStatus(s)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", s)
			}
			statuses = append(statuses, st)
		}
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	tasks, err := p.store.List(statuses...)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("%s  %s  p%-2d %s\n", t.ShortID(), statusColor(t.Status).Sprintf("%-11s", t.Status), t.Priority, t.Name)
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	t, err := resolveTask(p.store, args[0])
	if err != nil {
		return err
	}
	if taskShowJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}
	printTask(cmd.OutOrStdout(), t)
	return nil
}

func printTask(w io.Writer, t *models.Task) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "%s %s\n", bold.Sprint(t.Name), color.HiBlackString(t.ID))
	fmt.Fprintf(w, "  status:   %s\n", statusColor(t.Status).Sprint(t.Status))
	fmt.Fprintf(w, "  priority: %d\n", t.Priority)
	if t.Category != "" {
		fmt.Fprintf(w, "  category: %s\n", t.Category)
	}
	if t.Effort != "" {
		fmt.Fprintf(w, "  effort:   %s\n", t.Effort)
	}
	if t.ClaimedBy != "" {
		fmt.Fprintf(w, "  claimed:  %s\n", t.ClaimedBy)
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(w, "  depends:  %s\n", strings.Join(t.Dependencies, ", "))
	}
	if t.ParentTaskID != "" {
		fmt.Fprintf(w, "  parent:   %s\n", t.ParentTaskID)
	}
	if len(t.ChildTaskIDs) > 0 {
		fmt.Fprintf(w, "  children: %s\n", strings.Join(t.ChildTaskIDs, ", "))
	}
	if t.Workspace != nil {
		fmt.Fprintf(w, "  branch:   %s (%s)\n", t.Workspace.Branch, t.Workspace.Path)
	}
	if t.Commit != nil && t.Commit.SHA != "" {
		fmt.Fprintf(w, "  commit:   %s (%d files)\n", t.Commit.SHA, len(t.Commit.FilesChanged))
	}
	if t.SkipReason != "" {
		fmt.Fprintf(w, "  reason:   %s\n", t.SkipReason)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
	printList(w, "Acceptance criteria", t.AcceptanceCriteria)
	printList(w, "Steps", t.Steps)
	if len(t.Analysis) > 0 {
		fmt.Fprintln(w, "\nAnalysis:")
		keys := make([]string, 0, len(t.Analysis))
		for k := range t.Analysis {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := json.Marshal(t.Analysis[k])
			fmt.Fprintf(w, "  %s: %s\n", k, v)
		}
	}
	for _, q := range t.ResolvedQuestions {
		fmt.Fprintf(w, "\nQ: %s\nA: %s\n", q.Question, q.Answer)
	}
	if t.PendingQuestion != nil || t.SplitProposal != nil {
		fmt.Fprintln(w)
		displayPending(w, t)
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for i, item := range items {
		fmt.Fprintf(w, "  %d. %s\n", i+1, item)
	}
}

func runTaskImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	created, err := p.store.Import(r)
	for _, t := range created {
		printStatus("✓", fmt.Sprintf("%s %s", t.ShortID(), t.Name), color.FgGreen)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d task(s).\n", len(created))
	return nil
}

func runTaskAnswer(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	t, err := resolveTask(p.store, args[0])
	if err != nil {
		return err
	}
	t, err = p.store.AnswerQuestion(t.ID, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Answered; %s is back in %s", t.ShortID(), t.Status), color.FgGreen)
	return nil
}

func runTaskApproveSplit(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	t, err := resolveTask(p.store, args[0])
	if err != nil {
		return err
	}
	parent, children, err := p.store.ApproveSplit(t.ID, !taskSplitReject)
	if err != nil {
		return err
	}
	if taskSplitReject {
		printStatus("✓", fmt.Sprintf("Split rejected; %s is back in %s", parent.ShortID(), parent.Status), color.FgGreen)
		return nil
	}
	printStatus("✓", fmt.Sprintf("Split %s into %d task(s)", parent.ShortID(), len(children)), color.FgGreen)
	for _, c := range children {
		fmt.Printf("  %s %s\n", c.ShortID(), c.Name)
	}
	return nil
}

// resolveTask finds a task by full id or unique id prefix.
func resolveTask(store *taskstore.Store, ref string) (*models.Task, error) {
	t, err := store.Get(ref)
	if err == nil || !errors.Is(err, models.ErrNotFound) {
		return t, err
	}
	all, err := store.List()
	if err != nil {
		return nil, err
	}
	var matches []*models.Task
	for _, c := range all {
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, models.NotFoundf("task %s", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("task id %q is ambiguous (%d matches)", ref, len(matches))
	}
}
