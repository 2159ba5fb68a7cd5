package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/ShayCichocki/shepherd/internal/rpc"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

var errNoStore = errors.New("task store is not configured")

// registerTask registers a procedure that needs the task store.
func registerTask[P any](name, description string, fn func(Deps, context.Context, P) (any, error)) {
	Register(name, func(d Deps) rpc.Procedure {
		return rpc.Typed(name, description, func(ctx context.Context, p P) (any, error) {
			if d.Store == nil {
				return nil, errNoStore
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return fn(d, ctx, p)
		})
	})
}

func init() {
	registerTask("task_create", "Create a todo task. Use it to file work discovered while doing another task.", Deps.createTask)
	registerTask("task_get", "Get one task with its analysis, questions and history.", Deps.getTask)
	registerTask("task_list", "List tasks, optionally filtered by status and category, in retrieval order.", Deps.listTasks)
	registerTask("task_next", "Peek at the next eligible task without claiming it.", Deps.nextTask)
	registerTask("task_transition", "Move a task to another status when the move is legal.", Deps.transitionTask)
	registerTask("task_mark_analysed", "Finish analysis: store the findings document and mark the task analysed.", Deps.markAnalysed)
	registerTask("task_mark_done", "Finish execution: mark the task done, optionally recording the commit. Inside a loop workspace the task becomes done once the loop merges the work.", Deps.markDone)
	registerTask("task_skip", "Abandon a task with a reason.", Deps.skipTask)
	registerTask("task_ask_question", "Block an analysing task on a decision: 3 to 5 options, one recommended.", Deps.askQuestion)
	registerTask("task_propose_split", "Block an analysing task on a proposal to replace it with at least two smaller tasks.", Deps.proposeSplit)
	registerTask("task_answer_question", "Answer a task's pending question with an option key or free text.", Deps.answerQuestion)
	registerTask("task_approve_split", "Approve or reject a task's pending split proposal.", Deps.approveSplit)
}

// CreateTaskParams are the task_create params.
type CreateTaskParams struct {
	ID                 string        `json:"id,omitempty" jsonschema:"Optional id; generated when empty" validate:"max=128"`
	Name               string        `json:"name" jsonschema:"Short title" validate:"required,max=255"`
	Description        string        `json:"description,omitempty"`
	Category           string        `json:"category,omitempty"`
	Priority           int           `json:"priority,omitempty" jsonschema:"Lower is more urgent" validate:"gte=0"`
	Effort             models.Effort `json:"effort,omitempty" validate:"omitempty,oneof=XS S M L XL"`
	AcceptanceCriteria []string      `json:"acceptance_criteria,omitempty"`
	Steps              []string      `json:"steps,omitempty"`
	Dependencies       []string      `json:"dependencies,omitempty" jsonschema:"Task ids that must be done first" validate:"dive,required"`
	ParentTaskID       string        `json:"parent_task_id,omitempty"`
}

func (d Deps) createTask(_ context.Context, p CreateTaskParams) (any, error) {
	return d.Store.Create(&models.Task{
		ID:                 p.ID,
		Name:               strings.TrimSpace(p.Name),
		Description:        p.Description,
		Category:           p.Category,
		Priority:           p.Priority,
		Effort:             p.Effort,
		AcceptanceCriteria: p.AcceptanceCriteria,
		Steps:              p.Steps,
		Dependencies:       p.Dependencies,
		ParentTaskID:       p.ParentTaskID,
	})
}

// TaskIDParams identify one task.
type TaskIDParams struct {
	TaskID string `json:"task_id" validate:"required"`
}

func (d Deps) getTask(_ context.Context, p TaskIDParams) (any, error) {
	return d.Store.Get(p.TaskID)
}

// ListTasksParams are the task_list params.
type ListTasksParams struct {
	Statuses []models.TaskStatus `json:"statuses,omitempty" jsonschema:"Statuses to include; all when empty" validate:"dive,oneof=todo analysing needs-input analysed in-progress done skipped cancelled split"`
	Category string              `json:"category,omitempty"`
	Limit    int                 `json:"limit,omitempty" validate:"gte=0"`
}

// TaskSummary is the compact listing form of a task.
type TaskSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    models.TaskStatus `json:"status"`
	Priority  int               `json:"priority"`
	Effort    models.Effort     `json:"effort,omitempty"`
	Category  string            `json:"category,omitempty"`
	ClaimedBy string            `json:"claimed_by,omitempty"`
}

// ListTasksResult is the task_list result.
type ListTasksResult struct {
	Tasks  []TaskSummary             `json:"tasks"`
	Total  int                       `json:"total"`
	Counts map[models.TaskStatus]int `json:"counts"`
}

func (d Deps) listTasks(_ context.Context, p ListTasksParams) (any, error) {
	tasks, err := d.Store.List(p.Statuses...)
	if err != nil {
		return nil, err
	}
	counts, err := d.Store.Counts()
	if err != nil {
		return nil, err
	}
	out := &ListTasksResult{Tasks: []TaskSummary{}, Counts: counts}
	for _, t := range tasks {
		if p.Category != "" && !strings.EqualFold(t.Category, p.Category) {
			continue
		}
		out.Total++
		if p.Limit > 0 && len(out.Tasks) >= p.Limit {
			continue
		}
		out.Tasks = append(out.Tasks, TaskSummary{
			ID:        t.ID,
			Name:      t.Name,
			Status:    t.Status,
			Priority:  t.Priority,
			Effort:    t.Effort,
			Category:  t.Category,
			ClaimedBy: t.ClaimedBy,
		})
	}
	return out, nil
}

// NextTaskParams are the task_next params.
type NextTaskParams struct {
	PreferAnalysed bool `json:"prefer_analysed,omitempty" jsonschema:"Draw from analysed before todo"`
}

// NextTaskResult is the task_next result. Task is null when nothing is eligible.
type NextTaskResult struct {
	Task *models.Task `json:"task"`
}

func (d Deps) nextTask(_ context.Context, p NextTaskParams) (any, error) {
	t, err := d.Store.GetNext(p.PreferAnalysed)
	if err != nil {
		return nil, err
	}
	return &NextTaskResult{Task: t}, nil
}

// TransitionParams are the task_transition params.
type TransitionParams struct {
	TaskID string            `json:"task_id" validate:"required"`
	To     models.TaskStatus `json:"to" validate:"required,oneof=todo analysing needs-input analysed in-progress done skipped cancelled split"`
	// Reason is kept on skipped and cancelled tasks.
	Reason string `json:"reason,omitempty" jsonschema:"Required for skipped and cancelled"`
	// Claimant is recorded as claimed_by; empty releases the claim.
	Claimant string `json:"claimant,omitempty"`
}

func (d Deps) transitionTask(_ context.Context, p TransitionParams) (any, error) {
	switch p.To {
	case models.TaskStatusNeedsInput:
		return nil, models.Validationf("use task_ask_question or task_propose_split to block a task")
	case models.TaskStatusSplit:
		return nil, models.Validationf("use task_propose_split and task_approve_split to split a task")
	case models.TaskStatusSkipped, models.TaskStatusCancelled:
		if strings.TrimSpace(p.Reason) == "" {
			return nil, models.Validationf("reason is required to move a task to %s", p.To)
		}
		if p.To == models.TaskStatusSkipped {
			return d.Store.Skip(p.TaskID, p.Reason)
		}
		return d.Store.Cancel(p.TaskID, p.Reason)
	case models.TaskStatusDone:
		return d.Store.MarkDone(p.TaskID, nil)
	}
	return d.Store.Transition(p.TaskID, p.To, func(t *models.Task) error {
		t.ClaimedBy = p.Claimant
		return nil
	})
}

// MarkAnalysedParams are the task_mark_analysed params.
type MarkAnalysedParams struct {
	TaskID   string         `json:"task_id" validate:"required"`
	Analysis map[string]any `json:"analysis" jsonschema:"Findings: relevant files, approach, risks" validate:"required"`
}

func (d Deps) markAnalysed(_ context.Context, p MarkAnalysedParams) (any, error) {
	return d.Store.MarkAnalysed(p.TaskID, p.Analysis)
}

// MarkDoneParams are the task_mark_done params.
type MarkDoneParams struct {
	TaskID string             `json:"task_id" validate:"required"`
	Commit *models.Provenance `json:"commit,omitempty" jsonschema:"The commit that delivered the task"`
}

func (d Deps) markDone(_ context.Context, p MarkDoneParams) (any, error) {
	return d.Store.MarkDone(p.TaskID, p.Commit)
}

// SkipParams are the task_skip params.
type SkipParams struct {
	TaskID string `json:"task_id" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

func (d Deps) skipTask(_ context.Context, p SkipParams) (any, error) {
	return d.Store.Skip(p.TaskID, p.Reason)
}

// AskQuestionParams are the task_ask_question params.
type AskQuestionParams struct {
	TaskID      string          `json:"task_id" validate:"required"`
	Question    string          `json:"question" validate:"required"`
	Context     string          `json:"context,omitempty"`
	Options     []models.Option `json:"options" jsonschema:"3 to 5 labeled options" validate:"min=3,max=5,dive"`
	Recommended string          `json:"recommended" jsonschema:"Key of the recommended option" validate:"required"`
	// ProcessID marks the asking process needs-input when set.
	ProcessID string `json:"process_id,omitempty"`
}

func (d Deps) askQuestion(ctx context.Context, p AskQuestionParams) (any, error) {
	t, err := d.Store.MarkNeedsInput(p.TaskID, taskstore.NeedsInput{Question: &models.Question{
		Question:    p.Question,
		Context:     p.Context,
		Options:     p.Options,
		Recommended: p.Recommended,
	}})
	if err != nil {
		return nil, err
	}
	d.markProcessNeedsInput(ctx, p.ProcessID)
	return t, nil
}

// ProposeSplitParams are the task_propose_split params.
type ProposeSplitParams struct {
	TaskID    string           `json:"task_id" validate:"required"`
	Reason    string           `json:"reason" validate:"required"`
	SubTasks  []models.SubTask `json:"sub_tasks" jsonschema:"At least two replacement tasks" validate:"min=2,dive"`
	ProcessID string           `json:"process_id,omitempty"`
}

func (d Deps) proposeSplit(ctx context.Context, p ProposeSplitParams) (any, error) {
	t, err := d.Store.MarkNeedsInput(p.TaskID, taskstore.NeedsInput{Split: &models.SplitProposal{
		Reason:   p.Reason,
		SubTasks: p.SubTasks,
	}})
	if err != nil {
		return nil, err
	}
	d.markProcessNeedsInput(ctx, p.ProcessID)
	return t, nil
}

// markProcessNeedsInput is best effort: the task transition already happened.
func (d Deps) markProcessNeedsInput(ctx context.Context, processID string) {
	if processID == "" || d.Supervisor == nil {
		return
	}
	_ = d.Supervisor.SetStatus(ctx, processID, models.ProcessStatusNeedsInput)
}

// AnswerParams are the task_answer_question params.
type AnswerParams struct {
	TaskID string `json:"task_id" validate:"required"`
	Answer string `json:"answer" jsonschema:"An option key, or free text" validate:"required"`
}

func (d Deps) answerQuestion(_ context.Context, p AnswerParams) (any, error) {
	return d.Store.AnswerQuestion(p.TaskID, p.Answer)
}

// ApproveSplitParams are the task_approve_split params.
type ApproveSplitParams struct {
	TaskID   string `json:"task_id" validate:"required"`
	Approved bool   `json:"approved"`
}

// ApproveSplitResult is the task_approve_split result.
type ApproveSplitResult struct {
	Parent   *models.Task   `json:"parent"`
	Children []*models.Task `json:"children,omitempty"`
}

func (d Deps) approveSplit(_ context.Context, p ApproveSplitParams) (any, error) {
	parent, children, err := d.Store.ApproveSplit(p.TaskID, p.Approved)
	if err != nil {
		return nil, err
	}
	return &ApproveSplitResult{Parent: parent, Children: children}, nil
}
