package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task. A task's status is the
// name of the store location that holds it.
type TaskStatus string

const (
	// TaskStatusTodo indicates the task is waiting to be picked up.
	TaskStatusTodo TaskStatus = "todo"
	// TaskStatusAnalysing indicates the research phase is underway.
	TaskStatusAnalysing TaskStatus = "analysing"
	// TaskStatusNeedsInput indicates the task is blocked on a question or split proposal.
	TaskStatusNeedsInput TaskStatus = "needs-input"
	// TaskStatusAnalysed indicates research finished and the task is ready to implement.
	TaskStatusAnalysed TaskStatus = "analysed"
	// TaskStatusInProgress indicates implementation is underway.
	TaskStatusInProgress TaskStatus = "in-progress"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusSkipped indicates the task was abandoned without completion.
	TaskStatusSkipped TaskStatus = "skipped"
	// TaskStatusCancelled indicates the task was withdrawn.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusSplit indicates the task was replaced by child tasks.
	TaskStatusSplit TaskStatus = "split"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusTodo,
	TaskStatusAnalysing,
	TaskStatusNeedsInput,
	TaskStatusAnalysed,
	TaskStatusInProgress,
	TaskStatusDone,
	TaskStatusSkipped,
	TaskStatusCancelled,
	TaskStatusSplit,
}

// LiveTaskStatuses lists the statuses a task can still move out of.
var LiveTaskStatuses = []TaskStatus{
	TaskStatusTodo,
	TaskStatusAnalysing,
	TaskStatusNeedsInput,
	TaskStatusAnalysed,
	TaskStatusInProgress,
}

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusAnalysing, TaskStatusNeedsInput, TaskStatusAnalysed,
		TaskStatusInProgress, TaskStatusDone, TaskStatusSkipped, TaskStatusCancelled, TaskStatusSplit:
		return true
	default:
		return false
	}
}

// Archived returns true for terminal statuses. Archived tasks are kept forever.
func (s TaskStatus) Archived() bool {
	switch s {
	case TaskStatusDone, TaskStatusSkipped, TaskStatusCancelled, TaskStatusSplit:
		return true
	default:
		return false
	}
}

// transitions maps each status to the statuses it may move to.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusTodo:       {TaskStatusAnalysing, TaskStatusInProgress, TaskStatusSplit, TaskStatusSkipped, TaskStatusCancelled},
	TaskStatusAnalysing:  {TaskStatusNeedsInput, TaskStatusAnalysed, TaskStatusSplit, TaskStatusSkipped, TaskStatusCancelled},
	TaskStatusNeedsInput: {TaskStatusAnalysing, TaskStatusSplit, TaskStatusCancelled},
	TaskStatusAnalysed:   {TaskStatusInProgress, TaskStatusAnalysing, TaskStatusSkipped, TaskStatusCancelled},
	TaskStatusInProgress: {TaskStatusDone, TaskStatusSkipped, TaskStatusCancelled, TaskStatusAnalysed},
}

// CanTransition reports whether a task in status from may move to status to.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Effort is the ordinal size estimate of a task.
type Effort string

const (
	EffortXS Effort = "XS"
	EffortS  Effort = "S"
	EffortM  Effort = "M"
	EffortL  Effort = "L"
	EffortXL Effort = "XL"
)

// Valid returns true if the effort is a known value.
func (e Effort) Valid() bool {
	return e.Rank() > 0
}

// Rank returns the ordinal position of the effort (XS=1 .. XL=5), or 0 if unknown.
func (e Effort) Rank() int {
	switch e {
	case EffortXS:
		return 1
	case EffortS:
		return 2
	case EffortM:
		return 3
	case EffortL:
		return 4
	case EffortXL:
		return 5
	default:
		return 0
	}
}

// Task represents a unit of work tracked through the lifecycle.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id" validate:"required,max=128"`
	// Name is the short human-readable title.
	Name string `json:"name" yaml:"name" validate:"required,max=255"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Category is a free-form classification tag.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	// Priority orders retrieval; lower values are more urgent.
	Priority int `json:"priority" yaml:"priority" validate:"gte=0"`
	// Effort is the size estimate.
	Effort Effort `json:"effort,omitempty" yaml:"effort,omitempty" validate:"omitempty,oneof=XS S M L XL"`
	// Status mirrors the store location holding the task.
	Status TaskStatus `json:"status" yaml:"status,omitempty"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	// AcceptanceCriteria defines the criteria for task completion, in order.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	// Steps lists the implementation steps, in order.
	Steps []string `json:"steps,omitempty" yaml:"steps,omitempty"`
	// Dependencies lists task IDs that must be done before this task.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,required"`

	// ParentTaskID is set on tasks created by a split.
	ParentTaskID string `json:"parent_task_id,omitempty" yaml:"parent_task_id,omitempty"`
	// ChildTaskIDs is set on a task that was split.
	ChildTaskIDs []string `json:"child_task_ids,omitempty" yaml:"child_task_ids,omitempty"`

	// Analysis is the structured context produced by the research phase.
	Analysis map[string]any `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	// PendingQuestion is the open question blocking the task, if any.
	PendingQuestion *Question `json:"pending_question,omitempty" yaml:"-"`
	// ResolvedQuestions is the history of answered questions.
	ResolvedQuestions []ResolvedQuestion `json:"resolved_questions,omitempty" yaml:"-"`
	// SplitProposal is the open split proposal blocking the task, if any.
	SplitProposal *SplitProposal `json:"split_proposal,omitempty" yaml:"-"`
	// Commit records what landed when the task was done.
	Commit *Provenance `json:"commit,omitempty" yaml:"-"`

	// ClaimedBy identifies the loop or caller working on the task.
	// Empty means the task may be picked up again.
	ClaimedBy string `json:"claimed_by,omitempty" yaml:"-"`
	// SkipReason explains why a task was skipped or cancelled.
	SkipReason string `json:"skip_reason,omitempty" yaml:"-"`
	// Workspace is the isolated workspace bound to the task while in progress.
	Workspace *WorkspaceRef `json:"workspace,omitempty" yaml:"-"`
	// ReadyToLand is set when a worker finishes a task whose workspace is
	// still bound. The task becomes done once the work is merged.
	ReadyToLand *time.Time `json:"ready_to_land,omitempty" yaml:"-"`
	// LandingError records why finished work could not be merged. The
	// branch is kept and the task returns to analysed.
	LandingError string `json:"landing_error,omitempty" yaml:"-"`
}

// ShortID returns the first 8 characters of the task ID.
func (t *Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}

// Less orders tasks by priority, then creation time, then ID.
func (t *Task) Less(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority < other.Priority
	}
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return t.ID < other.ID
}

// Option is one labeled answer to a pending question.
type Option struct {
	Key       string `json:"key" validate:"required,max=16"`
	Label     string `json:"label" validate:"required"`
	Rationale string `json:"rationale,omitempty"`
}

// Question is a decision the worker needs a human to make.
type Question struct {
	ID          string    `json:"id"`
	Question    string    `json:"question" validate:"required"`
	Context     string    `json:"context,omitempty"`
	Options     []Option  `json:"options" validate:"min=3,max=5,dive"`
	Recommended string    `json:"recommended" validate:"required"`
	AskedAt     time.Time `json:"asked_at"`
}

// Validate checks the question shape beyond struct tags: unique option keys and
// a recommended key that names one of the options.
func (q *Question) Validate() error {
	if err := ValidateStruct(q); err != nil {
		return err
	}
	seen := make(map[string]bool, len(q.Options))
	for _, opt := range q.Options {
		if seen[opt.Key] {
			return Validationf("duplicate option key %q", opt.Key)
		}
		seen[opt.Key] = true
	}
	if !seen[q.Recommended] {
		return Validationf("recommended option %q is not one of the options", q.Recommended)
	}
	return nil
}

// Option returns the option with the given key.
func (q *Question) Option(key string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return Option{}, false
}

// ResolvedQuestion is an answered question kept in the task's history.
type ResolvedQuestion struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Context    string    `json:"context,omitempty"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answered_at"`
}

// SubTask is a candidate child task in a split proposal.
type SubTask struct {
	Name               string   `json:"name" validate:"required,max=255"`
	Description        string   `json:"description,omitempty"`
	Category           string   `json:"category,omitempty"`
	Effort             Effort   `json:"effort,omitempty" validate:"omitempty,oneof=XS S M L XL"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Steps              []string `json:"steps,omitempty"`
}

// SplitProposal proposes replacing a task with smaller tasks.
type SplitProposal struct {
	Reason     string    `json:"reason" validate:"required"`
	SubTasks   []SubTask `json:"sub_tasks" validate:"min=2,dive"`
	ProposedAt time.Time `json:"proposed_at"`
}

// Validate checks the proposal's struct tags.
func (p *SplitProposal) Validate() error {
	return ValidateStruct(p)
}

// Provenance records the commit that delivered a task.
type Provenance struct {
	SHA          string     `json:"sha,omitempty"`
	Message      string     `json:"message,omitempty"`
	FilesChanged []string   `json:"files_changed,omitempty"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
}

// WorkspaceRef points at the isolated workspace bound to a task.
type WorkspaceRef struct {
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

// String returns a short description of the task for logs.
func (t *Task) String() string {
	return fmt.Sprintf("%s (%s, p%d)", t.ID, t.Name, t.Priority)
}
