package taskstore

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// NeedsInput is the payload for MarkNeedsInput. Exactly one field must be set.
type NeedsInput struct {
	Question *models.Question
	Split    *models.SplitProposal
}

// MarkNeedsInput blocks an analysing task on a question or a split proposal.
// Anything left over from a prior round is cleared first.
func (s *Store) MarkNeedsInput(id string, in NeedsInput) (*models.Task, error) {
	if (in.Question == nil) == (in.Split == nil) {
		return nil, models.Validationf("exactly one of question or split proposal is required")
	}

	now := s.now().UTC()
	var question *models.Question
	var split *models.SplitProposal
	if in.Question != nil {
		q := *in.Question
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		if q.AskedAt.IsZero() {
			q.AskedAt = now
		}
		if err := q.Validate(); err != nil {
			return nil, err
		}
		question = &q
	} else {
		p := *in.Split
		if p.ProposedAt.IsZero() {
			p.ProposedAt = now
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		split = &p
	}

	var out *models.Task
	err := s.withLock(func() error {
		from := []models.TaskStatus{models.TaskStatusAnalysing}
		t, err := s.transitionLocked(id, from, models.TaskStatusNeedsInput, func(t *models.Task) error {
			t.PendingQuestion = question
			t.SplitProposal = split
			return nil
		})
		out = t
		return err
	})
	return out, err
}

// AnswerQuestion records the answer in the resolved history, clears the
// pending question and returns the task to analysing unclaimed.
func (s *Store) AnswerQuestion(id, answer string) (*models.Task, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, models.Validationf("answer must not be empty")
	}

	var out *models.Task
	err := s.withLock(func() error {
		from := []models.TaskStatus{models.TaskStatusNeedsInput}
		t, err := s.transitionLocked(id, from, models.TaskStatusAnalysing, func(t *models.Task) error {
			q := t.PendingQuestion
			if q == nil {
				return models.InvalidTransitionf("task %s has no pending question", id)
			}
			if opt, ok := q.Option(answer); ok {
				answer = opt.Key + ": " + opt.Label
			}
			t.ResolvedQuestions = append(t.ResolvedQuestions, models.ResolvedQuestion{
				ID:         q.ID,
				Question:   q.Question,
				Context:    q.Context,
				Answer:     answer,
				AnsweredAt: s.now().UTC(),
			})
			t.PendingQuestion = nil
			t.ClaimedBy = ""
			return nil
		})
		out = t
		return err
	})
	return out, err
}

// ApproveSplit resolves a split proposal. Approval creates one todo child per
// sub-task and archives the parent as split. Rejection returns the parent to
// analysing with the proposal cleared.
func (s *Store) ApproveSplit(id string, approved bool) (parent *models.Task, children []*models.Task, err error) {
	err = s.withLock(func() error {
		status, t, err := s.locate(id)
		if err != nil {
			return err
		}
		if status != models.TaskStatusNeedsInput || t.SplitProposal == nil {
			return models.InvalidTransitionf("task %s has no pending split proposal", id)
		}

		if !approved {
			parent, err = s.transitionLocked(id, nil, models.TaskStatusAnalysing, func(t *models.Task) error {
				t.SplitProposal = nil
				t.ClaimedBy = ""
				return nil
			})
			return err
		}

		now := s.now().UTC()
		pending := make([]*models.Task, 0, len(t.SplitProposal.SubTasks))
		for _, sub := range t.SplitProposal.SubTasks {
			child := &models.Task{
				ID:                 uuid.New().String(),
				Name:               sub.Name,
				Description:        sub.Description,
				Category:           firstNonEmpty(sub.Category, t.Category),
				Priority:           t.Priority,
				Effort:             sub.Effort,
				Status:             models.TaskStatusTodo,
				CreatedAt:          now,
				UpdatedAt:          now,
				AcceptanceCriteria: sub.AcceptanceCriteria,
				Steps:              sub.Steps,
				Dependencies:       append([]string(nil), t.Dependencies...),
				ParentTaskID:       t.ID,
			}
			if err := validateTask(child); err != nil {
				return fmt.Errorf("sub-task %q: %w", sub.Name, err)
			}
			pending = append(pending, child)
		}

		// Children and the parent land together or not at all.
		written := make([]string, 0, len(pending))
		rollback := func() {
			for _, cid := range written {
				if rmErr := s.fs.Remove(s.Path(models.TaskStatusTodo, cid)); rmErr != nil {
					log.Printf("[taskstore] remove partial split child %s: %v", cid, rmErr)
				}
			}
		}
		for _, child := range pending {
			if err := s.writeDoc(s.Path(models.TaskStatusTodo, child.ID), child); err != nil {
				rollback()
				return err
			}
			written = append(written, child.ID)
		}

		parent, err = s.transitionLocked(id, nil, models.TaskStatusSplit, func(t *models.Task) error {
			t.ChildTaskIDs = append(t.ChildTaskIDs, written...)
			t.SplitProposal = nil
			t.ClaimedBy = ""
			return nil
		})
		if err != nil {
			rollback()
			return err
		}
		children = pending
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return parent, children, nil
}

// MarkAnalysed stores the research document and moves the task to analysed.
func (s *Store) MarkAnalysed(id string, analysis map[string]any) (*models.Task, error) {
	return s.Transition(id, models.TaskStatusAnalysed, func(t *models.Task) error {
		if analysis != nil {
			t.Analysis = analysis
		}
		t.ClaimedBy = ""
		return nil
	})
}

// MarkDone records provenance and archives the task as done. An in-progress
// task still bound to a workspace is only flagged ready to land; whoever owns
// the workspace merges the work and archives the task with Land.
func (s *Store) MarkDone(id string, commit *models.Provenance) (*models.Task, error) {
	var out *models.Task
	err := s.withLock(func() error {
		status, t, err := s.locate(id)
		if err != nil {
			return err
		}
		if status == models.TaskStatusInProgress && t.Workspace != nil {
			now := s.now().UTC()
			t.ReadyToLand = &now
			t.LandingError = ""
			if commit != nil {
				c := *commit
				t.Commit = &c
			}
			t.UpdatedAt = now
			if err := s.writeDoc(s.Path(status, id), t); err != nil {
				return err
			}
			out = t
			return nil
		}
		out, err = s.transitionLocked(id, nil, models.TaskStatusDone, func(t *models.Task) error {
			if commit != nil {
				c := *commit
				t.Commit = &c
			}
			t.ClaimedBy = ""
			t.ReadyToLand = nil
			return nil
		})
		return err
	})
	return out, err
}

// Land archives a task flagged ready to land once its work is merged. A
// non-nil prov replaces the provenance the worker reported.
func (s *Store) Land(id string, prov *models.Provenance) (*models.Task, error) {
	var out *models.Task
	err := s.withLock(func() error {
		t, err := s.transitionLocked(id, []models.TaskStatus{models.TaskStatusInProgress}, models.TaskStatusDone, func(t *models.Task) error {
			if t.ReadyToLand == nil {
				return models.InvalidTransitionf("task %s was not marked done", id)
			}
			if prov != nil {
				c := *prov
				t.Commit = &c
			}
			t.ReadyToLand = nil
			t.LandingError = ""
			t.Workspace = nil
			t.ClaimedBy = ""
			return nil
		})
		out = t
		return err
	})
	return out, err
}

// Unland returns a task whose finished work could not be merged to analysed,
// recording reason. Its workspace binding and ready flag are cleared.
func (s *Store) Unland(id, reason string) (*models.Task, error) {
	var out *models.Task
	err := s.withLock(func() error {
		t, err := s.transitionLocked(id, []models.TaskStatus{models.TaskStatusInProgress}, models.TaskStatusAnalysed, func(t *models.Task) error {
			t.ReadyToLand = nil
			t.LandingError = reason
			t.Workspace = nil
			t.ClaimedBy = ""
			return nil
		})
		out = t
		return err
	})
	return out, err
}

// Skip archives the task as skipped with a reason.
func (s *Store) Skip(id, reason string) (*models.Task, error) {
	return s.archive(id, models.TaskStatusSkipped, reason)
}

// Cancel archives the task as cancelled with a reason.
func (s *Store) Cancel(id, reason string) (*models.Task, error) {
	return s.archive(id, models.TaskStatusCancelled, reason)
}

func (s *Store) archive(id string, to models.TaskStatus, reason string) (*models.Task, error) {
	return s.Transition(id, to, func(t *models.Task) error {
		t.SkipReason = reason
		t.PendingQuestion = nil
		t.SplitProposal = nil
		t.ClaimedBy = ""
		return nil
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
