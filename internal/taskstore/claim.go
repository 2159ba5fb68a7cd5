package taskstore

import (
	"errors"
	"io/fs"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// NextSources returns the statuses GetNext draws from, in preference order.
func NextSources(preferAnalysed bool) []models.TaskStatus {
	if preferAnalysed {
		return []models.TaskStatus{models.TaskStatusAnalysed, models.TaskStatusTodo}
	}
	return []models.TaskStatus{models.TaskStatusTodo}
}

// GetNext returns the most urgent eligible task, from analysed first when
// preferAnalysed is set, otherwise from todo. A task is eligible only when every
// dependency is done. It returns nil when nothing is eligible.
func (s *Store) GetNext(preferAnalysed bool) (*models.Task, error) {
	return s.next(NextSources(preferAnalysed), nil, nil)
}

// ClaimRequest describes an atomic retrieve-and-transition.
type ClaimRequest struct {
	// Sources are the statuses to draw from, in preference order.
	Sources []models.TaskStatus
	// Target is the status the claimed task moves to.
	Target models.TaskStatus
	// Claimant is recorded in claimed_by.
	Claimant string
	// Exclude lists task ids the caller will not take.
	Exclude []string
}

// Claim atomically selects the next eligible task from the request's sources
// and moves it to the target status. Two concurrent claimers never receive the
// same task. It returns nil when nothing is eligible.
func (s *Store) Claim(req ClaimRequest) (*models.Task, error) {
	if len(req.Sources) == 0 {
		return nil, models.Validationf("claim needs at least one source status")
	}
	for _, src := range req.Sources {
		if !models.CanTransition(src, req.Target) {
			return nil, models.InvalidTransitionf("cannot claim from %s into %s", src, req.Target)
		}
	}

	var out *models.Task
	err := s.withLock(func() error {
		t, err := s.next(req.Sources, req.Exclude, nil)
		if err != nil || t == nil {
			return err
		}
		out, err = s.transitionLocked(t.ID, req.Sources, req.Target, func(t *models.Task) error {
			t.ClaimedBy = req.Claimant
			return nil
		})
		return err
	})
	return out, err
}

// ClaimResumable atomically claims an analysing task nobody owns, which is
// where answered questions and rejected splits leave their task.
func (s *Store) ClaimResumable(claimant string, exclude []string) (*models.Task, error) {
	var out *models.Task
	err := s.withLock(func() error {
		unclaimed := func(t *models.Task) bool { return t.ClaimedBy == "" }
		t, err := s.next([]models.TaskStatus{models.TaskStatusAnalysing}, exclude, unclaimed)
		if err != nil || t == nil {
			return err
		}
		t.ClaimedBy = claimant
		t.UpdatedAt = s.now().UTC()
		if err := s.writeDoc(s.Path(models.TaskStatusAnalysing, t.ID), t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// Release clears a task's claim so it can be picked up again.
func (s *Store) Release(id string) (*models.Task, error) {
	return s.Update(id, func(t *models.Task) error {
		t.ClaimedBy = ""
		return nil
	})
}

// next scans sources in order and returns the first source's most urgent
// eligible task.
func (s *Store) next(sources []models.TaskStatus, exclude []string, keep func(*models.Task) bool) (*models.Task, error) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	done := make(map[string]bool)

	for _, status := range sources {
		tasks, err := s.listStatus(status)
		if err != nil {
			return nil, err
		}
		sortTasks(tasks)
		for _, t := range tasks {
			if skip[t.ID] || (keep != nil && !keep(t)) {
				continue
			}
			ok, err := s.dependenciesMet(t, done)
			if err != nil {
				return nil, err
			}
			if ok {
				return t, nil
			}
		}
	}
	return nil, nil
}

// dependenciesMet reports whether every dependency of t is done. Unknown
// dependency ids count as unmet. cache memoizes lookups within one scan.
func (s *Store) dependenciesMet(t *models.Task, cache map[string]bool) (bool, error) {
	for _, dep := range t.Dependencies {
		met, ok := cache[dep]
		if !ok {
			_, err := s.fs.Stat(s.Path(models.TaskStatusDone, dep))
			switch {
			case err == nil:
				met = true
			case errors.Is(err, fs.ErrNotExist):
				met = false
			default:
				return false, err
			}
			cache[dep] = met
		}
		if !met {
			return false, nil
		}
	}
	return true, nil
}

// Unblocked returns the ids of tasks in statuses whose dependencies are all done.
func (s *Store) Unblocked(statuses ...models.TaskStatus) (map[string]bool, error) {
	tasks, err := s.List(statuses...)
	if err != nil {
		return nil, err
	}
	cache := make(map[string]bool)
	out := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ok, err := s.dependenciesMet(t, cache)
		if err != nil {
			return nil, err
		}
		out[t.ID] = ok
	}
	return out, nil
}
