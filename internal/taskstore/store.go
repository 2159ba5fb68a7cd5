// Package taskstore persists task documents in a directory-per-status layout.
//
// A task lives at <root>/<status>/<id>.json. Moving the file between status
// directories is the state transition, so a task's status and location never
// disagree. Mutations are serialized by an in-process mutex and a file lock on
// <root>/.lock so several loop processes can share one store. Readers take no
// lock and tolerate documents that move while they scan.
package taskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

const (
	docExt       = ".json"
	lockFileName = ".lock"
	// readPasses bounds how many times Get rescans when a document moves mid-scan.
	readPasses = 3
)

// locker is the cross-process half of the mutation lock.
type locker interface {
	Lock() error
	Unlock() error
}

// nopLocker is used for non-OS filesystems where only this process can see the tree.
type nopLocker struct{}

func (nopLocker) Lock() error   { return nil }
func (nopLocker) Unlock() error { return nil }

// Store is a Task Store rooted at a directory.
type Store struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
	lock locker
	now  func() time.Time
}

// Open opens (creating if needed) a store on the OS filesystem.
func Open(root string) (*Store, error) {
	return New(afero.NewOsFs(), root)
}

// New creates a store on fs, creating every status directory.
// A cross-process file lock is used only when fs is the OS filesystem.
func New(fsys afero.Fs, root string) (*Store, error) {
	for _, status := range models.AllTaskStatuses {
		if err := fsys.MkdirAll(filepath.Join(root, string(status)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", status, err)
		}
	}

	s := &Store{fs: fsys, root: root, lock: nopLocker{}, now: time.Now}
	if _, ok := fsys.(*afero.OsFs); ok {
		s.lock = flock.New(filepath.Join(root, lockFileName))
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns where a task with the given status and id is stored.
func (s *Store) Path(status models.TaskStatus, id string) string {
	return filepath.Join(s.root, string(status), id+docExt)
}

// withLock runs fn while holding both the process mutex and the store file lock.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock task store: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			log.Printf("[taskstore] unlock failed: %v", err)
		}
	}()

	return fn()
}

// Create validates and stores a new task in todo. An empty ID is filled with a
// UUID. IDs must be unique across every status, archived ones included.
func (s *Store) Create(task *models.Task) (*models.Task, error) {
	t := *task
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if strings.ContainsAny(t.ID, `/\`) || strings.HasPrefix(t.ID, ".") {
		return nil, models.Validationf("task id %q is not a valid file name", t.ID)
	}
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Status = models.TaskStatusTodo
	if err := validateTask(&t); err != nil {
		return nil, err
	}

	err := s.withLock(func() error {
		if _, _, err := s.locate(t.ID); err == nil {
			return models.Validationf("task %s already exists", t.ID)
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		return s.writeDoc(s.Path(t.Status, t.ID), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get returns the task with the given id from whichever status holds it.
func (s *Store) Get(id string) (*models.Task, error) {
	for pass := 0; pass < readPasses; pass++ {
		for _, status := range models.AllTaskStatuses {
			t, err := s.readDoc(status, id)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return nil, models.NotFoundf("task %s", id)
}

// List returns tasks in the given statuses (all statuses when none are given),
// in retrieval order.
func (s *Store) List(statuses ...models.TaskStatus) ([]*models.Task, error) {
	if len(statuses) == 0 {
		statuses = models.AllTaskStatuses
	}

	seen := make(map[string]bool)
	var tasks []*models.Task
	for _, status := range statuses {
		batch, err := s.listStatus(status)
		if err != nil {
			return nil, err
		}
		for _, t := range batch {
			// A task moved between directories mid-scan can be seen twice.
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			tasks = append(tasks, t)
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

// Counts returns the number of tasks in each status.
func (s *Store) Counts() (map[models.TaskStatus]int, error) {
	counts := make(map[models.TaskStatus]int, len(models.AllTaskStatuses))
	for _, status := range models.AllTaskStatuses {
		ids, err := s.listIDs(status)
		if err != nil {
			return nil, err
		}
		counts[status] = len(ids)
	}
	return counts, nil
}

// Transition moves a task to a new status. payload, if non-nil, mutates the
// document in the same write. It fails with ErrNotFound for unknown ids and
// ErrInvalidTransition when the move is not legal.
func (s *Store) Transition(id string, to models.TaskStatus, payload func(*models.Task) error) (*models.Task, error) {
	var out *models.Task
	err := s.withLock(func() error {
		t, err := s.transitionLocked(id, nil, to, payload)
		out = t
		return err
	})
	return out, err
}

// Update mutates a task in place without changing its status.
func (s *Store) Update(id string, fn func(*models.Task) error) (*models.Task, error) {
	var out *models.Task
	err := s.withLock(func() error {
		status, t, err := s.locate(id)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		if t.ID != id || t.Status != status {
			return models.Validationf("update may not change id or status of task %s", id)
		}
		t.UpdatedAt = s.now().UTC()
		if err := validateTask(t); err != nil {
			return err
		}
		if err := s.writeDoc(s.Path(status, id), t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// transitionLocked performs a status change. When from is non-nil the task must
// currently be in one of those statuses. Callers hold the store lock.
func (s *Store) transitionLocked(id string, from []models.TaskStatus, to models.TaskStatus, payload func(*models.Task) error) (*models.Task, error) {
	current, t, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	if from != nil && !containsStatus(from, current) {
		return nil, models.InvalidTransitionf("task %s is %s, expected one of %v", id, current, from)
	}
	if !models.CanTransition(current, to) {
		return nil, models.InvalidTransitionf("task %s: %s -> %s", id, current, to)
	}

	if payload != nil {
		if err := payload(t); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	t.ID = id
	t.Status = to
	t.UpdatedAt = now
	switch {
	case to == models.TaskStatusInProgress && t.StartedAt == nil,
		to == models.TaskStatusAnalysing && t.StartedAt == nil:
		t.StartedAt = &now
	case to.Archived() && t.CompletedAt == nil:
		t.CompletedAt = &now
	}
	if err := validateTask(t); err != nil {
		return nil, err
	}

	src, dst := s.Path(current, id), s.Path(to, id)
	if err := s.fs.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("move task %s to %s: %w", id, to, err)
	}
	if err := s.writeDoc(dst, t); err != nil {
		return nil, err
	}
	return t, nil
}

// locate finds a task's current status and document. Callers hold the store
// lock, so the document cannot move underneath them.
func (s *Store) locate(id string) (models.TaskStatus, *models.Task, error) {
	for _, status := range models.AllTaskStatuses {
		t, err := s.readDoc(status, id)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return status, t, nil
	}
	return "", nil, models.NotFoundf("task %s", id)
}

// readDoc reads one document. The status is taken from the directory.
func (s *Store) readDoc(status models.TaskStatus, id string) (*models.Task, error) {
	data, err := afero.ReadFile(s.fs, s.Path(status, id))
	if err != nil {
		return nil, err
	}
	var t models.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	t.ID = id
	t.Status = status
	return &t, nil
}

// writeDoc atomically replaces path with the encoded task using a temp file in
// the same directory.
func (s *Store) writeDoc(path string, t *models.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(s.fs, dir, "."+t.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for task %s: %w", t.ID, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write task %s: %w", t.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync task %s: %w", t.ID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close task %s: %w", t.ID, err)
	}
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod task %s: %w", t.ID, err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace task %s: %w", t.ID, err)
	}
	return nil
}

// listIDs returns the ids of the documents in one status directory.
func (s *Store) listIDs(status models.TaskStatus) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, filepath.Join(s.root, string(status)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", status, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, docExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, docExt))
	}
	return ids, nil
}

// listStatus reads every document in one status directory, skipping ones that
// vanish between listing and reading.
func (s *Store) listStatus(status models.TaskStatus) ([]*models.Task, error) {
	ids, err := s.listIDs(status)
	if err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.readDoc(status, id)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			log.Printf("[taskstore] skipping %s/%s: %v", status, id, err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func validateTask(t *models.Task) error {
	if err := models.ValidateStruct(t); err != nil {
		return err
	}
	if t.PendingQuestion != nil && t.SplitProposal != nil {
		return models.Validationf("task %s has both a pending question and a split proposal", t.ID)
	}
	if t.Status == models.TaskStatusNeedsInput && t.PendingQuestion == nil && t.SplitProposal == nil {
		return models.Validationf("task %s needs input but has neither a question nor a split proposal", t.ID)
	}
	return nil
}

func sortTasks(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Less(tasks[j])
	})
}

func containsStatus(list []models.TaskStatus, s models.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
