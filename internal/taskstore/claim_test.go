package taskstore

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

func TestGetNext_Priority(t *testing.T) {
	s := setupStore(t)
	createTask(t, s, models.Task{ID: "T1", Name: "low urgency", Priority: 5})
	createTask(t, s, models.Task{ID: "T2", Name: "high urgency", Priority: 1})

	got, err := s.GetNext(false)
	if err != nil {
		t.Fatalf("GetNext error = %v", err)
	}
	if got == nil || got.ID != "T2" {
		t.Fatalf("GetNext = %v, want T2", got)
	}
}

func TestGetNext_TieBreakByCreation(t *testing.T) {
	s := setupStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	createTask(t, s, models.Task{ID: "late", Name: "late", Priority: 1, CreatedAt: base.Add(time.Second)})
	createTask(t, s, models.Task{ID: "early", Name: "early", Priority: 1, CreatedAt: base})

	got, _ := s.GetNext(false)
	if got == nil || got.ID != "early" {
		t.Fatalf("GetNext = %v, want early", got)
	}
}

func TestGetNext_SkipsUnmetDependencies(t *testing.T) {
	s := setupStore(t)
	createTask(t, s, models.Task{ID: "T4", Name: "dependency", Priority: 9})
	createTask(t, s, models.Task{ID: "T3", Name: "dependent", Priority: 0, Dependencies: []string{"T4"}})
	createTask(t, s, models.Task{ID: "T6", Name: "other", Priority: 7})
	if _, err := s.Transition("T4", models.TaskStatusInProgress, nil); err != nil {
		t.Fatalf("Transition error = %v", err)
	}

	got, err := s.GetNext(false)
	if err != nil {
		t.Fatalf("GetNext error = %v", err)
	}
	if got == nil || got.ID != "T6" {
		t.Fatalf("GetNext = %v, want T6 while T4 is in progress", got)
	}

	if _, err := s.MarkDone("T4", nil); err != nil {
		t.Fatalf("MarkDone error = %v", err)
	}
	got, _ = s.GetNext(false)
	if got == nil || got.ID != "T3" {
		t.Fatalf("GetNext = %v, want T3 once T4 is done", got)
	}
}

func TestGetNext_MissingDependencyIsUnmet(t *testing.T) {
	s := setupStore(t)
	createTask(t, s, models.Task{ID: "orphan", Name: "orphan", Dependencies: []string{"ghost"}})

	got, err := s.GetNext(false)
	if err != nil {
		t.Fatalf("GetNext error = %v", err)
	}
	if got != nil {
		t.Errorf("GetNext = %v, want nil", got)
	}
}

func TestGetNext_PreferAnalysed(t *testing.T) {
	s := setupStore(t)
	createTask(t, s, models.Task{ID: "todo-urgent", Name: "todo", Priority: 0})
	createTask(t, s, models.Task{ID: "ready", Name: "ready", Priority: 5})
	if _, err := s.Transition("ready", models.TaskStatusAnalysing, nil); err != nil {
		t.Fatalf("Transition error = %v", err)
	}
	if _, err := s.MarkAnalysed("ready", map[string]any{"files": []string{"a.go"}}); err != nil {
		t.Fatalf("MarkAnalysed error = %v", err)
	}

	got, _ := s.GetNext(true)
	if got == nil || got.ID != "ready" {
		t.Fatalf("GetNext(true) = %v, want ready", got)
	}
	got, _ = s.GetNext(false)
	if got == nil || got.ID != "todo-urgent" {
		t.Fatalf("GetNext(false) = %v, want todo-urgent", got)
	}
}

func TestGetNext_Empty(t *testing.T) {
	s := setupStore(t)
	got, err := s.GetNext(true)
	if err != nil || got != nil {
		t.Errorf("GetNext on empty store = %v, %v; want nil, nil", got, err)
	}
}

func TestClaim(t *testing.T) {
	s := setupStore(t)
	createTask(t, s, models.Task{ID: "t1", Name: "one", Priority: 1})
	createTask(t, s, models.Task{ID: "t2", Name: "two", Priority: 2})

	got, err := s.Claim(ClaimRequest{
		Sources:  NextSources(false),
		Target:   models.TaskStatusAnalysing,
		Claimant: "proc-1",
		Exclude:  []string{"t1"},
	})
	if err != nil {
		t.Fatalf("Claim error = %v", err)
	}
	if got == nil || got.ID != "t2" {
		t.Fatalf("Claim = %v, want t2", got)
	}
	if got.ClaimedBy != "proc-1" {
		t.Errorf("ClaimedBy = %q, want proc-1", got.ClaimedBy)
	}
	assertSingleLocation(t, s, "t2", models.TaskStatusAnalysing)

	_, err = s.Claim(ClaimRequest{Sources: []models.TaskStatus{models.TaskStatusTodo}, Target: models.TaskStatusDone})
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Claim into done error = %v, want ErrInvalidTransition", err)
	}
}

func TestClaimResumable(t *testing.T) {
	s := setupStore(t)
	createTask(t, s, models.Task{ID: "t1", Name: "one"})
	if _, err := s.Claim(ClaimRequest{Sources: NextSources(false), Target: models.TaskStatusAnalysing, Claimant: "proc-1"}); err != nil {
		t.Fatalf("Claim error = %v", err)
	}

	got, err := s.ClaimResumable("proc-2", nil)
	if err != nil {
		t.Fatalf("ClaimResumable error = %v", err)
	}
	if got != nil {
		t.Fatalf("ClaimResumable took a claimed task: %v", got)
	}

	if _, err := s.Release("t1"); err != nil {
		t.Fatalf("Release error = %v", err)
	}
	if got, _ := s.ClaimResumable("proc-2", []string{"t1"}); got != nil {
		t.Fatalf("ClaimResumable ignored exclude: %v", got)
	}
	got, err = s.ClaimResumable("proc-2", nil)
	if err != nil || got == nil {
		t.Fatalf("ClaimResumable = %v, %v; want t1", got, err)
	}
	if got.ClaimedBy != "proc-2" {
		t.Errorf("ClaimedBy = %q, want proc-2", got.ClaimedBy)
	}
	assertSingleLocation(t, s, "t1", models.TaskStatusAnalysing)
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tasks")
	first, err := Open(root)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	createTask(t, first, models.Task{ID: "only", Name: "contended"})

	// Separate stores hold separate lock handles, like separate processes.
	const claimers = 8
	stores := make([]*Store, claimers)
	for i := range stores {
		stores[i], err = Open(root)
		if err != nil {
			t.Fatalf("Open error = %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			got, err := s.Claim(ClaimRequest{
				Sources:  NextSources(true),
				Target:   models.TaskStatusInProgress,
				Claimant: "racer",
			})
			if err != nil {
				t.Errorf("Claim error = %v", err)
				return
			}
			if got != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(stores[i])
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	assertSingleLocation(t, first, "only", models.TaskStatusInProgress)
}
