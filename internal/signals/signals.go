// Package signals implements level-triggered control signals as marker files.
//
// A marker's presence means the signal is active. Global markers live directly
// in the signals directory; per-process markers live in a subdirectory named
// after the process id. Consumers poll: Check reads the markers on every call
// and never caches, so a marker set by any writer is seen on the next check.
package signals

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind names a control signal.
type Kind string

const (
	Pause Kind = "pause"
	Stop  Kind = "stop"
)

// Valid returns true for known kinds.
func (k Kind) Valid() bool {
	return k == Pause || k == Stop
}

// State is the combined view of global and per-process markers.
type State struct {
	Paused  bool
	Stopped bool
}

// Marker describes one active signal.
type Marker struct {
	Kind      Kind
	ProcessID string // empty for global markers
	SetAt     time.Time
}

// Store reads and writes markers under one directory.
type Store struct {
	dir string
	now func() time.Time
}

// New returns a Store rooted at dir, creating the directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the signals directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(processID string, kind Kind) string {
	if processID == "" {
		return filepath.Join(s.dir, string(kind))
	}
	return filepath.Join(s.dir, processID, string(kind))
}

// Set activates a signal. An empty processID targets every process.
func (s *Store) Set(processID string, kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown signal %q", kind)
	}
	p := s.path(processID, kind)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create signal dir: %w", err)
	}
	stamp := s.now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(p, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write %s marker: %w", kind, err)
	}
	return nil
}

// Clear removes a signal marker. Clearing an absent marker is not an error.
func (s *Store) Clear(processID string, kind Kind) error {
	if err := os.Remove(s.path(processID, kind)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear %s marker: %w", kind, err)
	}
	return nil
}

// Resume clears the pause and stop markers.
func (s *Store) Resume(processID string) error {
	if err := s.Clear(processID, Pause); err != nil {
		return err
	}
	return s.Clear(processID, Stop)
}

// ClearProcess removes every per-process marker for processID.
func (s *Store) ClearProcess(processID string) error {
	if processID == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(s.dir, processID)); err != nil {
		return fmt.Errorf("clear process signals: %w", err)
	}
	return nil
}

// Check reports the signals that apply to processID: global markers always
// apply, per-process markers only when processID is non-empty.
func (s *Store) Check(processID string) State {
	st := State{
		Paused:  s.exists("", Pause),
		Stopped: s.exists("", Stop),
	}
	if processID != "" {
		st.Paused = st.Paused || s.exists(processID, Pause)
		st.Stopped = st.Stopped || s.exists(processID, Stop)
	}
	return st
}

func (s *Store) exists(processID string, kind Kind) bool {
	_, err := os.Stat(s.path(processID, kind))
	return err == nil
}

// Active lists every marker currently present, global markers first.
func (s *Store) Active() ([]Marker, error) {
	var markers []Marker
	for _, kind := range []Kind{Pause, Stop} {
		if m, ok := s.read("", kind); ok {
			markers = append(markers, m)
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return markers, nil
		}
		return nil, fmt.Errorf("read signals dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, kind := range []Kind{Pause, Stop} {
			if m, ok := s.read(id, kind); ok {
				markers = append(markers, m)
			}
		}
	}
	return markers, nil
}

func (s *Store) read(processID string, kind Kind) (Marker, bool) {
	p := s.path(processID, kind)
	info, err := os.Stat(p)
	if err != nil {
		return Marker{}, false
	}
	m := Marker{Kind: kind, ProcessID: processID, SetAt: info.ModTime()}
	if data, err := os.ReadFile(p); err == nil {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data))); err == nil {
			m.SetAt = t
		}
	}
	return m, true
}
