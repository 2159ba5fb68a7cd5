// Package activity writes and reads per-process activity logs: append-only
// files with one JSON record per line.
package activity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Type classifies an activity entry.
type Type string

const (
	TypeStarted   Type = "started"
	TypeText      Type = "text"
	TypeTool      Type = "tool"
	TypeRateLimit Type = "rate_limit"
	TypeTerminal  Type = "terminal"
	TypeError     Type = "error"
	TypeStopped   Type = "stopped"
	TypeHeartbeat Type = "heartbeat"
	TypeSignal    Type = "signal"
)

// Entry is one line of an activity log.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	TaskID    string    `json:"task_id,omitempty"`
}

// Path returns the log path for a process under dir.
func Path(dir, processID string) string {
	return filepath.Join(dir, processID+".jsonl")
}

// Log appends entries to one process's activity log. It is safe for
// concurrent use within a process; each append is a single write call on an
// O_APPEND descriptor so lines from separate processes do not interleave.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open creates the log file (and its directory) if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create activity dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close activity log: %w", err)
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the file the log writes to.
func (l *Log) Path() string {
	return l.path
}

// Append writes one entry stamped with the current time.
func (l *Log) Append(typ Type, taskID, message string) error {
	return l.Write(Entry{Timestamp: l.now().UTC(), Type: typ, Message: message, TaskID: taskID})
}

// Write appends a prepared entry.
func (l *Log) Write(e Entry) error {
	if l == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal activity entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append activity entry: %w", err)
	}
	return nil
}

// Read returns every entry in the log at path. Lines that are not valid JSON
// are skipped so a torn final line never hides the rest of the log.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("read activity log: %w", err)
	}
	return entries, nil
}

// Tail returns at most the last n entries of the log at path.
func Tail(path string, n int) ([]Entry, error) {
	entries, err := Read(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Count returns how many entries of the given type the log at path holds.
func Count(path string, typ Type) (int, error) {
	entries, err := Read(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type == typ {
			n++
		}
	}
	return n, nil
}
