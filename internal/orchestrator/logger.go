package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogFile is the name of the loop's debug log under the logs directory.
const DebugLogFile = "orchestrator-debug.log"

// DebugLogger writes timestamped lines to a file. A nil logger, or one without
// a file, discards everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// NewDebugLogger creates a logger appending to logPath, creating parent
// directories. An empty path returns a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &DebugLogger{file: f, now: time.Now}
	logger.Log("=== loop debug log started at %s (pid %d) ===", time.Now().Format(time.RFC3339), os.Getpid())
	return logger, nil
}

// NewDebugLoggerIn creates a debug logger in logsDir. It falls back to a no-op
// logger if the file cannot be opened.
func NewDebugLoggerIn(logsDir string) *DebugLogger {
	logger, err := NewDebugLogger(filepath.Join(logsDir, DebugLogFile))
	if err != nil {
		return &DebugLogger{}
	}
	return logger
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.file, "[%s] %s\n", l.now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	_ = l.file.Sync()
}

// Close closes the log file. Safe on nil and no-op loggers.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.file.Close()
	l.file = nil
	return err
}
