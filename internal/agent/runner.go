package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	iexec "github.com/ShayCichocki/shepherd/internal/exec"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

const (
	// DefaultCheckInterval is how often ShouldStop is polled while waiting
	// for worker output.
	DefaultCheckInterval = time.Second
	// DefaultKillGrace is how long a stopped worker gets between SIGTERM and
	// SIGKILL.
	DefaultKillGrace = 3 * time.Second

	stderrTailBytes = 8 * 1024
)

// Hooks lets the caller observe and steer a run.
type Hooks struct {
	// OnStart receives the worker pid right after it starts. An error
	// aborts the run.
	OnStart func(pid int) error
	// OnEvent receives every interpreted event in order.
	OnEvent func(Event)
	// OnText receives each flushed block of assistant text.
	OnText func(text string)
	// ShouldStop is polled at least once per CheckInterval.
	ShouldStop func() bool
}

// RunResult is what a finished worker run produced.
type RunResult struct {
	PID       int
	SessionID string
	// RateLimitMessage is the first rate-limit notice seen, empty if none.
	RateLimitMessage string
	// Terminal is the worker's final result event, nil if it never sent one.
	Terminal *Event
	Usage    Usage
	// Stopped is set when ShouldStop or ctx ended the run.
	Stopped bool
	// TimedOut is set when the run exceeded the configured timeout.
	TimedOut bool
	// ExitErr is the worker's exit error, if any.
	ExitErr    error
	StderrTail string
	Duration   time.Duration
	// Throttled counts unrecognized lines suppressed by the interpreter.
	Throttled int
}

// RateLimited reports whether the worker hit a provider limit.
func (r *RunResult) RateLimited() bool {
	return r.RateLimitMessage != ""
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	CheckInterval time.Duration
	KillGrace     time.Duration
	// Timeout bounds a single run; zero means no limit.
	Timeout     time.Duration
	Interpreter InterpreterOptions
}

// Runner spawns worker processes and streams their output through an
// Interpreter.
type Runner struct {
	opts RunnerOptions
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.CheckInterval <= 0 || opts.CheckInterval > DefaultCheckInterval {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	return &Runner{opts: opts}
}

// Run executes one worker invocation to completion, stop, or timeout. The
// error return is reserved for failures to start and for ctx cancellation;
// the worker's own exit status is reported in RunResult.ExitErr.
func (r *Runner) Run(ctx context.Context, inv Invocation, hooks Hooks) (*RunResult, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	cmd := exec.Command(inv.Executable(), inv.Args()...)
	cmd.Dir = inv.WorkDir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	iexec.ConfigureProcessGroup(cmd)
	cmd.WaitDelay = r.opts.KillGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", inv.Executable(), err)
	}
	res := &RunResult{PID: cmd.Process.Pid}

	done := make(chan struct{})
	lines := make(chan string, 64)
	go readLines(stdout, lines, done)

	exited := make(chan struct{})
	waitErr := make(chan error, 1)
	startWait := sync.OnceFunc(func() {
		go func() {
			waitErr <- cmd.Wait()
			close(exited)
		}()
	})

	if hooks.OnStart != nil {
		if err := hooks.OnStart(res.PID); err != nil {
			close(done)
			startWait()
			iexec.TerminateProcessGroup(cmd, r.opts.KillGrace, exited)
			<-exited
			return nil, fmt.Errorf("worker start hook: %w", err)
		}
	}

	interpOpts := r.opts.Interpreter
	interpOpts.Sink = hooks.OnText
	interp := NewInterpreter(interpOpts)

	ticker := time.NewTicker(r.opts.CheckInterval)
	defer ticker.Stop()
	var timeout <-chan time.Time
	if r.opts.Timeout > 0 {
		timer := time.NewTimer(r.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	handle := func(ev Event) {
		switch ev.Kind {
		case EventInit:
			if ev.SessionID != "" {
				res.SessionID = ev.SessionID
			}
		case EventRateLimited:
			if res.RateLimitMessage == "" {
				res.RateLimitMessage = ev.Message
			}
		case EventTerminal:
			term := ev
			res.Terminal = &term
		}
		if hooks.OnEvent != nil {
			hooks.OnEvent(ev)
		}
	}

read:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break read
			}
			for _, ev := range interp.Feed(line) {
				handle(ev)
			}
		case <-ticker.C:
			if hooks.ShouldStop != nil && hooks.ShouldStop() {
				res.Stopped = true
				break read
			}
		case <-ctx.Done():
			res.Stopped = true
			break read
		case <-timeout:
			res.TimedOut = true
			break read
		}
	}
	interp.Flush()
	close(done)

	startWait()
	if res.Stopped || res.TimedOut {
		log.Printf("[agent] terminating worker pid %d (stopped=%v timed_out=%v)", res.PID, res.Stopped, res.TimedOut)
		iexec.TerminateProcessGroup(cmd, r.opts.KillGrace, exited)
	}
	exitErr := <-waitErr

	if res.SessionID == "" {
		res.SessionID = interp.SessionID()
	}
	res.Usage = interp.Usage()
	if res.Terminal != nil && !res.Terminal.Usage.IsZero() {
		res.Usage = res.Terminal.Usage
	}
	res.Throttled = interp.Throttled()
	res.StderrTail = stderr.String()
	res.Duration = time.Since(start)

	switch {
	case res.TimedOut:
		res.ExitErr = fmt.Errorf("worker exceeded timeout of %s", r.opts.Timeout)
	case exitErr != nil && !res.Stopped && res.Terminal == nil && !res.RateLimited():
		res.ExitErr = fmt.Errorf("%w: %v", models.ErrProcessTerminated, exitErr)
	case exitErr != nil && !res.Stopped:
		res.ExitErr = exitErr
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// readLines scans r into out until EOF or done closes.
func readLines(r io.Reader, out chan<- string, done <-chan struct{}) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-done:
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		select {
		case <-done:
		default:
			log.Printf("[agent] read worker output: %v", err)
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
