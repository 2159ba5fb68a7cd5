package signals

import (
	"context"
	"time"
)

// DefaultInterval is how often a Checker re-reads markers while waiting.
const DefaultInterval = time.Second

// Checker polls the markers that apply to one process at a fixed interval.
// A wake channel (usually from a Watcher) shortens the wait when a marker
// changes, but polling alone is always sufficient.
type Checker struct {
	store     *Store
	processID string
	interval  time.Duration
	wake      <-chan struct{}
}

// NewChecker returns a Checker for global markers only.
func NewChecker(store *Store, interval time.Duration, wake <-chan struct{}) *Checker {
	if interval <= 0 || interval > DefaultInterval {
		interval = DefaultInterval
	}
	return &Checker{store: store, interval: interval, wake: wake}
}

// ForProcess returns a copy that also honors processID's markers.
func (c *Checker) ForProcess(processID string) *Checker {
	cp := *c
	cp.processID = processID
	return &cp
}

// Interval returns the polling interval.
func (c *Checker) Interval() time.Duration {
	return c.interval
}

// Check reads the markers now.
func (c *Checker) Check() State {
	if c == nil || c.store == nil {
		return State{}
	}
	return c.store.Check(c.processID)
}

// Sleep waits for d while re-checking markers every interval. It returns early
// with the state that ended the wait when a stop is requested. Pause does not
// end the sleep.
func (c *Checker) Sleep(ctx context.Context, d time.Duration) (State, error) {
	deadline := time.Now().Add(d)
	for {
		st := c.Check()
		if st.Stopped {
			return st, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return st, nil
		}
		if err := c.wait(ctx, min(remaining, c.interval)); err != nil {
			return st, err
		}
	}
}

// WaitWhilePaused blocks until no pause marker applies or a stop is
// requested. It returns immediately when not paused.
func (c *Checker) WaitWhilePaused(ctx context.Context) (State, error) {
	for {
		st := c.Check()
		if !st.Paused || st.Stopped {
			return st, nil
		}
		if err := c.wait(ctx, c.interval); err != nil {
			return st, err
		}
	}
}

func (c *Checker) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-c.wake:
	}
	return nil
}
