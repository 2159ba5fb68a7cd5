package agent

import (
	"fmt"
	"sync"
)

// Usage counts tokens reported by the worker.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:         u.InputTokens + o.InputTokens,
		OutputTokens:        u.OutputTokens + o.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens + o.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens + o.CacheCreationTokens,
	}
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// IsZero reports whether nothing was counted.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// String renders the usage compactly.
func (u Usage) String() string {
	return fmt.Sprintf("in:%d out:%d cache_read:%d cache_create:%d",
		u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheCreationTokens)
}

// Prefix renders the "[in:N out:M]" marker used on flushed text.
func (u Usage) Prefix() string {
	return fmt.Sprintf("[in:%d out:%d]", u.InputTokens, u.OutputTokens)
}

// AggregateUsage sums usage across several worker runs.
type AggregateUsage struct {
	mu     sync.RWMutex
	total  Usage
	cost   float64
	byTask map[string]Usage
}

// NewAggregateUsage creates an empty aggregate.
func NewAggregateUsage() *AggregateUsage {
	return &AggregateUsage{byTask: make(map[string]Usage)}
}

// Add records one run's usage and cost against taskID.
func (a *AggregateUsage) Add(taskID string, u Usage, costUSD float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = a.total.Add(u)
	a.cost += costUSD
	a.byTask[taskID] = a.byTask[taskID].Add(u)
}

// Total returns the summed usage.
func (a *AggregateUsage) Total() Usage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}

// Cost returns the summed reported cost in USD.
func (a *AggregateUsage) Cost() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cost
}

// ForTask returns the usage recorded against taskID.
func (a *AggregateUsage) ForTask(taskID string) Usage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.byTask[taskID]
}
