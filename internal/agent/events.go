package agent

import (
	"fmt"
	"time"
)

// EventKind is the closed set of interpreted worker events.
type EventKind string

const (
	// EventInit reports the worker's model and session.
	EventInit EventKind = "init"
	// EventAssistantText is a fragment of assistant prose.
	EventAssistantText EventKind = "assistant_text"
	// EventToolInvocation is a tool call made by the worker.
	EventToolInvocation EventKind = "tool_invocation"
	// EventToolResult is the outcome of a tool call.
	EventToolResult EventKind = "tool_result"
	// EventUsage is a new token usage report.
	EventUsage EventKind = "usage"
	// EventRateLimited means the worker hit a provider limit.
	EventRateLimited EventKind = "rate_limited"
	// EventTerminal is the worker's final result record.
	EventTerminal EventKind = "terminal"
	// EventUnrecognized is a line the interpreter could not classify.
	EventUnrecognized EventKind = "unrecognized"
)

// Event is one interpreted worker event. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind EventKind

	// init
	Model     string
	SessionID string

	// assistant_text
	Text string

	// tool_invocation, tool_result
	ToolName string
	Summary  string
	OK       bool

	// usage, terminal
	Usage Usage

	// rate_limited
	Message string

	// terminal
	Status   string
	Duration time.Duration
	CostUSD  float64
	IsError  bool

	// unrecognized
	Raw       string
	Throttled bool
}

// String renders the event for logs.
func (e Event) String() string {
	switch e.Kind {
	case EventInit:
		return fmt.Sprintf("init model=%s session=%s", e.Model, e.SessionID)
	case EventAssistantText:
		return "text: " + e.Text
	case EventToolInvocation:
		if e.Summary == "" {
			return "tool: " + e.ToolName
		}
		return fmt.Sprintf("tool: %s %s", e.ToolName, e.Summary)
	case EventToolResult:
		status := "ok"
		if !e.OK {
			status = "error"
		}
		return fmt.Sprintf("tool result (%s): %s", status, e.Summary)
	case EventUsage:
		return "usage: " + e.Usage.String()
	case EventRateLimited:
		return "rate limited: " + e.Message
	case EventTerminal:
		return fmt.Sprintf("terminal status=%s duration=%s cost=$%.4f %s",
			e.Status, e.Duration.Round(time.Millisecond), e.CostUSD, e.Usage.String())
	case EventUnrecognized:
		return "unrecognized: " + truncate(e.Raw, 200)
	default:
		return string(e.Kind)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
