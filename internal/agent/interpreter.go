package agent

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Defaults for unrecognized-line throttling.
const (
	DefaultUnrecognizedBurst    = 3
	DefaultUnrecognizedInterval = 2 * time.Second
)

// rateLimitTextMax bounds how long prose may be and still count as a rate
// limit notice. Longer assistant text that mentions limits is just prose.
const rateLimitTextMax = 300

// InterpreterOptions configures an Interpreter.
type InterpreterOptions struct {
	// UnrecognizedBurst lines are always reported before throttling starts.
	UnrecognizedBurst int
	// UnrecognizedInterval is the minimum gap between reported lines once
	// the burst is used up.
	UnrecognizedInterval time.Duration
	// Sink receives each flushed, rendered block of assistant text.
	Sink func(text string)
	// Now overrides the clock used for throttling.
	Now func() time.Time
}

// Interpreter turns the worker's stream-json lines into Events. It is
// synchronous and does no I/O of its own; flushed text goes to the Sink.
type Interpreter struct {
	burst    int
	interval time.Duration
	sink     func(string)
	now      func() time.Time

	usage        Usage
	seenMessages map[string]bool
	text         strings.Builder
	sessionID    string
	model        string

	unrecognized int
	throttled    int
	lastReported time.Time
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(opts InterpreterOptions) *Interpreter {
	if opts.UnrecognizedBurst < 0 {
		opts.UnrecognizedBurst = 0
	}
	if opts.UnrecognizedInterval <= 0 {
		opts.UnrecognizedInterval = DefaultUnrecognizedInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Interpreter{
		burst:        opts.UnrecognizedBurst,
		interval:     opts.UnrecognizedInterval,
		sink:         opts.Sink,
		now:          opts.Now,
		seenMessages: make(map[string]bool),
	}
}

// Usage returns the tokens counted so far.
func (in *Interpreter) Usage() Usage {
	return in.usage
}

// SessionID returns the session id reported by the worker, if any.
func (in *Interpreter) SessionID() string {
	return in.sessionID
}

// Throttled returns how many unrecognized lines were suppressed.
func (in *Interpreter) Throttled() int {
	return in.throttled
}

// record is the subset of a stream-json line the interpreter reads.
type record struct {
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype"`
	SessionID    string          `json:"session_id"`
	Model        string          `json:"model"`
	Message      json.RawMessage `json:"message"`
	Result       string          `json:"result"`
	IsError      bool            `json:"is_error"`
	DurationMS   float64         `json:"duration_ms"`
	TotalCostUSD float64         `json:"total_cost_usd"`
	CostUSD      float64         `json:"cost_usd"`
	Usage        *Usage          `json:"usage"`
	Error        json.RawMessage `json:"error"`
}

type message struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *Usage          `json:"usage"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
	ToolUseID string          `json:"tool_use_id"`
}

// Feed interprets one line of worker output.
func (in *Interpreter) Feed(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var rec record
	if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &rec) != nil {
		if looksRateLimited(line) {
			return []Event{{Kind: EventRateLimited, Message: line}}
		}
		return []Event{in.unrecognizedEvent(line)}
	}
	if rec.SessionID != "" {
		in.sessionID = rec.SessionID
	}

	switch rec.Type {
	case "system":
		return in.system(rec)
	case "assistant":
		return in.assistant(rec, line)
	case "user":
		return in.user(rec)
	case "result":
		return in.result(rec)
	case "error":
		msg := errorText(rec.Error)
		if msg == "" {
			msg = line
		}
		if looksRateLimited(line) {
			return []Event{{Kind: EventRateLimited, Message: msg}}
		}
		return []Event{in.unrecognizedEvent(line)}
	default:
		if looksRateLimited(line) {
			return []Event{{Kind: EventRateLimited, Message: line}}
		}
		return []Event{in.unrecognizedEvent(line)}
	}
}

// Flush renders accumulated assistant text, hands it to the Sink and returns
// it. Nothing is delivered when no text is pending.
func (in *Interpreter) Flush() string {
	text := strings.TrimSpace(in.text.String())
	in.text.Reset()
	if text == "" {
		return ""
	}
	if in.usage.Total() > 0 {
		text = in.usage.Prefix() + " " + text
	}
	if in.sink != nil {
		in.sink(text)
	}
	return text
}

func (in *Interpreter) system(rec record) []Event {
	if rec.Subtype != "init" {
		return nil
	}
	if rec.Model != "" {
		in.model = rec.Model
	}
	return []Event{{Kind: EventInit, Model: rec.Model, SessionID: rec.SessionID}}
}

func (in *Interpreter) assistant(rec record, raw string) []Event {
	var msg message
	if len(rec.Message) == 0 || json.Unmarshal(rec.Message, &msg) != nil {
		return []Event{in.unrecognizedEvent(raw)}
	}
	blocks := decodeBlocks(msg.Content)

	var prose []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			prose = append(prose, b.Text)
		}
	}
	if joined := strings.Join(prose, "\n"); isRateLimitNotice(joined) || (len(rec.Error) > 0 && looksRateLimited(string(rec.Error))) {
		msgText := joined
		if msgText == "" {
			msgText = errorText(rec.Error)
		}
		return []Event{{Kind: EventRateLimited, Message: msgText}}
	}

	var events []Event
	if msg.Usage != nil && (msg.ID == "" || !in.seenMessages[msg.ID]) {
		if msg.ID != "" {
			in.seenMessages[msg.ID] = true
		}
		in.usage = in.usage.Add(*msg.Usage)
		events = append(events, Event{Kind: EventUsage, Usage: *msg.Usage})
	}

	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text == "" {
				continue
			}
			if in.text.Len() > 0 {
				in.text.WriteString("\n")
			}
			in.text.WriteString(b.Text)
			events = append(events, Event{Kind: EventAssistantText, Text: b.Text})
		case "tool_use", "server_tool_use":
			in.Flush()
			events = append(events, Event{
				Kind:     EventToolInvocation,
				ToolName: b.Name,
				Summary:  summarizeToolInput(b.Name, b.Input),
			})
		}
	}
	return events
}

func (in *Interpreter) user(rec record) []Event {
	var msg message
	if len(rec.Message) == 0 || json.Unmarshal(rec.Message, &msg) != nil {
		return nil
	}
	blocks := decodeBlocks(msg.Content)
	for _, b := range blocks {
		if b.Type != "tool_result" || !b.IsError {
			continue
		}
		// A sub-agent that hits the account limit reports it as a failed tool call.
		if text := toolResultText(b.Content); isRateLimitNotice(text) {
			return []Event{{Kind: EventRateLimited, Message: strings.TrimSpace(text)}}
		}
	}

	var events []Event
	for _, b := range blocks {
		if b.Type != "tool_result" {
			continue
		}
		in.Flush()
		events = append(events, Event{
			Kind:    EventToolResult,
			OK:      !b.IsError,
			Summary: summarizeToolResult(b.Content),
		})
	}
	return events
}

func (in *Interpreter) result(rec record) []Event {
	if (rec.IsError && looksRateLimited(rec.Result)) || isRateLimitNotice(rec.Result) {
		return []Event{{Kind: EventRateLimited, Message: rec.Result}}
	}
	in.Flush()

	usage := in.usage
	if rec.Usage != nil && !rec.Usage.IsZero() {
		usage = *rec.Usage
	}
	cost := rec.TotalCostUSD
	if cost == 0 {
		cost = rec.CostUSD
	}
	status := rec.Subtype
	if status == "" {
		status = "success"
		if rec.IsError {
			status = "error"
		}
	}
	return []Event{{
		Kind:     EventTerminal,
		Status:   status,
		Duration: time.Duration(rec.DurationMS * float64(time.Millisecond)),
		CostUSD:  cost,
		Usage:    usage,
		IsError:  rec.IsError,
		Message:  rec.Result,
	}}
}

func (in *Interpreter) unrecognizedEvent(raw string) Event {
	in.unrecognized++
	now := in.now()
	report := in.unrecognized <= in.burst || in.lastReported.IsZero() || now.Sub(in.lastReported) >= in.interval
	if report {
		in.lastReported = now
	} else {
		in.throttled++
	}
	return Event{Kind: EventUnrecognized, Raw: raw, Throttled: !report}
}

// decodeBlocks accepts either a content array or a bare string.
func decodeBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return []contentBlock{{Type: "text", Text: s}}
	}
	return nil
}

// errorText extracts a message from an error field that may be a string or
// an object with a message.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Type
	}
	return string(raw)
}

// summarizeToolInput renders a short description of a tool call's target.
func summarizeToolInput(name string, input map[string]any) string {
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}
	switch name {
	case "Read", "Edit", "Write", "MultiEdit", "NotebookEdit":
		if p := str("file_path"); p != "" {
			return shortPath(p)
		}
		if p := str("notebook_path"); p != "" {
			return shortPath(p)
		}
	case "Bash":
		return firstLine(str("command"), 80)
	case "Glob", "Grep":
		return truncate(str("pattern"), 60)
	case "WebFetch":
		return truncate(str("url"), 80)
	case "WebSearch":
		return truncate(str("query"), 80)
	case "Task":
		return truncate(str("description"), 80)
	case "TodoWrite":
		if todos, ok := input["todos"].([]any); ok {
			return pluralize(len(todos), "todo")
		}
	}
	return ""
}

// summarizeToolResult returns the first line of a tool result's content.
func summarizeToolResult(raw json.RawMessage) string {
	for _, b := range decodeBlocks(raw) {
		if b.Text != "" {
			return firstLine(b.Text, 120)
		}
	}
	return ""
}

func toolResultText(raw json.RawMessage) string {
	var parts []string
	for _, b := range decodeBlocks(raw) {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func shortPath(p string) string {
	dir, file := filepath.Split(filepath.Clean(p))
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) || parent == "" {
		return file
	}
	return filepath.Join(parent, file)
}

func firstLine(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	return truncate(s, n)
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
