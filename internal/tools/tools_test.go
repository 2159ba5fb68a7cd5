package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iexec "github.com/ShayCichocki/shepherd/internal/exec"
	"github.com/ShayCichocki/shepherd/internal/rpc"
	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/internal/state"
	"github.com/ShayCichocki/shepherd/internal/supervisor"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

type fixture struct {
	deps    Deps
	reg     *rpc.Registry
	sigs    *signals.Store
	session *mcp.ClientSession

	mu   sync.Mutex
	dead map[int]bool
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := taskstore.New(afero.NewMemMapFs(), "/repo/.shepherd/tasks")
	require.NoError(t, err)
	db, err := state.OpenProject(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sigs, err := signals.New(filepath.Join(dir, "signals"))
	require.NoError(t, err)

	f := &fixture{sigs: sigs, dead: map[int]bool{}}
	sup := supervisor.New(db, supervisor.Options{
		LogDir:  filepath.Join(dir, "processes"),
		Signals: sigs,
		Probe: iexec.ProbeFunc(func(pid int) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			return pid > 0 && !f.dead[pid]
		}),
	})
	f.deps = Deps{Store: store, Supervisor: sup}
	f.reg, err = NewRegistry(f.deps)
	require.NoError(t, err)
	f.session = serve(t, f.reg)
	return f
}

// serve connects an in-memory client to a server over reg.
func serve(t *testing.T, reg *rpc.Registry) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := rpc.NewServer(reg, rpc.Options{Version: "test"}).Connect(ctx, serverT)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	cs, err := mcp.NewClient(&mcp.Implementation{Name: "tools-test", Version: "v0"}, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

// call invokes a tool. Protocol errors come back as err; failed tool results
// come back as a non-nil *rpc.ToolError.
func (f *fixture) call(t *testing.T, name string, args map[string]any) (string, *rpc.ToolError, error) {
	t.Helper()
	return callSession(t, f.session, name, args)
}

func callSession(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, *rpc.ToolError, error) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", nil, err
	}
	if te := rpc.ResultError(res); te != nil {
		return "", te, nil
	}
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, nil, nil
}

// mustCall invokes a tool that must succeed and decodes its result.
func mustCall[T any](t *testing.T, f *fixture, name string, args map[string]any) *T {
	t.Helper()
	text, te, err := f.call(t, name, args)
	require.NoError(t, err, "%s failed", name)
	require.Nil(t, te, "%s failed: %v", name, te)
	out := new(T)
	require.NoError(t, json.Unmarshal([]byte(text), out))
	return out
}

// toolError invokes a tool that must fail inside the procedure.
func (f *fixture) toolError(t *testing.T, name string, args map[string]any) *rpc.ToolError {
	t.Helper()
	_, te, err := f.call(t, name, args)
	require.NoError(t, err)
	require.NotNil(t, te, "%s succeeded", name)
	return te
}

// invalid invokes a tool whose arguments must be rejected.
func (f *fixture) invalid(t *testing.T, name string, args map[string]any) *jsonrpc.Error {
	t.Helper()
	_, _, err := f.call(t, name, args)
	require.Error(t, err)
	var wire *jsonrpc.Error
	require.True(t, errors.As(err, &wire), "error %v is not a protocol error", err)
	assert.EqualValues(t, rpc.CodeInvalidParams, wire.Code)
	return wire
}

func (f *fixture) task(t *testing.T, id string) *models.Task {
	t.Helper()
	got, err := f.deps.Store.Get(id)
	require.NoError(t, err)
	return got
}

func threeOptions() []models.Option {
	return []models.Option{
		{Key: "A", Label: "Keep the cache"},
		{Key: "B", Label: "Drop the cache"},
		{Key: "C", Label: "Make it optional"},
	}
}

func TestDiscoverRegistersEveryProcedure(t *testing.T) {
	want := []string{
		"process_get", "process_heartbeat", "process_list", "process_register", "process_signal", "process_sweep",
		"task_answer_question", "task_approve_split", "task_ask_question", "task_create", "task_get", "task_list",
		"task_mark_analysed", "task_mark_done", "task_next", "task_propose_split", "task_skip", "task_transition",
	}
	assert.Equal(t, want, Names())

	procs := Discover(Deps{})
	require.Len(t, procs, len(want))
	for i, p := range procs {
		assert.Equal(t, want[i], p.Name)
		assert.NotEmpty(t, p.Description, p.Name)
		require.NotNil(t, p.Schema, p.Name)
		assert.Equal(t, "object", p.Schema.Type, p.Name)
	}

	f := setup(t)
	listed, err := f.session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, want, names)
}

func TestSchemasDescribeParams(t *testing.T) {
	f := setup(t)
	listed, err := f.session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	schemas := map[string]*jsonschema.Schema{}
	for _, tool := range listed.Tools {
		raw, err := json.Marshal(tool.InputSchema)
		require.NoError(t, err)
		var s jsonschema.Schema
		require.NoError(t, json.Unmarshal(raw, &s))
		schemas[tool.Name] = &s
	}

	ask := schemas["task_ask_question"]
	require.NotNil(t, ask)
	assert.ElementsMatch(t, []string{"task_id", "question", "options", "recommended"}, ask.Required)
	opts := ask.Properties["options"]
	require.NotNil(t, opts)
	assert.Equal(t, "array", opts.Type)
	assert.ElementsMatch(t, []string{"key", "label"}, opts.Items.Required)
	assert.Equal(t, "Key of the recommended option", ask.Properties["recommended"].Description)

	list := schemas["task_list"]
	require.NotNil(t, list)
	assert.Contains(t, list.Properties["statuses"].Items.Enum, "needs-input")
	assert.Empty(t, list.Required)

	signal := schemas["process_signal"]
	require.NotNil(t, signal)
	assert.Equal(t, []any{"pause", "resume", "stop"}, signal.Properties["signal"].Enum)
}

func TestMissingDependencies(t *testing.T) {
	reg, err := NewRegistry(Deps{})
	require.NoError(t, err)
	cs := serve(t, reg)

	_, te, err := callSession(t, cs, "task_get", map[string]any{"task_id": "x"})
	require.NoError(t, err)
	require.NotNil(t, te)
	assert.Contains(t, te.Message, errNoStore.Error())

	_, te, err = callSession(t, cs, "process_sweep", nil)
	require.NoError(t, err)
	require.NotNil(t, te)
	assert.Contains(t, te.Message, errNoSupervisor.Error())
}

func TestQuestionRoundTrip(t *testing.T) {
	f := setup(t)
	created := mustCall[models.Task](t, f, "task_create", map[string]any{"id": "t1", "name": "Add cache", "priority": 2})
	assert.Equal(t, models.TaskStatusTodo, created.Status)

	moved := mustCall[models.Task](t, f, "task_transition", map[string]any{"task_id": "t1", "to": "analysing", "claimant": "me"})
	assert.Equal(t, "me", moved.ClaimedBy)

	f.invalid(t, "task_ask_question", map[string]any{
		"task_id": "t1", "question": "Cache?", "recommended": "A",
		"options": threeOptions()[:2],
	})

	te := f.toolError(t, "task_ask_question", map[string]any{
		"task_id": "t1", "question": "Cache?", "recommended": "Z", "options": threeOptions(),
	})
	assert.EqualValues(t, rpc.CodeInvalidParams, te.Code)

	asked := mustCall[models.Task](t, f, "task_ask_question", map[string]any{
		"task_id": "t1", "question": "Cache?", "recommended": "A", "options": threeOptions(),
	})
	assert.Equal(t, models.TaskStatusNeedsInput, asked.Status)
	require.NotNil(t, asked.PendingQuestion)

	answered := mustCall[models.Task](t, f, "task_answer_question", map[string]any{"task_id": "t1", "answer": "B"})
	assert.Equal(t, models.TaskStatusAnalysing, answered.Status)
	assert.Nil(t, answered.PendingQuestion)
	require.Len(t, answered.ResolvedQuestions, 1)
	assert.Equal(t, "B: Drop the cache", answered.ResolvedQuestions[0].Answer)
	assert.Empty(t, answered.ClaimedBy)

	analysed := mustCall[models.Task](t, f, "task_mark_analysed", map[string]any{
		"task_id": "t1", "analysis": map[string]any{"files": []string{"cache.go"}},
	})
	assert.Equal(t, models.TaskStatusAnalysed, analysed.Status)

	mustCall[models.Task](t, f, "task_transition", map[string]any{"task_id": "t1", "to": "in-progress"})
	done := mustCall[models.Task](t, f, "task_mark_done", map[string]any{
		"task_id": "t1", "commit": map[string]any{"sha": "abc123", "files_changed": []string{"cache.go"}},
	})
	assert.Equal(t, models.TaskStatusDone, done.Status)
	require.NotNil(t, done.Commit)
	assert.Equal(t, "abc123", done.Commit.SHA)
}

func TestSplitRoundTrip(t *testing.T) {
	f := setup(t)
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "big", "name": "Rewrite everything", "category": "core", "priority": 3})
	mustCall[models.Task](t, f, "task_transition", map[string]any{"task_id": "big", "to": "analysing"})

	f.invalid(t, "task_propose_split", map[string]any{
		"task_id": "big", "reason": "too big", "sub_tasks": []map[string]any{{"name": "only one"}},
	})
	f.invalid(t, "task_propose_split", map[string]any{
		"task_id": "big", "reason": "too big",
		"sub_tasks": []map[string]any{{"name": "Part one"}, {"name": strings.Repeat("x", 300)}},
	})
	assert.Nil(t, f.task(t, "big").SplitProposal)

	mustCall[models.Task](t, f, "task_propose_split", map[string]any{
		"task_id": "big", "reason": "too big",
		"sub_tasks": []map[string]any{{"name": "Part one"}, {"name": "Part two", "effort": "S"}},
	})
	assert.NotNil(t, f.task(t, "big").SplitProposal)

	res := mustCall[ApproveSplitResult](t, f, "task_approve_split", map[string]any{"task_id": "big", "approved": true})
	assert.Equal(t, models.TaskStatusSplit, res.Parent.Status)
	require.Len(t, res.Children, 2)
	for _, child := range res.Children {
		assert.Equal(t, "big", child.ParentTaskID)
		assert.Equal(t, "core", child.Category)
		assert.Equal(t, 3, child.Priority)
		assert.Equal(t, models.TaskStatusTodo, child.Status)
	}

	te := f.toolError(t, "task_approve_split", map[string]any{"task_id": "big", "approved": true})
	assert.EqualValues(t, rpc.CodeInvalidTransition, te.Code)
}

func TestRejectSplitReturnsToAnalysing(t *testing.T) {
	f := setup(t)
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "big", "name": "Rewrite"})
	mustCall[models.Task](t, f, "task_transition", map[string]any{"task_id": "big", "to": "analysing"})
	mustCall[models.Task](t, f, "task_propose_split", map[string]any{
		"task_id": "big", "reason": "too big",
		"sub_tasks": []map[string]any{{"name": "One"}, {"name": "Two"}},
	})

	res := mustCall[ApproveSplitResult](t, f, "task_approve_split", map[string]any{"task_id": "big", "approved": false})
	assert.Equal(t, models.TaskStatusAnalysing, res.Parent.Status)
	assert.Nil(t, res.Parent.SplitProposal)
	assert.Empty(t, res.Children)
}

func TestTransitionRules(t *testing.T) {
	f := setup(t)
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "t1", "name": "Task"})

	tests := []struct {
		name string
		args map[string]any
		code int64
	}{
		{"needs-input is reserved", map[string]any{"task_id": "t1", "to": "needs-input"}, rpc.CodeInvalidParams},
		{"split is reserved", map[string]any{"task_id": "t1", "to": "split"}, rpc.CodeInvalidParams},
		{"skip needs a reason", map[string]any{"task_id": "t1", "to": "skipped"}, rpc.CodeInvalidParams},
		{"todo to done is illegal", map[string]any{"task_id": "t1", "to": "done"}, rpc.CodeInvalidTransition},
		{"unknown task", map[string]any{"task_id": "nope", "to": "analysing"}, rpc.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, f.toolError(t, "task_transition", tt.args).Code)
		})
	}

	f.invalid(t, "task_transition", map[string]any{"task_id": "t1", "to": "sideways"})

	cancelled := mustCall[models.Task](t, f, "task_transition", map[string]any{"task_id": "t1", "to": "cancelled", "reason": "dup"})
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)
	assert.Equal(t, "dup", cancelled.SkipReason)
}

func TestListAndNext(t *testing.T) {
	f := setup(t)
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "low", "name": "Low", "priority": 5, "category": "docs"})
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "high", "name": "High", "priority": 1})
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "blocked", "name": "Blocked", "priority": 0, "dependencies": []string{"low"}})

	list := mustCall[ListTasksResult](t, f, "task_list", nil)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Tasks, 3)
	assert.Equal(t, "blocked", list.Tasks[0].ID)
	assert.Equal(t, 3, list.Counts[models.TaskStatusTodo])

	docs := mustCall[ListTasksResult](t, f, "task_list", map[string]any{"category": "DOCS"})
	require.Len(t, docs.Tasks, 1)
	assert.Equal(t, "low", docs.Tasks[0].ID)

	limited := mustCall[ListTasksResult](t, f, "task_list", map[string]any{"limit": 1})
	assert.Len(t, limited.Tasks, 1)
	assert.Equal(t, 3, limited.Total)

	next := mustCall[NextTaskResult](t, f, "task_next", nil)
	require.NotNil(t, next.Task)
	assert.Equal(t, "high", next.Task.ID)
	assert.Equal(t, models.TaskStatusTodo, f.task(t, "high").Status, "task_next must not claim")

	mustCall[models.Task](t, f, "task_skip", map[string]any{"task_id": "high", "reason": "obsolete"})
	mustCall[models.Task](t, f, "task_skip", map[string]any{"task_id": "low", "reason": "obsolete"})
	empty := mustCall[NextTaskResult](t, f, "task_next", nil)
	assert.Nil(t, empty.Task)
}

func TestProcessProcedures(t *testing.T) {
	f := setup(t)
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "t1", "name": "Task"})

	te := f.toolError(t, "process_register", map[string]any{"type": "analysis", "task_id": "missing"})
	assert.EqualValues(t, rpc.CodeNotFound, te.Code)

	proc := mustCall[models.Process](t, f, "process_register", map[string]any{"type": "analysis", "task_id": "t1"})
	assert.Equal(t, models.ProcessStatusStarting, proc.Status)

	beat := mustCall[models.Process](t, f, "process_heartbeat", map[string]any{
		"process_id": proc.ID, "status": "reading code", "next_action": "write analysis",
	})
	require.NotNil(t, beat.Heartbeat)
	assert.Equal(t, "reading code", beat.Heartbeat.Status)

	detail := mustCall[ProcessDetail](t, f, "process_get", map[string]any{"process_id": proc.ID})
	assert.Equal(t, proc.ID, detail.Process.ID)
	require.NotEmpty(t, detail.Activity)
	assert.Equal(t, "started", string(detail.Activity[0].Type))

	list := mustCall[ListProcessesResult](t, f, "process_list", map[string]any{"task_id": "t1"})
	require.Len(t, list.Processes, 1)

	sig := mustCall[SignalResult](t, f, "process_signal", map[string]any{"process_id": proc.ID, "signal": "pause"})
	assert.False(t, sig.Global)
	assert.True(t, f.sigs.Check(proc.ID).Paused)
	mustCall[SignalResult](t, f, "process_signal", map[string]any{"process_id": proc.ID, "signal": "resume"})
	assert.False(t, f.sigs.Check(proc.ID).Paused)

	global := mustCall[SignalResult](t, f, "process_signal", map[string]any{"signal": "stop"})
	assert.True(t, global.Global)
	assert.True(t, f.sigs.Check("").Stopped)

	f.invalid(t, "process_signal", map[string]any{"signal": "explode"})
}

func TestSweepThenHeartbeatReportsTermination(t *testing.T) {
	f := setup(t)
	proc := mustCall[models.Process](t, f, "process_register", map[string]any{"type": "execution"})

	f.mu.Lock()
	f.dead[os.Getpid()] = true
	f.mu.Unlock()

	res := mustCall[SweepResult](t, f, "process_sweep", nil)
	require.Len(t, res.Reclassified, 1)
	assert.Equal(t, proc.ID, res.Reclassified[0].ID)

	again := mustCall[SweepResult](t, f, "process_sweep", nil)
	assert.Empty(t, again.Reclassified)

	te := f.toolError(t, "process_heartbeat", map[string]any{"process_id": proc.ID, "status": "still here"})
	assert.EqualValues(t, rpc.CodeProcessTerminated, te.Code)
}

func TestAskQuestionMarksProcessNeedsInput(t *testing.T) {
	f := setup(t)
	mustCall[models.Task](t, f, "task_create", map[string]any{"id": "t1", "name": "Task"})
	mustCall[models.Task](t, f, "task_transition", map[string]any{"task_id": "t1", "to": "analysing"})
	proc := mustCall[models.Process](t, f, "process_register", map[string]any{"type": "analysis", "task_id": "t1"})

	mustCall[models.Task](t, f, "task_ask_question", map[string]any{
		"task_id": "t1", "question": "Which?", "recommended": "A", "options": threeOptions(), "process_id": proc.ID,
	})
	got, err := f.deps.Supervisor.Get(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatusNeedsInput, got.Status)
}
