package shell

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/llm"
	"github.com/forgeai/engine/internal/opstate"
	"github.com/forgeai/engine/internal/sandbox"
	"github.com/forgeai/engine/internal/toolapi"
	"github.com/forgeai/engine/internal/toolloop"
	"github.com/forgeai/engine/internal/usage"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"text": map[string]any{"type": "string"}},
		"required":             []any{"text"},
		"additionalProperties": false,
	}
}
func (echoTool) ApprovalRequirement() toolapi.ApprovalRequirement { return toolapi.ApprovalNever }
func (echoTool) EffectProfile(json.RawMessage) toolapi.EffectProfile { return toolapi.EffectReadOnly }
func (echoTool) RiskLevel(json.RawMessage) toolapi.RiskLevel        { return toolapi.RiskLow }
func (echoTool) Timeout() time.Duration                             { return 0 }
func (echoTool) Execute(_ context.Context, args json.RawMessage, _ *toolapi.Ctx) (toolapi.Result, *toolapi.Error) {
	var v struct{ Text string }
	_ = json.Unmarshal(args, &v)
	return toolapi.Result{Content: v.Text}, nil
}

// fakeStream replays a fixed event sequence, ignoring ctx cancellation.
type fakeStream struct {
	events []llm.Event
	i      int
}

func (f *fakeStream) Recv() (llm.Event, error) {
	if f.i >= len(f.events) {
		return llm.Event{}, io.EOF
	}
	ev := f.events[f.i]
	f.i++
	return ev, nil
}
func (f *fakeStream) Close() error { return nil }

// fakeProvider returns one fakeStream per call to Stream, in order.
type fakeProvider struct {
	streams []*fakeStream
	i       int
}

func (p *fakeProvider) Name() string                    { return "fake" }
func (p *fakeProvider) Credential() string               { return "" }
func (p *fakeProvider) Capabilities() llm.Capabilities   { return llm.Capabilities{} }
func (p *fakeProvider) Stream(context.Context, llm.Request) (llm.Stream, error) {
	s := p.streams[p.i]
	p.i++
	return s, nil
}

func toolUseEvents(callID, name, args string) []llm.Event {
	return []llm.Event{
		{Type: llm.EventToolCallStart, CallID: callID, ToolName: name},
		{Type: llm.EventToolCallDelta, CallID: callID, ArgsFragment: args},
		{Type: llm.EventDone},
	}
}

func newTestEngine(t *testing.T, provider llm.Provider, approve ApprovalFunc) (*Engine, *journal.StreamJournal, *journal.ToolJournal) {
	t.Helper()
	dir := t.TempDir()
	db, err := journal.Open(filepath.Join(dir, "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sj := journal.NewStreamJournal(db, nil)
	tj := journal.NewToolJournal(db, nil)

	registry := toolapi.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))

	sb, err := sandbox.New(sandbox.Config{AllowedRoots: []string{dir}})
	require.NoError(t, err)
	env, err := sandbox.NewEnvSanitizer(nil, true)
	require.NoError(t, err)

	history := llm.NewHistory()
	machine := opstate.NewMachine()
	gate := toolloop.NewGate()
	planner := toolloop.NewPlanner(registry, toolloop.Policy{Mode: toolloop.ApprovalModeDefault, Allowlist: map[string]bool{}, Denylist: map[string]bool{}}, toolloop.Limits{MaxCallsPerBatch: 8, MaxArgsBytes: 4096})
	timeouts := toolloop.Timeouts{Default: 5 * time.Second, FileOps: 5 * time.Second, ShellCommand: 5 * time.Second}
	executor := toolloop.NewExecutor(registry, tj, gate, timeouts, func(string) toolloop.TimeoutCategory { return toolloop.TimeoutDefault }, 1 << 20)
	committer := toolloop.NewCommitter(history, sj, tj, machine, gate, func(*llm.History) error { return nil })
	recorder := usage.NewRecorder(nil)

	if approve == nil {
		approve = func(context.Context, []toolloop.ApprovalRequest) (toolloop.Decision, map[string]bool) {
			return toolloop.ApproveAll, nil
		}
	}

	cfg := Config{
		Model:                        "test-model",
		SessionID:                    "sess-1",
		MaxToolIterationsPerUserTurn: 4,
		MaxOutputBytes:               1 << 20,
		Window:                       ContextWindow{Tokens: 100000, SafetyMarginTokens: 1000},
		WorkingDir:                   dir,
	}

	e := NewEngine(provider, registry, sb, env, history, sj, tj, machine, gate, planner, executor, committer, recorder,
		func(*llm.History) error { return nil }, approve, cfg)
	return e, sj, tj
}

func TestRunTurn_NoToolCallsCommitsAssistantText(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		{events: []llm.Event{{Type: llm.EventTextDelta, Text: "hi there"}, {Type: llm.EventDone}}},
	}}
	e, _, _ := newTestEngine(t, provider, nil)

	report, err := e.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "hi there", report.FinalText)
	require.Equal(t, opstate.KindIdle, e.machine.Current().Kind)

	entries := e.history.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, llm.KindUser, entries[0].Message.Kind)
	require.Equal(t, llm.KindAssistant, entries[1].Message.Kind)
}

func TestRunTurn_ToolCallExecutesAndResumes(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		{events: toolUseEvents("call_1", "echo", `{"text":"ping"}`)},
		{events: []llm.Event{{Type: llm.EventTextDelta, Text: "done"}, {Type: llm.EventDone}}},
	}}
	e, _, _ := newTestEngine(t, provider, nil)

	report, err := e.RunTurn(context.Background(), "run echo")
	require.NoError(t, err)
	require.Equal(t, "done", report.FinalText)
	require.Equal(t, 2, report.Iterations)

	entries := e.history.Entries()
	var sawToolResult bool
	for _, entry := range entries {
		if entry.Message.Kind == llm.KindToolResult {
			sawToolResult = true
			require.False(t, entry.Message.IsError)
			require.Equal(t, "ping", entry.Message.Content)
		}
	}
	require.True(t, sawToolResult)
}

func TestRunTurn_GateDisabledFailsCallsClosed(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		{events: toolUseEvents("call_1", "echo", `{"text":"ping"}`)},
		{events: []llm.Event{{Type: llm.EventTextDelta, Text: "done"}, {Type: llm.EventDone}}},
	}}
	e, _, _ := newTestEngine(t, provider, nil)
	e.gate.Disable("journal write failed")

	_, err := e.RunTurn(context.Background(), "run echo")
	require.NoError(t, err)

	var sawDisabledResult bool
	for _, entry := range e.history.Entries() {
		if entry.Message.Kind == llm.KindToolResult {
			sawDisabledResult = true
			require.True(t, entry.Message.IsError)
			require.Contains(t, entry.Message.Content, "journal write failed")
		}
	}
	require.True(t, sawDisabledResult)
}

func TestInterject_LatestReplacesPending(t *testing.T) {
	e := &Engine{}
	e.Interject("first")
	e.Interject("second")
	require.Equal(t, "second", e.DrainInterjection())
	require.Equal(t, "", e.DrainInterjection())
}

func TestRecover_NoPendingBatchReturnsNilAndIdle(t *testing.T) {
	provider := &fakeProvider{}
	e, _, _ := newTestEngine(t, provider, nil)

	pending, err := e.Recover()
	require.NoError(t, err)
	require.Nil(t, pending)
	require.Equal(t, opstate.KindIdle, e.machine.Current().Kind)
}

func TestRecover_PendingBatchSurfacedForResolution(t *testing.T) {
	provider := &fakeProvider{}
	e, sj, tj := newTestEngine(t, provider, nil)

	stepID, err := sj.BeginSession()
	require.NoError(t, err)
	_, err = tj.BeginBatch(stepID, "test-model", "running echo", "", []journal.CallRecord{
		{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text":"ping"}`)},
	})
	require.NoError(t, err)

	pending, err := e.Recover()
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, []string{"echo"}, pending.CallNames)
	require.Equal(t, opstate.KindToolRecovery, e.machine.Current().Kind)
}

func TestResolveRecovery_ResumeSynthesizesMissingResult(t *testing.T) {
	provider := &fakeProvider{}
	e, sj, tj := newTestEngine(t, provider, nil)

	stepID, err := sj.BeginSession()
	require.NoError(t, err)
	_, err = tj.BeginBatch(stepID, "test-model", "running echo", "", []journal.CallRecord{
		{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text":"ping"}`)},
	})
	require.NoError(t, err)

	_, err = e.Recover()
	require.NoError(t, err)

	outcome, err := e.ResolveRecovery(RecoveryResume)
	require.NoError(t, err)
	require.True(t, outcome.ShouldContinue)

	var found bool
	for _, entry := range e.history.Entries() {
		if entry.Message.Kind == llm.KindToolResult {
			found = true
			require.True(t, entry.Message.IsError)
			require.Contains(t, entry.Message.Content, "missing after crash")
		}
	}
	require.True(t, found)
}

func TestResolveRecovery_DiscardMarksEveryResultDiscarded(t *testing.T) {
	provider := &fakeProvider{}
	e, sj, tj := newTestEngine(t, provider, nil)

	stepID, err := sj.BeginSession()
	require.NoError(t, err)
	batchID, err := tj.BeginBatch(stepID, "test-model", "running echo", "", []journal.CallRecord{
		{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text":"ping"}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tj.RecordResult(batchID, journal.ResultRecord{CallID: "call_1", Content: "ping", IsError: false}))

	_, err = e.Recover()
	require.NoError(t, err)

	outcome, err := e.ResolveRecovery(RecoveryDiscard)
	require.NoError(t, err)
	require.True(t, outcome.ShouldContinue)

	var found bool
	for _, entry := range e.history.Entries() {
		if entry.Message.Kind == llm.KindToolResult {
			found = true
			require.True(t, entry.Message.IsError)
			require.Contains(t, entry.Message.Content, "discarded after crash")
		}
	}
	require.True(t, found)
}
