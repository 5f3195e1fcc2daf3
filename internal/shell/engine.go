// Package shell implements the App Shell (spec.md §4.9): the top-level
// driver that moves the Operation State Machine between states, owns the per-turn loop from
// a user message through streaming, tool planning/approval/execution, and
// commit, and exposes Interject for mid-turn user messages. Grounded on the
// teacher's internal/llm/engine.go Engine/runLoop/executeToolCalls, the
// generalization being spec.md's explicit planning/approval/execute/commit
// pipeline (internal/toolloop) in place of the teacher's single "run every
// call" pass.
package shell

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/llm"
	"github.com/forgeai/engine/internal/opstate"
	"github.com/forgeai/engine/internal/sandbox"
	"github.com/forgeai/engine/internal/stream"
	"github.com/forgeai/engine/internal/toolapi"
	"github.com/forgeai/engine/internal/toolloop"
	"github.com/forgeai/engine/internal/usage"
)

// ApprovalFunc resolves a parked batch's approval requests to a Decision,
// per spec.md §4.8.5. The CLI/TUI layer supplies this; shell never decides
// policy itself.
type ApprovalFunc func(ctx context.Context, requests []toolloop.ApprovalRequest) (toolloop.Decision, map[string]bool)

// ContextWindow describes the model's context window for ContextBudget
// construction (SPEC_FULL.md §3's context-usage heuristic).
type ContextWindow struct {
	Tokens            int
	SafetyMarginTokens int
}

// Config bundles everything the engine needs beyond its collaborators.
type Config struct {
	Model                        string
	SessionID                    string
	MaxToolIterationsPerUserTurn int
	MaxOutputBytes               int
	Window                       ContextWindow
	WorkingDir                   string
	CommandDeny                  []string
}

// Engine drives one conversation's turns to completion, per spec.md §4.8/4.9.
// Not goroutine-safe beyond Interject, matching the single-threaded
// cooperative loop spec.md §5 describes — Interject is the one entry point
// another goroutine (a TUI input handler) is expected to call concurrently.
type Engine struct {
	provider llm.Provider
	registry *toolapi.Registry
	sandbox  *sandbox.Sandbox
	env      *sandbox.EnvSanitizer

	history       *llm.History
	streamJournal *journal.StreamJournal
	toolJournal   *journal.ToolJournal
	machine       *opstate.Machine
	gate          *toolloop.Gate
	planner       *toolloop.Planner
	executor      *toolloop.Executor
	committer     *toolloop.Committer
	recorder      *usage.Recorder
	autosave      toolloop.AutosaveFunc
	approve       ApprovalFunc

	cfg Config

	interjectMu  sync.Mutex
	interjection chan string

	pendingRecoveryBatch *journal.PendingBatch
}

func NewEngine(
	provider llm.Provider,
	registry *toolapi.Registry,
	sb *sandbox.Sandbox,
	env *sandbox.EnvSanitizer,
	history *llm.History,
	streamJournal *journal.StreamJournal,
	toolJournal *journal.ToolJournal,
	machine *opstate.Machine,
	gate *toolloop.Gate,
	planner *toolloop.Planner,
	executor *toolloop.Executor,
	committer *toolloop.Committer,
	recorder *usage.Recorder,
	autosave toolloop.AutosaveFunc,
	approve ApprovalFunc,
	cfg Config,
) *Engine {
	return &Engine{
		provider: provider, registry: registry, sandbox: sb, env: env,
		history: history, streamJournal: streamJournal, toolJournal: toolJournal,
		machine: machine, gate: gate, planner: planner, executor: executor,
		committer: committer, recorder: recorder, autosave: autosave,
		approve: approve, cfg: cfg,
	}
}

// TurnReport summarizes one call to RunTurn for the CLI layer to render.
type TurnReport struct {
	FinalText      string
	Iterations     int
	TouchedFiles   []string
	TotalUsage     usage.Entry
}

// RunTurn appends userText to history (if non-empty — a resumed recovery
// turn may have none to add) and drives the tool loop to completion, per
// spec.md §4.8: stream, plan, resolve approvals, execute, commit, repeat
// until the model stops requesting tools or the per-turn iteration cap is
// reached (the batch planned at the cap has every call pre-resolved to an
// error; it is committed and the turn ends).
func (e *Engine) RunTurn(ctx context.Context, userText string) (TurnReport, error) {
	if userText != "" {
		e.history.Append(llm.NewUserMessage(userText), 0)
	}

	changes := toolapi.NewChangeRecorder()
	fileCache := toolapi.NewFileCache()
	budget := toolloop.NewContextBudget(e.cfg.Window.Tokens, e.estimateUsedTokens(), e.cfg.Window.SafetyMarginTokens)

	report := TurnReport{}

	for iteration := 0; ; iteration++ {
		if iteration > 0 {
			if text := e.DrainInterjection(); text != "" {
				e.history.Append(llm.NewUserMessage(text), 0)
			}
		}

		stepID, err := e.streamJournal.BeginSession()
		if err != nil {
			return report, fmt.Errorf("shell: begin stream session: %w", err)
		}
		e.machine.Transition(opstate.Streaming(stepID))

		req := e.buildRequest()
		providerStream, err := e.provider.Stream(ctx, req)
		if err != nil {
			e.machine.Transition(opstate.Idle())
			return report, fmt.Errorf("shell: start stream: %w", err)
		}

		controller := stream.New(e.streamJournal, stepID)
		result := controller.Run(ctx, providerStream)
		_ = providerStream.Close()

		e.recorder.Record(e.cfg.SessionID, e.cfg.Model, result.Usage)

		switch result.Outcome {
		case stream.OutcomeErrored, stream.OutcomeAborted:
			e.machine.Transition(opstate.Idle())
			if result.Text != "" {
				e.history.Append(llm.NewAssistantMessage(result.Text+"\n[turn ended early: "+errString(result.Err)+"]", e.cfg.Model), 0)
				_ = e.autosave(e.history)
			}
			report.FinalText = result.Text
			return report, result.Err

		case stream.OutcomePlaceholder:
			e.machine.Transition(opstate.Idle())
			report.FinalText = "[no response]"
			return report, nil
		}

		if len(result.PendingToolCalls) == 0 {
			e.machine.Transition(opstate.Idle())
			e.history.Append(llm.NewAssistantMessage(result.Text, e.cfg.Model), 0)
			if err := e.autosave(e.history); err != nil {
				return report, fmt.Errorf("shell: autosave: %w", err)
			}
			report.FinalText = result.Text
			report.Iterations = iteration + 1
			report.TouchedFiles = changes.Files()
			report.TotalUsage = e.recorder.Totals()
			return report, nil
		}

		outcome, err := e.runToolBatch(ctx, stepID, result, iteration, changes, fileCache, budget)
		if err != nil {
			return report, err
		}
		atCap := e.cfg.MaxToolIterationsPerUserTurn > 0 && iteration >= e.cfg.MaxToolIterationsPerUserTurn
		if !outcome.ShouldContinue || atCap {
			report.FinalText = result.Text
			report.Iterations = iteration + 1
			report.TouchedFiles = changes.Files()
			report.TotalUsage = e.recorder.Totals()
			return report, nil
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// estimateUsedTokens applies SPEC_FULL.md §3's chars/4 heuristic to the
// committed history, grounded on original_source's token_counter.rs and the
// teacher's EstimateMessageTokens.
func (e *Engine) estimateUsedTokens() int {
	chars := 0
	for _, entry := range e.history.Entries() {
		chars += len(entry.Message.Text) + len(entry.Message.Content) + len(entry.Message.Arguments)
	}
	return chars / 4
}

func (e *Engine) buildRequest() llm.Request {
	entries := e.history.Entries()
	messages := make([]llm.Message, len(entries))
	for i, entry := range entries {
		messages[i] = entry.Message
	}

	var tools []llm.ToolSpec
	for _, name := range e.registry.Names() {
		manifest, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		tools = append(tools, llm.ToolSpec{Name: name, Schema: manifest.Tool.Schema()})
	}

	return llm.Request{
		Model:      e.cfg.Model,
		Messages:   messages,
		Tools:      tools,
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceAuto},
	}
}
