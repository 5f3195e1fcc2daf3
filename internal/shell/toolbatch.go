package shell

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/opstate"
	"github.com/forgeai/engine/internal/stream"
	"github.com/forgeai/engine/internal/toolapi"
	"github.com/forgeai/engine/internal/toolloop"
)

// runToolBatch carries one streamed turn's pending tool calls through
// planning, approval resolution, sequenced execution, and commit — spec.md
// §4.8.2 through §4.8.6 — returning whether a follow-on streaming request
// should be enqueued.
func (e *Engine) runToolBatch(
	ctx context.Context,
	stepID int64,
	result stream.Result,
	iteration int,
	changes *toolapi.ChangeRecorder,
	fileCache *toolapi.FileCache,
	budget *toolloop.ContextBudget,
) (toolloop.CommitOutcome, error) {
	calls := make([]toolloop.Call, len(result.PendingToolCalls))
	callRecords := make([]journal.CallRecord, len(result.PendingToolCalls))
	for i, pc := range result.PendingToolCalls {
		args := json.RawMessage(pc.Arguments())
		calls[i] = toolloop.Call{ID: pc.CallID, Name: pc.Name, Arguments: args}
		callRecords[i] = journal.CallRecord{ID: pc.CallID, Name: pc.Name, Arguments: args}
	}

	batchID, err := e.toolJournal.BeginBatch(stepID, e.cfg.Model, result.Text, result.ThinkingText, callRecords)
	if err != nil {
		return toolloop.CommitOutcome{}, fmt.Errorf("shell: begin tool batch: %w", err)
	}

	if disabled, reason := e.gate.Disabled(); disabled {
		results := make([]toolloop.ExecutedResult, len(calls))
		for i, c := range calls {
			results[i] = toolloop.ExecutedResult{CallID: c.ID, Name: c.Name, Content: fmt.Sprintf("tool gate disabled: %s", reason), IsError: true}
		}
		return e.commitBatch(stepID, batchID, result, calls, results)
	}

	plan := e.planner.Plan(calls, iteration, e.cfg.MaxToolIterationsPerUserTurn)

	executeNow := plan.ExecuteNow
	var deniedResolved []toolloop.Resolved

	if len(plan.ApprovalCalls) > 0 {
		pendingIDs := make([]string, len(plan.ApprovalCalls))
		for i, c := range plan.ApprovalCalls {
			pendingIDs[i] = c.ID
		}
		e.machine.Transition(opstate.ToolLoopAwaitingApproval(batchID, pendingIDs))

		decision, selected := e.approve(ctx, plan.ApprovalRequests)
		toExecute, denied, _ := toolloop.ResolveApproval(decision, plan.ApprovalCalls, selected)
		executeNow = append(executeNow, toExecute...)
		deniedResolved = denied
	}

	queue := make([]string, len(executeNow))
	for i, c := range executeNow {
		queue[i] = c.ID
	}
	e.machine.Transition(opstate.ToolLoopProcessing(batchID, queue))

	ctxBuilder := func(callID string, outputCap int) *toolapi.Ctx {
		return &toolapi.Ctx{
			Sandbox:           e.sandbox,
			Env:               e.env,
			CallID:            callID,
			WorkingDir:        e.cfg.WorkingDir,
			Changes:           changes,
			FileCache:         fileCache,
			CommandDeny:       e.cfg.CommandDeny,
			MaxOutputBytes:    e.cfg.MaxOutputBytes,
			RemainingCapacity: outputCap,
			RecordProcess: func(pid int, startedAtMs int64) {
				_ = e.toolJournal.RecordCallProcess(batchID, callID, pid, startedAtMs)
			},
		}
	}

	executed := e.executor.RunQueue(ctx, batchID, executeNow, ctxBuilder, budget)

	results := make([]toolloop.ExecutedResult, 0, len(plan.PreResolved)+len(deniedResolved)+len(executed))
	for _, r := range plan.PreResolved {
		results = append(results, toolloop.ExecutedResult{CallID: r.CallID, Name: r.Name, Content: r.Content, IsError: r.IsError})
	}
	for _, r := range deniedResolved {
		results = append(results, toolloop.ExecutedResult{CallID: r.CallID, Name: r.Name, Content: r.Content, IsError: r.IsError})
	}
	results = append(results, executed...)

	return e.commitBatch(stepID, batchID, result, calls, results)
}

func (e *Engine) commitBatch(stepID, batchID int64, result stream.Result, calls []toolloop.Call, results []toolloop.ExecutedResult) (toolloop.CommitOutcome, error) {
	outcome, err := e.committer.Commit(toolloop.CommitInput{
		StepID:          stepID,
		BatchID:         batchID,
		Model:           e.cfg.Model,
		ThinkingText:    result.ThinkingText,
		ThinkingSig:     result.ThinkingSig,
		PersistThinking: result.ThinkingText != "",
		AssistantText:   result.Text,
		Calls:           calls,
		Results:         results,
		HasFollowOn:     true,
	})
	if err != nil {
		return outcome, fmt.Errorf("shell: commit tool batch: %w", err)
	}
	return outcome, nil
}
