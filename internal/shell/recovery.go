package shell

import (
	"encoding/json"
	"fmt"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/llm"
	"github.com/forgeai/engine/internal/opstate"
	"github.com/forgeai/engine/internal/toolloop"
)

// RecoveryDecision is the user's choice for a pending tool batch found at
// startup, per spec.md §4.8.7.
type RecoveryDecision int

const (
	RecoveryResume RecoveryDecision = iota
	RecoveryDiscard
)

// PendingRecovery is surfaced to the CLI layer when Recover finds an
// uncommitted batch; Resolve finishes the crash-recovery commit.
type PendingRecovery struct {
	BatchID       int64
	Model         string
	AssistantText string
	CallNames     []string
}

// Recover inspects both journals at startup, per spec.md §4.8.7:
//   - an unsealed stream step becomes a "recovered partial" assistant
//     message appended to history;
//   - at most one uncommitted tool batch puts the engine in ToolRecovery and
//     must be resolved via ResolveRecovery before RunTurn can proceed.
//
// Returns the pending recovery, or nil if the tool journal had nothing to
// resolve (stream-step recovery, if any, still runs either way).
func (e *Engine) Recover() (*PendingRecovery, error) {
	step, err := e.streamJournal.Recover()
	if err != nil {
		return nil, fmt.Errorf("shell: recover stream journal: %w", err)
	}
	if step != nil {
		text := recoveredPartialText(step)
		if text != "" {
			e.history.Append(llm.NewAssistantMessage(text+"\n[recovered partial, interrupted before completion]", ""), 0)
		}
	}

	batch, err := e.toolJournal.Recover()
	if err != nil {
		return nil, fmt.Errorf("shell: recover tool journal: %w", err)
	}
	if batch == nil {
		e.machine.Transition(opstate.Idle())
		return nil, nil
	}

	names := make([]string, len(batch.Calls))
	for i, c := range batch.Calls {
		names[i] = c.Name
	}
	e.machine.Transition(opstate.ToolRecovery(batch.BatchID))
	e.pendingRecoveryBatch = batch
	return &PendingRecovery{BatchID: batch.BatchID, Model: batch.Model, AssistantText: batch.AssistantText, CallNames: names}, nil
}

// ResolveRecovery finishes the crash-recovered batch per the user's
// decision: Resume fills missing results with "Tool result missing after
// crash", Discard fills every call with "Tool results discarded after
// crash". Either way the batch is committed and the returned outcome has
// ShouldContinue set; ResolveRecovery does not stream itself — the caller
// starts the follow-on request (RunTurn with empty text) with those results
// appended, per spec.md §4.8.7's worked example.
func (e *Engine) ResolveRecovery(decision RecoveryDecision) (toolloop.CommitOutcome, error) {
	batch := e.pendingRecoveryBatch
	if batch == nil {
		return toolloop.CommitOutcome{}, fmt.Errorf("shell: no pending recovery batch")
	}

	existing := make(map[string]journal.ResultRecord, len(batch.Results))
	for _, r := range batch.Results {
		existing[r.CallID] = r
	}

	calls := make([]toolloop.Call, len(batch.Calls))
	results := make([]toolloop.ExecutedResult, len(batch.Calls))
	for i, c := range batch.Calls {
		calls[i] = toolloop.Call{ID: c.ID, Name: c.Name, Arguments: c.Arguments}

		if decision == RecoveryResume {
			if r, ok := existing[c.ID]; ok {
				results[i] = toolloop.ExecutedResult{CallID: r.CallID, Name: c.Name, Content: r.Content, IsError: r.IsError}
				continue
			}
			results[i] = toolloop.ExecutedResult{CallID: c.ID, Name: c.Name, Content: "Tool result missing after crash", IsError: true}
			_ = e.toolJournal.RecordResult(batch.BatchID, journal.ResultRecord{CallID: c.ID, Content: results[i].Content, IsError: true})
			continue
		}

		results[i] = toolloop.ExecutedResult{CallID: c.ID, Name: c.Name, Content: "Tool results discarded after crash", IsError: true}
		if _, ok := existing[c.ID]; !ok {
			_ = e.toolJournal.RecordResult(batch.BatchID, journal.ResultRecord{CallID: c.ID, Content: results[i].Content, IsError: true})
		}
	}

	outcome, err := e.committer.Commit(toolloop.CommitInput{
		StepID:          batch.StepID,
		BatchID:         batch.BatchID,
		Model:           batch.Model,
		ThinkingText:    batch.ThinkingReplay,
		PersistThinking: batch.ThinkingReplay != "",
		AssistantText:   batch.AssistantText,
		Calls:           calls,
		Results:         results,
		HasFollowOn:     true,
	})
	e.pendingRecoveryBatch = nil
	if err != nil {
		return outcome, fmt.Errorf("shell: commit recovered batch: %w", err)
	}
	return outcome, nil
}

func recoveredPartialText(step *journal.RecoveredStep) string {
	var text string
	for _, d := range step.Deltas {
		if d.Kind != journal.DeltaText {
			continue
		}
		var chunk string
		if err := json.Unmarshal(d.Payload, &chunk); err == nil {
			text += chunk
		}
	}
	return text
}
