package toolloop

import (
	"encoding/json"
	"fmt"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/llm"
	"github.com/forgeai/engine/internal/opstate"
)

// CommitInput bundles everything commit_tool_batch needs, per spec.md
// §4.8.6.
type CommitInput struct {
	StepID         int64
	BatchID        int64
	Model          string
	ThinkingText   string
	ThinkingSig    string
	PersistThinking bool
	AssistantText  string
	Calls          []Call
	Results        []ExecutedResult // in execute-queue order
	HasFollowOn    bool             // the stream had tool calls to resolve
}

// AutosaveFunc persists history to the session store; commit treats any
// error as autosave failure, per spec.md §4.8.6 step 5.
type AutosaveFunc func(h *llm.History) error

// Committer performs spec.md §4.8.6's commit_tool_batch in order.
type Committer struct {
	history      *llm.History
	streamJournal *journal.StreamJournal
	toolJournal  *journal.ToolJournal
	machine      *opstate.Machine
	gate         *Gate
	autosave     AutosaveFunc
}

func NewCommitter(h *llm.History, sj *journal.StreamJournal, tj *journal.ToolJournal, m *opstate.Machine, gate *Gate, autosave AutosaveFunc) *Committer {
	return &Committer{history: h, streamJournal: sj, toolJournal: tj, machine: m, gate: gate, autosave: autosave}
}

// CommitOutcome reports whether a follow-on streaming request should be
// enqueued, per step 6.
type CommitOutcome struct {
	ShouldContinue bool
	AppendedIDs    []llm.MessageID
}

// Commit runs the six numbered steps of spec.md §4.8.6.
func (c *Committer) Commit(in CommitInput) (CommitOutcome, error) {
	// 1. Transition to Idle.
	c.machine.Transition(opstate.Idle())

	// 2. Canonical order: thinking, assistant-text, ToolUse(s), ToolResult(s).
	var msgs []llm.Message
	if in.PersistThinking && in.ThinkingText != "" {
		msgs = append(msgs, llm.NewThinkingMessage(in.ThinkingText, in.ThinkingSig))
	}
	if in.AssistantText != "" {
		msgs = append(msgs, llm.NewAssistantMessage(in.AssistantText, in.Model))
	}
	for _, call := range in.Calls {
		msgs = append(msgs, llm.NewToolUseMessage(call.ID, call.Name, json.RawMessage(call.Arguments)))
	}

	// 3. Missing results are filled with synthetic errors.
	resultByCallID := make(map[string]ExecutedResult, len(in.Results))
	for _, r := range in.Results {
		resultByCallID[r.CallID] = r
	}
	for _, call := range in.Calls {
		r, ok := resultByCallID[call.ID]
		if !ok {
			r = ExecutedResult{CallID: call.ID, Name: call.Name, Content: "missing tool result", IsError: true}
		}
		msgs = append(msgs, llm.NewToolResultMessage(r.CallID, r.Name, r.Content, r.IsError))
	}

	if len(msgs) == 0 {
		return CommitOutcome{}, nil
	}
	ids := c.history.AppendBatch(msgs)

	// 4. Autosave.
	if err := c.autosave(c.history); err != nil {
		// 6. Autosave failure: finish the turn instead of resuming, to
		// prevent double-application on the next start.
		return CommitOutcome{ShouldContinue: false, AppendedIDs: ids}, fmt.Errorf("toolloop: autosave failed: %w", err)
	}

	// 5. On autosave success, seal the stream step and commit the batch.
	if sealErr := c.streamJournal.Seal(in.StepID, journal.OutcomeComplete); sealErr != nil {
		c.gate.Disable(fmt.Sprintf("failed to seal stream step %d after commit: %v", in.StepID, sealErr))
	}
	if commitErr := c.toolJournal.CommitBatch(in.BatchID); commitErr != nil {
		// Commit failure disables the gate; a deferred cleanup retry is the
		// caller's responsibility (e.g. a periodic reconciliation tick),
		// since this package has no background scheduler of its own.
		c.gate.Disable(fmt.Sprintf("failed to commit tool batch %d: %v", in.BatchID, commitErr))
	}

	// 6. Continuation.
	return CommitOutcome{ShouldContinue: in.HasFollowOn, AppendedIDs: ids}, nil
}
