// Package stream implements the Streaming Controller (spec.md §4.7): it
// begins one provider request, owns a single streaming message, and makes
// the journal-append-before-apply ordering the rest of the engine relies on
// mechanically impossible to get wrong. Grounded on the teacher's
// internal/llm/engine.go Stream/runLoop and its callbackStream/cleanupStream
// wrapper chain, generalized from "accumulate text for a save callback" to
// "accumulate text AND tool-call fragments behind a durable journal write."
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/llm"
)

// Outcome describes how a streamed turn ended.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeAborted
	OutcomeErrored
	OutcomePlaceholder
)

// Result is what the controller hands back once a stream has fully drained.
type Result struct {
	Outcome          Outcome
	Text             string
	ThinkingText     string
	ThinkingSig      string
	PendingToolCalls []*llm.PendingToolCall
	Usage            llm.Usage
	Err              error
}

// Controller drives one llm.Stream to completion, journaling every event
// before folding it into the in-memory message, per spec.md §4.7.
type Controller struct {
	journal *journal.StreamJournal
	stepID  int64
}

func New(j *journal.StreamJournal, stepID int64) *Controller {
	return &Controller{journal: j, stepID: stepID}
}

// Run drains the stream until Done, Error, or ctx cancellation. Every event
// is appended to the journal before being applied to accumulated state —
// on append failure the stream is aborted immediately, never applying the
// un-journaled event, and the unsealed step is discarded rather than sealed.
func (c *Controller) Run(ctx context.Context, s llm.Stream) Result {
	var text, thinkingText, thinkingSig string
	var usage llm.Usage
	calls := llm.NewPendingToolCalls()
	seq := int64(0)

	appendDelta := func(kind journal.DeltaKind, payload any) error {
		seq++
		return c.journal.AppendDelta(c.stepID, seq, kind, payload)
	}

	for {
		select {
		case <-ctx.Done():
			c.abort()
			return Result{Outcome: OutcomeAborted, Text: text, Err: ctx.Err()}
		default:
		}

		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			// A stream must terminate with an explicit Done or Error event;
			// falling off the end without one means the adapter is broken.
			c.abort()
			return Result{Outcome: OutcomeAborted, Text: text, Err: fmt.Errorf("stream: ended without Done or Error")}
		}
		if err != nil {
			c.abort()
			return Result{Outcome: OutcomeAborted, Text: text, Err: err}
		}

		switch ev.Type {
		case llm.EventTextDelta:
			if appendErr := appendDelta(journal.DeltaText, ev.Text); appendErr != nil {
				c.abort()
				return Result{Outcome: OutcomeAborted, Text: text, Err: appendErr}
			}
			text += ev.Text

		case llm.EventThinkingDelta:
			if appendErr := appendDelta(journal.DeltaThinking, ev.Text); appendErr != nil {
				c.abort()
				return Result{Outcome: OutcomeAborted, Text: text, Err: appendErr}
			}
			thinkingText += ev.Text

		case llm.EventThinkingSignature:
			if appendErr := appendDelta(journal.DeltaThinkingSignature, ev.ThinkingSignature); appendErr != nil {
				c.abort()
				return Result{Outcome: OutcomeAborted, Text: text, Err: appendErr}
			}
			thinkingSig = ev.ThinkingSignature

		case llm.EventToolCallStart:
			if appendErr := appendDelta(journal.DeltaToolStart, ev); appendErr != nil {
				c.abort()
				return Result{Outcome: OutcomeAborted, Text: text, Err: appendErr}
			}
			calls.Observe(ev)

		case llm.EventToolCallDelta:
			if appendErr := appendDelta(journal.DeltaToolArgDelta, ev); appendErr != nil {
				c.abort()
				return Result{Outcome: OutcomeAborted, Text: text, Err: appendErr}
			}
			calls.Observe(ev)

		case llm.EventUsage:
			if ev.Usage != nil {
				usage.InputTokens += ev.Usage.InputTokens
				usage.OutputTokens += ev.Usage.OutputTokens
				usage.CachedInputTokens += ev.Usage.CachedInputTokens
				usage.CacheWriteTokens += ev.Usage.CacheWriteTokens
			}

		case llm.EventDone:
			if appendErr := appendDelta(journal.DeltaDone, nil); appendErr != nil {
				c.abort()
				return Result{Outcome: OutcomeAborted, Text: text, Err: appendErr}
			}
			if sealErr := c.journal.Seal(c.stepID, journal.OutcomeComplete); sealErr != nil {
				return Result{Outcome: OutcomeAborted, Text: text, Err: sealErr}
			}
			outcome := OutcomeCommitted
			if text == "" && len(calls.Finish()) == 0 {
				// Invariant (ii): no empty assistant message is ever
				// committed — an empty Done becomes an explanatory
				// placeholder instead.
				outcome = OutcomePlaceholder
			}
			return Result{
				Outcome: outcome, Text: text, ThinkingText: thinkingText, ThinkingSig: thinkingSig,
				PendingToolCalls: calls.Finish(), Usage: usage,
			}

		case llm.EventError:
			if appendErr := appendDelta(journal.DeltaError, ev.Err.Error()); appendErr != nil {
				c.abort()
				return Result{Outcome: OutcomeAborted, Text: text, Err: appendErr}
			}
			if sealErr := c.journal.Seal(c.stepID, journal.OutcomeIncomplete); sealErr != nil {
				return Result{Outcome: OutcomeAborted, Text: text, Err: sealErr}
			}
			// 9b: partial text is kept and committed with an
			// error-annotated note, not discarded.
			return Result{Outcome: OutcomeErrored, Text: text, ThinkingText: thinkingText, Err: ev.Err}
		}
	}
}

// abort discards the current unsealed step on a best-effort basis; it does
// not seal the step as Incomplete. A failure here is swallowed because the
// controller is already unwinding from a worse error.
func (c *Controller) abort() {
	_ = c.journal.DiscardUnsealed(c.stepID)
}
