// Package toolloop implements the engine's hot core (spec.md §4.8): batch
// planning, approval resolution, sequenced execution, and canonical-order
// commit. Grounded on the teacher's internal/llm/engine.go runLoop /
// executeToolCalls / executeSingleToolCallSafe, generalised from the
// teacher's "just run every call" loop into the planning/approval/execution
// pipeline spec.md names explicitly.
package toolloop

import (
	"fmt"
	"sync"
)

// Gate is the process-wide tool-execution latch (SPEC_FULL.md §3's
// supplemented "tool gate one-way latch" feature, grounded on
// original_source's JournalStatus::Disabled cascade). Once disabled it never
// re-enables within the process lifetime — only a restart with a healthy
// journal clears it, matching spec.md §4.8.1's "future tool calls in this
// turn and beyond are pre-resolved to errors until the process restarts."
type Gate struct {
	mu       sync.Mutex
	disabled bool
	reason   string
}

func NewGate() *Gate {
	return &Gate{}
}

// Disable latches the gate closed. Calling it again after it is already
// disabled keeps the first reason, since the first journal failure is what
// a user needs to see.
func (g *Gate) Disable(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled {
		return
	}
	g.disabled = true
	g.reason = reason
}

func (g *Gate) Disabled() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled, g.reason
}

// DisabledError formats the reason as a tool-facing message, used to
// pre-resolve every call once the gate has latched.
func (g *Gate) DisabledError() error {
	_, reason := g.Disabled()
	return fmt.Errorf("tool gate disabled: %s", reason)
}
