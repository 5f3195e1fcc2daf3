// Package opstate implements the engine's single operation-state variable
// (spec.md §4.9): a sum type with exactly Idle, Streaming, ToolLoop{phase},
// PlanApproval, and ToolRecovery members. Grounded on the teacher's
// tool_loop.rs OperationState/JournalStatus enum (no direct Go analogue in
// sam-saffron-jarvis-term-llm, which drives its tool loop with plain
// sequential calls rather than an explicit state machine) — this package is
// the Go rendition of that Rust sum type using a tagged struct, the same
// idiom internal/llm.Message already uses for its own sum type.
package opstate

import "fmt"

// Kind tags which OperationState variant is current.
type Kind string

const (
	KindIdle         Kind = "idle"
	KindStreaming    Kind = "streaming"
	KindToolLoop     Kind = "tool_loop"
	KindPlanApproval Kind = "plan_approval"
	KindToolRecovery Kind = "tool_recovery"
)

// ToolLoopPhase tags which sub-phase a ToolLoop state is in.
type ToolLoopPhase string

const (
	PhaseAwaitingApproval ToolLoopPhase = "awaiting_approval"
	PhaseProcessing       ToolLoopPhase = "processing"
	PhaseExecuting        ToolLoopPhase = "executing"
)

// State is the tagged variant over OperationState. Only the fields relevant
// to Kind are meaningful, mirroring internal/llm.Message's approach to a
// Rust-style enum without an interface indirection.
type State struct {
	Kind Kind

	// Streaming only: correlates with the active stream journal step.
	StreamStepID int64

	// ToolLoop only.
	Phase         ToolLoopPhase
	BatchID       int64
	PendingIDs    []string // AwaitingApproval: calls parked for a decision
	ExecuteQueue  []string // Processing: remaining call-ids in FIFO order
	ActiveCallID  string   // Executing: the one in-flight call

	// PlanApproval only.
	PlanID int64

	// ToolRecovery only.
	RecoveredBatchID int64
}

func Idle() State { return State{Kind: KindIdle} }

func Streaming(stepID int64) State {
	return State{Kind: KindStreaming, StreamStepID: stepID}
}

func ToolLoopAwaitingApproval(batchID int64, pendingIDs []string) State {
	return State{Kind: KindToolLoop, Phase: PhaseAwaitingApproval, BatchID: batchID, PendingIDs: pendingIDs}
}

func ToolLoopProcessing(batchID int64, queue []string) State {
	return State{Kind: KindToolLoop, Phase: PhaseProcessing, BatchID: batchID, ExecuteQueue: queue}
}

func ToolLoopExecuting(batchID int64, activeCallID string, queue []string) State {
	return State{Kind: KindToolLoop, Phase: PhaseExecuting, BatchID: batchID, ActiveCallID: activeCallID, ExecuteQueue: queue}
}

func PlanApproval(planID, batchID int64, pendingIDs []string) State {
	return State{Kind: KindPlanApproval, PlanID: planID, BatchID: batchID, PendingIDs: pendingIDs}
}

func ToolRecovery(batchID int64) State {
	return State{Kind: KindToolRecovery, RecoveredBatchID: batchID}
}

func (s State) String() string {
	if s.Kind == KindToolLoop {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Phase)
	}
	return string(s.Kind)
}

// Machine holds the single current OperationState and provides the three
// named transition primitives spec.md §4.9 describes. It is not
// goroutine-safe by design — the engine is a cooperative single-threaded
// event loop (spec.md §5) and the machine is owned by that loop alone.
type Machine struct {
	current  State
	previous State
}

func NewMachine() *Machine {
	return &Machine{current: Idle()}
}

func (m *Machine) Current() State {
	return m.current
}

// Transition commits to a new state, remembering the prior one so a failed
// transition (panic between steps) can be rolled back with Restore.
func (m *Machine) Transition(next State) {
	m.previous = m.current
	m.current = next
}

// Restore reverts to the state recorded before the most recent Transition,
// used after a read-only peek or a panic recovery that must not leave the
// machine mid-transition.
func (m *Machine) Restore() {
	m.current = m.previous
}

// Edge reports whether the given predicate holds for the current state,
// guarding turn boundaries the way spec.md's op_edge(Event) does — callers
// pass a closure rather than an event type since Go lacks pattern matching
// on sum types.
func (m *Machine) Edge(guard func(State) bool) bool {
	return guard(m.current)
}
