package opstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachine_StartsIdle(t *testing.T) {
	m := NewMachine()
	require.Equal(t, KindIdle, m.Current().Kind)
}

func TestMachine_TransitionAndRestore(t *testing.T) {
	m := NewMachine()
	m.Transition(Streaming(42))
	require.Equal(t, KindStreaming, m.Current().Kind)
	require.EqualValues(t, 42, m.Current().StreamStepID)

	m.Restore()
	require.Equal(t, KindIdle, m.Current().Kind)
}

func TestMachine_ToolLoopPhases(t *testing.T) {
	m := NewMachine()
	m.Transition(ToolLoopProcessing(1, []string{"call_1", "call_2"}))
	require.Equal(t, KindToolLoop, m.Current().Kind)
	require.Equal(t, PhaseProcessing, m.Current().Phase)

	m.Transition(ToolLoopExecuting(1, "call_1", []string{"call_2"}))
	require.Equal(t, PhaseExecuting, m.Current().Phase)
	require.Equal(t, "call_1", m.Current().ActiveCallID)
}

func TestMachine_Edge(t *testing.T) {
	m := NewMachine()
	m.Transition(ToolLoopAwaitingApproval(1, []string{"call_1"}))
	isAwaiting := m.Edge(func(s State) bool {
		return s.Kind == KindToolLoop && s.Phase == PhaseAwaitingApproval
	})
	require.True(t, isAwaiting)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", Idle().String())
	require.Equal(t, "tool_loop(processing)", ToolLoopProcessing(1, nil).String())
}
