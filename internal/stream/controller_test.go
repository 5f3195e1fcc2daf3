package stream

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/llm"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *journal.StreamJournal {
	t.Helper()
	dir := t.TempDir()
	db, err := journal.Open(filepath.Join(dir, "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return journal.NewStreamJournal(db, nil)
}

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

func TestController_CommitsTextOnDone(t *testing.T) {
	j := newTestJournal(t)
	stepID, err := j.BeginSession()
	require.NoError(t, err)

	c := New(j, stepID)
	s := &fakeStream{events: []llm.Event{
		{Type: llm.EventTextDelta, Text: "hello "},
		{Type: llm.EventTextDelta, Text: "world"},
		{Type: llm.EventDone},
	}}

	res := c.Run(context.Background(), s)
	require.Equal(t, OutcomeCommitted, res.Outcome)
	require.Equal(t, "hello world", res.Text)
}

func TestController_EmptyDoneBecomesPlaceholder(t *testing.T) {
	j := newTestJournal(t)
	stepID, err := j.BeginSession()
	require.NoError(t, err)

	c := New(j, stepID)
	s := &fakeStream{events: []llm.Event{{Type: llm.EventDone}}}

	res := c.Run(context.Background(), s)
	require.Equal(t, OutcomePlaceholder, res.Outcome)
	require.Empty(t, res.Text)
}

func TestController_ErrorKeepsPartialText(t *testing.T) {
	j := newTestJournal(t)
	stepID, err := j.BeginSession()
	require.NoError(t, err)

	c := New(j, stepID)
	boom := errors.New("boom")
	s := &fakeStream{events: []llm.Event{
		{Type: llm.EventTextDelta, Text: "partial"},
		{Type: llm.EventError, Err: boom},
	}}

	res := c.Run(context.Background(), s)
	require.Equal(t, OutcomeErrored, res.Outcome)
	require.Equal(t, "partial", res.Text)
	require.ErrorIs(t, res.Err, boom)
}

func TestController_EOFWithoutDoneIsAborted(t *testing.T) {
	j := newTestJournal(t)
	stepID, err := j.BeginSession()
	require.NoError(t, err)

	c := New(j, stepID)
	s := &fakeStream{events: []llm.Event{{Type: llm.EventTextDelta, Text: "oops"}}}

	res := c.Run(context.Background(), s)
	require.Equal(t, OutcomeAborted, res.Outcome)
	require.Error(t, res.Err)
}

func TestController_ToolCallAccumulation(t *testing.T) {
	j := newTestJournal(t)
	stepID, err := j.BeginSession()
	require.NoError(t, err)

	c := New(j, stepID)
	s := &fakeStream{events: []llm.Event{
		{Type: llm.EventToolCallStart, CallID: "call_1", ToolName: "read_file"},
		{Type: llm.EventToolCallDelta, CallID: "call_1", ArgsFragment: `{"path":`},
		{Type: llm.EventToolCallDelta, CallID: "call_1", ArgsFragment: `"a.go"}`},
		{Type: llm.EventDone},
	}}

	res := c.Run(context.Background(), s)
	require.Equal(t, OutcomeCommitted, res.Outcome)
	require.Len(t, res.PendingToolCalls, 1)
	require.Equal(t, "read_file", res.PendingToolCalls[0].Name)
	require.JSONEq(t, `{"path":"a.go"}`, string(res.PendingToolCalls[0].Arguments()))
}
