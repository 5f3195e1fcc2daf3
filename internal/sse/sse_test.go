package sse

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/forgeai/engine/internal/llm"
	"github.com/stretchr/testify/require"
)

type echoAdapter struct {
	fail bool
}

func (e *echoAdapter) Decode(data string) ([]llm.Event, error) {
	if e.fail {
		return nil, fmt.Errorf("boom")
	}
	return []llm.Event{{Type: llm.EventTextDelta, Text: data}}, nil
}

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func TestStream_ReadsTextDeltasUntilDone(t *testing.T) {
	body := "data: hello\n\n" + "data: world\n\n" + "data: [DONE]\n\n"
	s := NewStream(context.Background(), nopCloser{strings.NewReader(body)}, time.Second, &echoAdapter{})

	ev1, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, llm.EventTextDelta, ev1.Type)
	require.Equal(t, "hello", ev1.Text)

	ev2, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, "world", ev2.Text)

	ev3, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, llm.EventDone, ev3.Type)
}

func TestStream_ParseErrorThresholdEmitsError(t *testing.T) {
	body := "data: a\n\n" + "data: b\n\n" + "data: c\n\n"
	s := NewStream(context.Background(), nopCloser{strings.NewReader(body)}, time.Second, &echoAdapter{fail: true})

	ev, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, llm.EventError, ev.Type)
	require.Error(t, ev.Err)
}

func TestFrame_ConcatenatesMultilineData(t *testing.T) {
	body := "data: line1\ndata: line2\n\n"
	r := NewReader(nopCloser{strings.NewReader(body)}, time.Second)
	frame, err := r.ReadFrame(context.Background())
	require.NoError(t, err)
	require.Equal(t, "line1\nline2", frame.Data)
}

func TestFrame_ToleratesCRLF(t *testing.T) {
	body := "data: hi\r\n\r\n"
	r := NewReader(nopCloser{strings.NewReader(body)}, time.Second)
	frame, err := r.ReadFrame(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hi", frame.Data)
}
