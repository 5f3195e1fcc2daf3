package sse

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/forgeai/engine/internal/llm"
)

// Adapter translates one provider's JSON frame shape into the unified
// llm.Event vocabulary. Each provider package (internal/providers) supplies
// one.
type Adapter interface {
	// Decode parses a single frame's data payload into zero or more unified
	// events. Returning (nil, nil) for a frame that carries no user-visible
	// event (e.g. a ping) is valid.
	Decode(data string) ([]llm.Event, error)
}

// ItemIDMap maintains the small state map from provider-internal item-id to
// unified tool call-id named in spec.md §4.6 ("some providers emit
// arguments keyed by the output-item id, not the call id").
type ItemIDMap struct {
	toCallID map[string]string
}

func NewItemIDMap() *ItemIDMap {
	return &ItemIDMap{toCallID: make(map[string]string)}
}

func (m *ItemIDMap) Bind(itemID, callID string) {
	m.toCallID[itemID] = callID
}

func (m *ItemIDMap) CallID(itemID string) (string, bool) {
	id, ok := m.toCallID[itemID]
	return id, ok
}

// Stream drives a Reader through an Adapter, implementing llm.Stream. It
// owns the parse-error threshold and idle-timeout policy from spec.md §4.6
// so every provider adapter gets identical behaviour for free.
type Stream struct {
	reader   *Reader
	adapter  Adapter
	ctx      context.Context
	closer   io.Closer
	pending  []llm.Event
	consecutiveParseErrors int
	done     bool
}

func NewStream(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, adapter Adapter) *Stream {
	return &Stream{
		reader:  NewReader(body, idleTimeout),
		adapter: adapter,
		ctx:     ctx,
		closer:  body,
	}
}

func (s *Stream) Recv() (llm.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return llm.Event{}, io.EOF
		}

		frame, err := s.reader.ReadFrame(s.ctx)
		if err != nil {
			if err == io.EOF {
				return llm.Event{}, fmt.Errorf("sse: stream ended without a Done event: %w", io.ErrUnexpectedEOF)
			}
			if err == ErrIdleTimeout {
				s.done = true
				return llm.Event{Type: llm.EventError, Err: ErrIdleTimeout}, nil
			}
			return llm.Event{}, err
		}

		if frame.Data == DoneSentinel {
			s.done = true
			return llm.Event{Type: llm.EventDone}, nil
		}
		if frame.Data == "" {
			continue
		}

		events, decodeErr := s.adapter.Decode(frame.Data)
		if decodeErr != nil {
			s.consecutiveParseErrors++
			if s.consecutiveParseErrors >= maxConsecutiveParseErrors {
				s.done = true
				return llm.Event{Type: llm.EventError, Err: fmt.Errorf("sse: %d consecutive invalid payloads: %w", maxConsecutiveParseErrors, decodeErr)}, nil
			}
			continue
		}
		s.consecutiveParseErrors = 0
		if len(events) == 0 {
			continue
		}
		s.pending = events
	}
}

func (s *Stream) Close() error {
	return s.closer.Close()
}
