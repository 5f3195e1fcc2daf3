package llm

// EventType tags the variant carried by an Event. This is the unified
// vocabulary every provider adapter normalises its own dialect into before
// handing a Stream to the rest of the engine — Anthropic's SSE shapes,
// OpenAI's delta shapes, and Gemini's candidate shapes all collapse to this
// same set, grounded on the teacher's openai_compat.go / gemini_cli.go
// dialect handling.
type EventType string

const (
	EventTextDelta         EventType = "text_delta"
	EventThinkingDelta     EventType = "thinking_delta"
	EventThinkingSignature EventType = "thinking_signature"
	EventToolCallStart     EventType = "tool_call_start"
	EventToolCallDelta     EventType = "tool_call_delta"
	EventUsage             EventType = "usage"
	EventDone              EventType = "done"
	EventError             EventType = "error"
)

// Event is a tagged variant over the unified provider event vocabulary. As
// with Message, only the fields relevant to Type are meaningful; a Stream
// implementation populates exactly one shape per Recv call.
type Event struct {
	Type EventType

	// EventTextDelta, EventThinkingDelta
	Text string

	// EventThinkingSignature
	ThinkingSignature string

	// EventToolCallStart, EventToolCallDelta: CallID identifies the tool
	// call across however many delta events it takes to arrive. Name and
	// ThoughtSignature are only ever populated on ToolCallStart.
	CallID          string
	ToolName        string
	ThoughtSignature string

	// EventToolCallDelta: a fragment of the tool call's JSON arguments.
	// Fragments are concatenated in arrival order; the whole is only valid
	// JSON once the stream reaches EventDone.
	ArgsFragment string

	// EventUsage
	Usage *Usage

	// EventError
	Err error
}

// PendingToolCall accumulates ToolCallStart/ToolCallDelta events into a
// complete call, mirroring the teacher's toolState.Add(choice.Delta.ToolCalls)
// accumulation in openai_compat.go. One PendingToolCall exists per CallID for
// the lifetime of a single streamed turn.
type PendingToolCall struct {
	CallID           string
	Name             string
	ThoughtSignature string
	argsBuf          []byte
}

// NewPendingToolCall starts accumulation for a ToolCallStart event.
func NewPendingToolCall(ev Event) *PendingToolCall {
	return &PendingToolCall{
		CallID:           ev.CallID,
		Name:             ev.ToolName,
		ThoughtSignature: ev.ThoughtSignature,
	}
}

// AddDelta appends a ToolCallDelta fragment in arrival order.
func (p *PendingToolCall) AddDelta(ev Event) {
	p.argsBuf = append(p.argsBuf, ev.ArgsFragment...)
}

// Arguments returns the accumulated raw JSON, or "{}" if the provider never
// sent a single fragment (some tools take no arguments).
func (p *PendingToolCall) Arguments() []byte {
	if len(p.argsBuf) == 0 {
		return []byte("{}")
	}
	return p.argsBuf
}

// PendingToolCalls tracks every in-flight call for one streamed turn, keyed
// by provider-assigned CallID, and yields them in first-seen order once the
// stream completes — preserving the order models actually emitted them in,
// which downstream batch planning depends on.
type PendingToolCalls struct {
	order []string
	byID  map[string]*PendingToolCall
}

func NewPendingToolCalls() *PendingToolCalls {
	return &PendingToolCalls{byID: make(map[string]*PendingToolCall)}
}

// Observe feeds one event into the accumulator. Non tool-call events are
// ignored so callers can pass every event through unconditionally.
func (p *PendingToolCalls) Observe(ev Event) {
	switch ev.Type {
	case EventToolCallStart:
		if _, exists := p.byID[ev.CallID]; !exists {
			p.order = append(p.order, ev.CallID)
		}
		p.byID[ev.CallID] = NewPendingToolCall(ev)
	case EventToolCallDelta:
		if pc, ok := p.byID[ev.CallID]; ok {
			pc.AddDelta(ev)
		}
	}
}

// Finish returns the accumulated calls in first-seen order.
func (p *PendingToolCalls) Finish() []*PendingToolCall {
	out := make([]*PendingToolCall, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}
