// Package llm holds the engine's provider-facing domain vocabulary: the
// unified Message/History model, the Request/Event types a Provider speaks,
// and the Provider interface itself. Wire formats are built at each
// provider's boundary and never leak inward (see internal/providers).
package llm

import (
	"encoding/json"
	"time"
)

// Kind identifies which variant of the Message sum type a value holds.
type Kind string

const (
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
)

// Message is a tagged variant over {System, User, Assistant, Thinking,
// ToolUse, ToolResult}. Only the fields relevant to Kind are meaningful;
// this mirrors a Rust enum's per-variant payload without resorting to an
// interface, which would make History's append-only slice awkward to
// serialize into the journal and session stores.
type Message struct {
	Kind      Kind
	CreatedAt time.Time

	// System, User, Assistant, Thinking
	Text string

	// Assistant only: the model identifier that produced this message.
	Model string

	// Thinking only: opaque signature used to round-trip reasoning to
	// providers that require it on the next turn (e.g. Anthropic extended
	// thinking). Empty when the provider doesn't use one.
	ThinkingSignature string

	// ToolUse, ToolResult
	CallID   string
	ToolName string

	// ToolUse only: structured arguments as received from the provider.
	Arguments json.RawMessage

	// ToolResult only
	Content string
	IsError bool
}

func NewSystemMessage(text string) Message {
	return Message{Kind: KindSystem, Text: text, CreatedAt: time.Now()}
}

func NewUserMessage(text string) Message {
	return Message{Kind: KindUser, Text: text, CreatedAt: time.Now()}
}

func NewAssistantMessage(text, model string) Message {
	return Message{Kind: KindAssistant, Text: text, Model: model, CreatedAt: time.Now()}
}

func NewThinkingMessage(text, signature string) Message {
	return Message{Kind: KindThinking, Text: text, ThinkingSignature: signature, CreatedAt: time.Now()}
}

func NewToolUseMessage(callID, toolName string, args json.RawMessage) Message {
	return Message{Kind: KindToolUse, CallID: callID, ToolName: toolName, Arguments: args, CreatedAt: time.Now()}
}

func NewToolResultMessage(callID, toolName, content string, isError bool) Message {
	return Message{Kind: KindToolResult, CallID: callID, ToolName: toolName, Content: content, IsError: isError, CreatedAt: time.Now()}
}

// IsEmptyAssistant reports whether an Assistant message has no content,
// which invariant (ii) forbids ever committing to history.
func (m Message) IsEmptyAssistant() bool {
	return m.Kind == KindAssistant && m.Text == ""
}
